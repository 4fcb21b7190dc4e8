// Package gate scores raw page signals and picks an extraction mode.
//
// The score is a pure function of the page features: cheap static parsing
// for content-rich pages, headless rendering for SPA shells, and a
// probe-then-escalate path for everything in between.
package gate

import (
	"math"
	"math/bits"
)

// Decision is the extraction mode chosen for a page.
type Decision int

const (
	// Raw extracts directly from the fetched HTML.
	Raw Decision = iota
	// ProbesFirst tries the fast path and escalates on poor quality.
	ProbesFirst
	// Headless renders the page in a browser before extracting.
	Headless
)

func (d Decision) String() string {
	switch d {
	case Raw:
		return "raw"
	case ProbesFirst:
		return "probes_first"
	case Headless:
		return "headless"
	default:
		return "unknown"
	}
}

// ParseDecision maps a mode name back to a Decision. Returns ProbesFirst
// and false for unknown names.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "raw":
		return Raw, true
	case "probes_first":
		return ProbesFirst, true
	case "headless":
		return Headless, true
	default:
		return ProbesFirst, false
	}
}

// SPA marker bits carried in Features.SpaMarkerFlags.
const (
	SpaHydrationMarker byte = 1 << iota // framework hydration payloads (__NEXT_DATA__ etc.)
	SpaFrameworkRoot                    // empty #root / #app / #__next container
	SpaLargeBundle                      // oversized inline JS relative to the page
	SpaOnlyContent                      // almost no visible text in a non-trivial document
)

// Features are the immutable page signals the gate scores.
// All inputs must be sanitized upstream: counts are plain uints and
// DomainPrior is clamped to [0,1], so Score never sees NaN or infinity.
type Features struct {
	HTMLBytes         uint
	VisibleTextChars  uint
	ParagraphCount    uint
	ArticleTagCount   uint
	HeadingCount      uint
	ScriptBytes       uint
	HasOpenGraphTitle bool
	HasJSONLDArticle  bool
	SpaMarkerFlags    byte
	DomainPrior       float64 // historical success rate for this domain, [0,1]
}

// Score computes the content-quality score in [0,1]. Deterministic and pure.
//
// Higher means "static extraction will very likely work"; lower means the
// page depends on JavaScript to produce its content.
func Score(f Features) float64 {
	var textRatio, scriptDensity float64
	if f.HTMLBytes > 0 {
		textRatio = float64(f.VisibleTextChars) / float64(f.HTMLBytes)
		scriptDensity = float64(f.ScriptBytes) / float64(f.HTMLBytes)
	}

	s := clamp(textRatio*1.2, 0, 0.6)
	s += clamp(math.Log(float64(f.ParagraphCount)+1)*0.06, 0, 0.3)

	if f.ArticleTagCount > 0 {
		s += 0.15
	}
	if f.HasOpenGraphTitle {
		s += 0.08
	}
	if f.HasJSONLDArticle {
		s += 0.12
	}

	s -= clamp(scriptDensity*0.8, 0, 0.4)

	if bits.OnesCount8(f.SpaMarkerFlags) >= 2 {
		s -= 0.25
	}

	s += (f.DomainPrior - 0.5) * 0.1

	return clamp(s, 0, 1)
}

// Decide picks the extraction mode for the given features.
//
// Three or more SPA markers force Headless regardless of the score: pages
// that hydrate everything client-side routinely fool the text-ratio terms.
func Decide(f Features, hiThreshold, loThreshold float64) Decision {
	if bits.OnesCount8(f.SpaMarkerFlags) >= 3 {
		return Headless
	}
	s := Score(f)
	switch {
	case s >= hiThreshold:
		return Raw
	case s <= loThreshold:
		return Headless
	default:
		return ProbesFirst
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
