package gate

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Thresholds for the SPA marker probes. These mirror the heuristics used by
// the escalation dispatcher: a large inline bundle or a starved body are the
// strongest signals that static parsing will come back empty.
const (
	largeBundleBytes   = 256 << 10
	largeBundleScripts = 20
	shellMinHTMLBytes  = 5000
	shellMaxTextChars  = 200
)

// Compiled once; matching runs on every scan.
var (
	selEmptyRoot = cascadia.MustCompile(`div#root:empty, div#app:empty, div#__next:empty`)
	selAnyRoot   = cascadia.MustCompile(`div#root, div#app, div#__next, [data-reactroot]`)
	selMetaOG    = cascadia.MustCompile(`meta[property="og:title"]`)
	selJSONLD    = cascadia.MustCompile(`script[type="application/ld+json"]`)
)

var hydrationMarkers = []string{
	"__NEXT_DATA__",
	"__NUXT__",
	"data-reactroot",
	"ng-version=",
	"data-v-app",
	"window.__INITIAL_STATE__",
}

// Scan computes gate features from raw HTML. domainPrior is the historical
// success rate for the page's domain and is clamped to [0,1] here so that
// Score stays total over its inputs.
//
// Two passes: a tokenizer pass for byte-level signals (visible text length,
// inline script weight) and a parsed-DOM pass for structural counts.
func Scan(rawHTML []byte, domainPrior float64) Features {
	f := Features{
		HTMLBytes:   uint(len(rawHTML)),
		DomainPrior: clamp(domainPrior, 0, 1),
	}

	visible, scriptBytes := tokenize(rawHTML)
	f.VisibleTextChars = visible
	f.ScriptBytes = scriptBytes

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(rawHTML))
	if err != nil {
		// Unparseable input: byte-level signals are all we have.
		f.SpaMarkerFlags = spaFlagsFromBytes(rawHTML, f)
		return f
	}

	f.ParagraphCount = uint(doc.Find("p").Length())
	f.ArticleTagCount = uint(doc.Find("article").Length())
	f.HeadingCount = uint(doc.Find("h1,h2,h3,h4,h5,h6").Length())

	doc.FindMatcher(selMetaOG).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if c, ok := s.Attr("content"); ok && strings.TrimSpace(c) != "" {
			f.HasOpenGraphTitle = true
			return false
		}
		return true
	})

	doc.FindMatcher(selJSONLD).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if isJSONLDArticle(s.Text()) {
			f.HasJSONLDArticle = true
			return false
		}
		return true
	})

	f.SpaMarkerFlags = spaFlags(doc, rawHTML, f)
	return f
}

// tokenize streams the document once, accumulating the visible text length
// inside <body> (excluding script/style/noscript) and the total bytes of
// inline <script> content.
func tokenize(rawHTML []byte) (visible, scriptBytes uint) {
	tokenizer := html.NewTokenizer(bytes.NewReader(rawHTML))
	inBody := false
	skipDepth := 0
	inScript := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return visible, scriptBytes
		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "body":
				inBody = true
			case "script":
				skipDepth++
				inScript = true
			case "style", "noscript":
				skipDepth++
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script":
				if skipDepth > 0 {
					skipDepth--
				}
				inScript = false
			case "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			text := tokenizer.Text()
			if inScript {
				scriptBytes += uint(len(text))
				continue
			}
			if inBody && skipDepth == 0 {
				visible += uint(len(bytes.TrimSpace(text)))
			}
		}
	}
}

func spaFlags(doc *goquery.Document, rawHTML []byte, f Features) byte {
	var flags byte

	lower := bytes.ToLower(rawHTML)
	for _, marker := range hydrationMarkers {
		if bytes.Contains(lower, []byte(strings.ToLower(marker))) {
			flags |= SpaHydrationMarker
			break
		}
	}

	if doc.FindMatcher(selEmptyRoot).Length() > 0 {
		flags |= SpaFrameworkRoot
	} else if doc.FindMatcher(selAnyRoot).Length() > 0 && f.VisibleTextChars < shellMaxTextChars {
		// A framework root that only holds a sliver of text is still a shell.
		flags |= SpaFrameworkRoot
	}

	if f.ScriptBytes > largeBundleBytes || doc.Find("script").Length() > largeBundleScripts {
		flags |= SpaLargeBundle
	}

	if f.HTMLBytes > shellMinHTMLBytes && f.VisibleTextChars < shellMaxTextChars {
		flags |= SpaOnlyContent
	}

	return flags
}

// spaFlagsFromBytes is the degraded probe used when the DOM failed to parse.
func spaFlagsFromBytes(rawHTML []byte, f Features) byte {
	var flags byte
	lower := bytes.ToLower(rawHTML)
	for _, marker := range hydrationMarkers {
		if bytes.Contains(lower, []byte(strings.ToLower(marker))) {
			flags |= SpaHydrationMarker
			break
		}
	}
	if f.ScriptBytes > largeBundleBytes {
		flags |= SpaLargeBundle
	}
	if f.HTMLBytes > shellMinHTMLBytes && f.VisibleTextChars < shellMaxTextChars {
		flags |= SpaOnlyContent
	}
	return flags
}

// isJSONLDArticle reports whether a ld+json block declares an article type.
// A full JSON parse is overkill here: the @type value is what matters, and
// publishers emit it in a handful of spellings.
func isJSONLDArticle(jsonld string) bool {
	if !strings.Contains(jsonld, "@type") {
		return false
	}
	for _, t := range []string{`"Article"`, `"NewsArticle"`, `"BlogPosting"`, `"Report"`, `"ScholarlyArticle"`} {
		if strings.Contains(jsonld, t) {
			return true
		}
	}
	return false
}
