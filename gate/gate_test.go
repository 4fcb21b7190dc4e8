package gate

import (
	"math"
	"testing"
)

func richArticleFeatures() Features {
	return Features{
		HTMLBytes:         10000,
		VisibleTextChars:  5000,
		ParagraphCount:    10,
		ArticleTagCount:   1,
		ScriptBytes:       500,
		HasOpenGraphTitle: true,
		HasJSONLDArticle:  true,
		SpaMarkerFlags:    0,
		DomainPrior:       0.7,
	}
}

func TestScore_RichArticle(t *testing.T) {
	s := Score(richArticleFeatures())
	if s <= 0.5 {
		t.Errorf("rich article should score > 0.5, got %f", s)
	}
	if s < 0 || s > 1 {
		t.Errorf("score out of range: %f", s)
	}
}

func TestScore_EmptyDocument(t *testing.T) {
	// With html_bytes = 0 the ratio terms vanish; only the domain prior
	// contributes.
	tests := []struct {
		prior float64
		want  float64
	}{
		{0.0, 0.0}, // (0-0.5)*0.1 = -0.05 → clamped to 0
		{0.5, 0.0},
		{1.0, 0.05},
	}
	for _, tt := range tests {
		f := Features{DomainPrior: tt.prior}
		got := Score(f)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Score(empty, prior=%.1f) = %f, want %f", tt.prior, got, tt.want)
		}
	}
}

func TestScore_SpaPenalty(t *testing.T) {
	f := richArticleFeatures()
	base := Score(f)

	f.SpaMarkerFlags = SpaHydrationMarker
	if one := Score(f); one != base {
		t.Errorf("single SPA marker must not change the score: %f vs %f", one, base)
	}

	f.SpaMarkerFlags = SpaHydrationMarker | SpaFrameworkRoot
	if two := Score(f); two >= base {
		t.Errorf("two SPA markers should lower the score: %f vs %f", two, base)
	}
}

func TestDecide_Thresholds(t *testing.T) {
	rich := richArticleFeatures()
	if d := Decide(rich, 0.7, 0.3); d != Raw {
		t.Errorf("rich article should decide Raw, got %v", d)
	}

	shell := Features{
		HTMLBytes:        10000,
		VisibleTextChars: 100,
		ScriptBytes:      8000,
		DomainPrior:      0.5,
	}
	if d := Decide(shell, 0.7, 0.3); d != Headless {
		t.Errorf("JS shell should decide Headless, got %v", d)
	}

	middling := Features{
		HTMLBytes:        10000,
		VisibleTextChars: 3500,
		ParagraphCount:   4,
		ScriptBytes:      1500,
		DomainPrior:      0.5,
	}
	if d := Decide(middling, 0.7, 0.3); d != ProbesFirst {
		t.Errorf("middling page should decide ProbesFirst, got %v", d)
	}
}

func TestDecide_SpaHardOverride(t *testing.T) {
	// Three SPA markers force Headless even when the score clears the
	// high threshold.
	f := richArticleFeatures()
	f.SpaMarkerFlags = SpaHydrationMarker | SpaFrameworkRoot | SpaLargeBundle

	if s := Score(f); s < 0.7 {
		t.Fatalf("test setup broken: expected score >= 0.7, got %f", s)
	}
	if d := Decide(f, 0.7, 0.3); d != Headless {
		t.Errorf("3 SPA markers must force Headless, got %v", d)
	}

	// The literal degraded variant from observed behavior: low text, heavy
	// scripts, three markers.
	f2 := richArticleFeatures()
	f2.VisibleTextChars = 500
	f2.ScriptBytes = 8000
	f2.SpaMarkerFlags = SpaHydrationMarker | SpaFrameworkRoot | SpaOnlyContent
	if d := Decide(f2, 0.7, 0.3); d != Headless {
		t.Errorf("degraded SPA page must decide Headless, got %v", d)
	}
}

func TestDecide_MonotonicInDomainPrior(t *testing.T) {
	rank := func(d Decision) int {
		switch d {
		case Raw:
			return 0
		case ProbesFirst:
			return 1
		default:
			return 2
		}
	}

	bases := []Features{
		richArticleFeatures(),
		{HTMLBytes: 10000, VisibleTextChars: 2500, ParagraphCount: 4, ScriptBytes: 1500},
		{HTMLBytes: 10000, VisibleTextChars: 100, ScriptBytes: 8000},
		{HTMLBytes: 8000, VisibleTextChars: 3000, ParagraphCount: 8, HasOpenGraphTitle: true},
	}

	for i, base := range bases {
		prev := rank(Headless)
		first := true
		for p := 0.0; p <= 1.0; p += 0.05 {
			f := base
			f.DomainPrior = p
			r := rank(Decide(f, 0.7, 0.3))
			if !first && r > prev {
				t.Errorf("case %d: decision moved toward Headless as prior rose to %.2f", i, p)
			}
			prev = r
			first = false
		}
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in   string
		want Decision
		ok   bool
	}{
		{"raw", Raw, true},
		{"probes_first", ProbesFirst, true},
		{"headless", Headless, true},
		{"", ProbesFirst, false},
		{"turbo", ProbesFirst, false},
	}
	for _, tt := range tests {
		got, ok := ParseDecision(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseDecision(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDecisionString(t *testing.T) {
	if Raw.String() != "raw" || ProbesFirst.String() != "probes_first" || Headless.String() != "headless" {
		t.Error("Decision string names changed; these are wire-visible")
	}
}
