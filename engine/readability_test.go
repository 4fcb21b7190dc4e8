package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/use-agent/skimmer/gate"
	"github.com/use-agent/skimmer/models"
)

const para = "The committee reviewed the proposal in detail and concluded that the " +
	"funding should continue for another fiscal year, citing strong results " +
	"from the pilot program and broad support among the participating towns. "

func articlePage() []byte {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	b.WriteString(`<title>Budget Vote Passes</title>`)
	b.WriteString(`<meta property="article:published_time" content="2025-03-14T09:00:00Z">`)
	b.WriteString(`</head><body><article><h1>Budget Vote Passes</h1>`)
	for i := 0; i < 6; i++ {
		b.WriteString("<p>" + para + "</p>")
	}
	b.WriteString(`<p>Read the <a href="/docs/budget.pdf">full budget</a> or the `)
	b.WriteString(`<a href="https://example.org/archive">archive</a>.</p>`)
	b.WriteString(`<img src="/img/townhall.jpg" alt="town hall">`)
	b.WriteString(`</article></body></html>`)
	return []byte(b.String())
}

func TestExtract_RawMode(t *testing.T) {
	e := NewReadabilityExtractor()
	doc, err := e.Extract(context.Background(), articlePage(), "https://news.example.com/budget", gate.Raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if !strings.Contains(doc.Title, "Budget Vote") {
		t.Errorf("Title = %q, want the headline", doc.Title)
	}
	if !strings.Contains(doc.Text, "fiscal year") {
		t.Errorf("Text is missing body content")
	}
	if doc.WordCount == 0 {
		t.Errorf("WordCount = 0")
	}
	if doc.Fingerprint == 0 {
		t.Errorf("Fingerprint = 0, want non-zero for non-empty text")
	}
	if doc.PublishedISO != "2025-03-14T09:00:00Z" {
		t.Errorf("PublishedISO = %q", doc.PublishedISO)
	}
	if doc.Language != "en" {
		t.Errorf("Language = %q, want en", doc.Language)
	}
}

func TestExtract_ResolvesLinksAndMedia(t *testing.T) {
	e := NewReadabilityExtractor()
	doc, err := e.Extract(context.Background(), articlePage(), "https://news.example.com/budget", gate.Raw)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	wantLink := "https://news.example.com/docs/budget.pdf"
	found := false
	for _, l := range doc.Links {
		if l == wantLink {
			found = true
		}
	}
	if !found {
		t.Errorf("Links = %v, want relative href resolved to %s", doc.Links, wantLink)
	}
	if len(doc.Media) != 1 || doc.Media[0] != "https://news.example.com/img/townhall.jpg" {
		t.Errorf("Media = %v", doc.Media)
	}
}

func TestExtract_ProbesFirstUsesContainer(t *testing.T) {
	e := NewReadabilityExtractor()
	doc, err := e.Extract(context.Background(), articlePage(), "https://news.example.com/budget", gate.ProbesFirst)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(doc.Text, "fiscal year") {
		t.Errorf("probe result is missing body content")
	}
	// Probe extraction falls back to the document title tag.
	if doc.Title != "Budget Vote Passes" {
		t.Errorf("Title = %q", doc.Title)
	}
}

func TestExtract_TooShortIsEngineError(t *testing.T) {
	e := NewReadabilityExtractor()
	page := []byte(`<html><body><p>hi</p></body></html>`)
	_, err := e.Extract(context.Background(), page, "https://example.com/", gate.Raw)

	var xe *models.ExtractError
	if !errors.As(err, &xe) || xe.Code != models.ErrCodeEngine {
		t.Fatalf("Extract on near-empty page = %v, want %s", err, models.ErrCodeEngine)
	}
}

func TestExtract_InvalidURL(t *testing.T) {
	e := NewReadabilityExtractor()
	_, err := e.Extract(context.Background(), articlePage(), "://not-a-url", gate.Raw)

	var xe *models.ExtractError
	if !errors.As(err, &xe) || xe.Code != models.ErrCodeInvalidInput {
		t.Fatalf("Extract with bad URL = %v, want %s", err, models.ErrCodeInvalidInput)
	}
}

func TestExtract_CancelledContext(t *testing.T) {
	e := NewReadabilityExtractor()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Extract(ctx, articlePage(), "https://example.com/", gate.Raw); !errors.Is(err, context.Canceled) {
		t.Fatalf("Extract with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestLoader(t *testing.T) {
	loader := NewLoader()
	eng, err := loader.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := loader.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Load with cancelled ctx = %v, want context.Canceled", err)
	}
}
