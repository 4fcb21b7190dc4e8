package engine

import (
	"bytes"
	"context"
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"

	"github.com/use-agent/skimmer/gate"
	"github.com/use-agent/skimmer/models"
	"github.com/use-agent/skimmer/simhash"
)

// minContentLength is the minimum plain-text length (in characters) for an
// extraction to count as having found the main content. Shorter results are
// reported as engine failures so the orchestrator can retry or escalate.
const minContentLength = 50

// probeMinChars is the text length a CSS-probe match must reach before the
// cheap probe result is accepted without running the full readability pass.
const probeMinChars = 200

// probeSelectors are tried in order against the DOM when the mode asks for
// probes first. They cover the containers most publishing platforms use.
var probeSelectors = []cascadia.Selector{
	cascadia.MustCompile("article"),
	cascadia.MustCompile("main"),
	cascadia.MustCompile(`[role="main"]`),
	cascadia.MustCompile(".post-content, .article-body, .entry-content"),
	cascadia.MustCompile("#content"),
}

var (
	selLinks     = cascadia.MustCompile("a[href]")
	selMedia     = cascadia.MustCompile("img[src], video[src], source[src]")
	selPublished = cascadia.MustCompile(`meta[property="article:published_time"], meta[name="date"]`)
	selHTMLLang  = cascadia.MustCompile("html[lang]")
)

// ReadabilityExtractor is the fast-path engine: Mozilla Readability for the
// main content, CSS probes as a cheaper first cut when the mode allows it,
// and Markdown rendering of whatever was found. Instances are handed out by
// the pool one caller at a time.
type ReadabilityExtractor struct {
	conv *converter.Converter
}

// NewReadabilityExtractor constructs a ready-to-use engine instance.
func NewReadabilityExtractor() *ReadabilityExtractor {
	return &ReadabilityExtractor{conv: newMarkdownConverter()}
}

// NewLoader returns a pool loader producing fresh readability engines.
func NewLoader() Loader {
	return LoaderFunc(func(ctx context.Context) (Extractor, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewReadabilityExtractor(), nil
	})
}

// Extract parses content and returns a structured document.
//
// In ProbesFirst mode the CSS probes run before readability; a probe match
// with enough text short-circuits the full algorithm. Failures (no content
// located, parser errors) come back as ENGINE_ERROR so the caller's retry
// policy applies.
func (e *ReadabilityExtractor) Extract(ctx context.Context, content []byte, pageURL string, mode gate.Decision) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	base, err := nurl.Parse(pageURL)
	if err != nil {
		return nil, models.NewExtractError(models.ErrCodeInvalidInput, "invalid page URL", err)
	}

	gq, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, models.NewExtractError(models.ErrCodeEngine, "html parse failed", err)
	}

	var bodyHTML, text, title, byline, siteName, language, description string

	if mode == gate.ProbesFirst {
		bodyHTML, text = e.probe(gq)
		if bodyHTML != "" {
			slog.Debug("probe extraction accepted", "url", pageURL, "chars", len(text))
		}
	}
	if bodyHTML == "" {
		article, rerr := readability.FromReader(bytes.NewReader(content), base)
		if rerr != nil {
			return nil, models.NewExtractError(models.ErrCodeEngine, "readability failed", rerr)
		}
		bodyHTML = article.Content
		text = article.TextContent
		title = article.Title
		byline = article.Byline
		siteName = article.SiteName
		language = article.Language
		description = article.Excerpt
	}

	if len(strings.TrimSpace(text)) < minContentLength {
		return nil, models.NewExtractError(models.ErrCodeEngine, "main content not located", nil)
	}

	if title == "" {
		title = strings.TrimSpace(gq.Find("title").First().Text())
	}
	if language == "" {
		if lang, ok := gq.FindMatcher(selHTMLLang).Attr("lang"); ok {
			language = lang
		}
	}

	markdown, merr := e.conv.ConvertString(bodyHTML, converter.WithDomain(base.Host))
	if merr != nil {
		slog.Warn("markdown conversion failed", "url", pageURL, "error", merr)
	}

	doc := &models.Document{
		URL:          pageURL,
		Title:        title,
		Byline:       byline,
		PublishedISO: publishedTime(gq),
		Markdown:     markdown,
		Text:         text,
		Links:        collectLinks(gq, base),
		Media:        collectMedia(gq, base),
		Language:     language,
		SiteName:     siteName,
		Description:  description,
		WordCount:    len(strings.Fields(text)),
		Fingerprint:  simhash.Fingerprint(text),
	}
	return doc, nil
}

// Close implements Extractor. The engine holds no external resources.
func (e *ReadabilityExtractor) Close() error { return nil }

// probe tries the content-container selectors and returns the first match
// carrying enough text, as (outer HTML, plain text). Empty strings mean no
// probe matched and the full algorithm should run.
func (e *ReadabilityExtractor) probe(gq *goquery.Document) (string, string) {
	for _, sel := range probeSelectors {
		node := gq.FindMatcher(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := strings.TrimSpace(node.Text())
		if len(text) < probeMinChars {
			continue
		}
		html, err := goquery.OuterHtml(node)
		if err != nil {
			continue
		}
		return html, text
	}
	return "", ""
}

// collectLinks resolves every anchor against the base URL, keeping only
// http(s) targets, deduplicated in document order.
func collectLinks(gq *goquery.Document, base *nurl.URL) []string {
	var links []string
	seen := make(map[string]struct{})
	gq.FindMatcher(selLinks).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return
		}
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links
}

// collectMedia gathers absolute image and video source URLs, skipping data
// URIs.
func collectMedia(gq *goquery.Document, base *nurl.URL) []string {
	var media []string
	seen := make(map[string]struct{})
	gq.FindMatcher(selMedia).Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}
		resolved, err := base.Parse(src)
		if err != nil || resolved.Scheme == "data" {
			return
		}
		abs := resolved.String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		media = append(media, abs)
	})
	return media
}

func publishedTime(gq *goquery.Document) string {
	if v, ok := gq.FindMatcher(selPublished).First().Attr("content"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
