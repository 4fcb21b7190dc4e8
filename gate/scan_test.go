package gate

import (
	"strings"
	"testing"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>A Proper Article</title>
  <meta property="og:title" content="A Proper Article">
  <script type="application/ld+json">{"@context":"https://schema.org","@type":"NewsArticle","headline":"A Proper Article"}</script>
</head>
<body>
  <article>
    <h1>A Proper Article</h1>
    <p>First paragraph with a reasonable amount of running text in it.</p>
    <p>Second paragraph, also with enough words to register as content.</p>
    <p>Third paragraph closing out the piece with a final thought.</p>
  </article>
</body>
</html>`

func spaShellHTML() string {
	// A realistic SPA shell: empty root div, hydration payload, one huge
	// inline bundle, nearly no visible text.
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><title>app</title></head><body>`)
	b.WriteString(`<div id="root"></div>`)
	b.WriteString(`<script>window.__NEXT_DATA__={"props":{}};`)
	b.WriteString(strings.Repeat("var x=1;", 40000))
	b.WriteString(`</script></body></html>`)
	return b.String()
}

func TestScan_Article(t *testing.T) {
	f := Scan([]byte(articleHTML), 0.7)

	if f.ParagraphCount != 3 {
		t.Errorf("ParagraphCount = %d, want 3", f.ParagraphCount)
	}
	if f.ArticleTagCount != 1 {
		t.Errorf("ArticleTagCount = %d, want 1", f.ArticleTagCount)
	}
	if f.HeadingCount != 1 {
		t.Errorf("HeadingCount = %d, want 1", f.HeadingCount)
	}
	if !f.HasOpenGraphTitle {
		t.Error("og:title not detected")
	}
	if !f.HasJSONLDArticle {
		t.Error("JSON-LD NewsArticle not detected")
	}
	if f.SpaMarkerFlags != 0 {
		t.Errorf("static article flagged as SPA: flags=%08b", f.SpaMarkerFlags)
	}
	if f.VisibleTextChars == 0 {
		t.Error("no visible text measured")
	}
	if d := Decide(f, 0.7, 0.3); d == Headless {
		t.Errorf("static article routed to Headless (score=%f)", Score(f))
	}
}

func TestScan_SpaShell(t *testing.T) {
	f := Scan([]byte(spaShellHTML()), 0.5)

	if f.SpaMarkerFlags&SpaHydrationMarker == 0 {
		t.Error("hydration marker not detected")
	}
	if f.SpaMarkerFlags&SpaFrameworkRoot == 0 {
		t.Error("empty framework root not detected")
	}
	if f.SpaMarkerFlags&SpaLargeBundle == 0 {
		t.Errorf("large bundle not detected (scriptBytes=%d)", f.ScriptBytes)
	}
	if f.SpaMarkerFlags&SpaOnlyContent == 0 {
		t.Errorf("SPA-only-content not detected (visible=%d)", f.VisibleTextChars)
	}
	if d := Decide(f, 0.7, 0.3); d != Headless {
		t.Errorf("SPA shell should decide Headless, got %v", d)
	}
}

func TestScan_EmptyInput(t *testing.T) {
	f := Scan(nil, 0.5)
	if f.HTMLBytes != 0 || f.VisibleTextChars != 0 {
		t.Errorf("empty input produced non-zero byte counts: %+v", f)
	}
}

func TestScan_ClampsDomainPrior(t *testing.T) {
	if f := Scan([]byte(articleHTML), 3.5); f.DomainPrior != 1.0 {
		t.Errorf("DomainPrior not clamped high: %f", f.DomainPrior)
	}
	if f := Scan([]byte(articleHTML), -1); f.DomainPrior != 0.0 {
		t.Errorf("DomainPrior not clamped low: %f", f.DomainPrior)
	}
}

func TestScan_ScriptBytesExcludedFromVisibleText(t *testing.T) {
	const page = `<html><body><p>hello world</p><script>var a = "not visible";</script></body></html>`
	f := Scan([]byte(page), 0.5)
	if f.ScriptBytes == 0 {
		t.Error("inline script bytes not counted")
	}
	if f.VisibleTextChars != uint(len("hello world")) {
		t.Errorf("VisibleTextChars = %d, want %d", f.VisibleTextChars, len("hello world"))
	}
}
