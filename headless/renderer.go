// Package headless renders JavaScript-heavy pages in a real browser. It is
// the most expensive extraction path and is only reached when the gate (or
// escalation) decides the static HTML cannot be trusted.
package headless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	nurl "net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/skimmer/models"
)

// Config controls the browser process and per-render limits.
type Config struct {
	Headless   bool
	NoSandbox  bool
	BrowserBin string
	Proxy      string
	// MaxPages caps concurrently open tabs.
	MaxPages int
	// RenderTimeout is the hard deadline for one render.
	RenderTimeout time.Duration
	// Stealth injects the anti-detection script before navigation.
	Stealth bool
}

// DefaultConfig returns settings suitable for server deployments.
func DefaultConfig() Config {
	return Config{
		Headless:      true,
		NoSandbox:     true,
		MaxPages:      4,
		RenderTimeout: 30 * time.Second,
		Stealth:       true,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.MaxPages <= 0 {
		return fmt.Errorf("headless: MaxPages must be > 0")
	}
	if c.RenderTimeout <= 0 {
		return fmt.Errorf("headless: RenderTimeout must be > 0")
	}
	return nil
}

// Result is one rendered page.
type Result struct {
	HTML       string
	Title      string
	FinalURL   string
	StatusCode int
}

// Renderer owns a single browser process and a reusable tab pool. Safe for
// concurrent use.
type Renderer struct {
	browser *rod.Browser
	pages   rod.Pool[rod.Page]
	cfg     Config
	active  atomic.Int32
}

// New launches the browser and initializes the tab pool.
func New(cfg Config) (*Renderer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.Proxy != "" {
		l = l.Proxy(cfg.Proxy)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewExtractError(models.ErrCodeEngine, "failed to launch browser", err)
	}
	slog.Info("headless browser launched", "control_url", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewExtractError(models.ErrCodeEngine, "failed to connect to browser", err)
	}

	return &Renderer{
		browser: browser,
		pages:   rod.NewPagePool(cfg.MaxPages),
		cfg:     cfg,
	}, nil
}

// Render navigates to pageURL in a pooled tab, waits for the DOM to settle
// and returns the rendered page.
func (r *Renderer) Render(ctx context.Context, pageURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	r.active.Add(1)
	defer r.active.Add(-1)

	page, err := r.pages.Get(func() (*rod.Page, error) {
		return r.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		return nil, models.NewExtractError(models.ErrCodeEngine, "failed to acquire browser tab", err)
	}
	// Cleanup uses the original page reference so it still works after the
	// request context expires.
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			slog.Warn("tab cleanup navigation failed", "error", navErr)
		}
		r.pages.Put(page)
	}()

	// Stealth must be installed before navigation to take effect.
	if r.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without it", "error", evalErr)
		}
	}

	// A plausible referer lowers the odds of bot interstitials.
	if u, parseErr := nurl.Parse(pageURL); parseErr == nil {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: map[string]gson.JSON{
				"Referer": gson.New("https://www.google.com/search?q=" + nurl.QueryEscape(u.Hostname())),
			},
		}.Call(page)
	}

	p := page.Context(ctx)
	if navErr := p.Navigate(pageURL); navErr != nil {
		return nil, categorize(navErr, "navigation failed")
	}
	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		slog.Debug("DOM did not stabilize, proceeding with current state",
			"url", pageURL, "error", stableErr)
	}

	var statusCode int
	if res, evalErr := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch (e) {}
		return 0;
	}`); evalErr == nil {
		statusCode = res.Value.Int()
	}

	html, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, categorize(htmlErr, "failed to read rendered HTML")
	}

	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = pageURL
	}
	return &Result{
		HTML:       html,
		Title:      evalStringOrEmpty(p, `() => document.title`),
		FinalURL:   finalURL,
		StatusCode: statusCode,
	}, nil
}

// RenderHTML is the narrow form used by the reliability layer: rendered bytes
// or an error.
func (r *Renderer) RenderHTML(ctx context.Context, pageURL string) ([]byte, error) {
	res, err := r.Render(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return []byte(res.HTML), nil
}

// ActivePages returns how many tabs are currently rendering.
func (r *Renderer) ActivePages() int {
	return int(r.active.Load())
}

// Close drains the tab pool and kills the browser process. Call on graceful
// shutdown to avoid zombie browser processes.
func (r *Renderer) Close() {
	slog.Info("headless renderer shutting down")
	r.pages.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	r.browser.MustClose()
}

func categorize(err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "context deadline exceeded") {
		return models.NewExtractError(models.ErrCodeTimeout, msg, err)
	}
	return models.NewExtractError(models.ErrCodeEngine, msg, err)
}

func evalStringOrEmpty(p *rod.Page, js string) string {
	res, err := p.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}
