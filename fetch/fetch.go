// Package fetch retrieves page HTML over plain HTTP with a Chrome-like TLS
// fingerprint. It is the entry collaborator when callers pass a URL instead
// of inline HTML; gating and extraction happen on the bytes it returns.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/skimmer/models"
)

// maxBodyBytes caps response bodies to prevent unbounded memory use.
const maxBodyBytes = 10 << 20

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"

// chromeH1Spec is a Chrome-like ClientHello with ALPN forced to http/1.1
// only, computed once and reused for every connection. Go's http.Transport
// cannot speak HTTP/2 over a utls connection, so h2 must never be negotiated.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Fetcher is a reusable HTML fetcher. Safe for concurrent use.
type Fetcher struct {
	client *http.Client
}

// New creates a Fetcher with the Chrome TLS fingerprint and the given
// per-request timeout.
func New(timeout time.Duration) *Fetcher {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("fetch: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// Fetch retrieves pageURL and returns the HTML bytes together with the final
// URL after redirects. Error statuses and non-HTML payloads come back as
// FETCH_FAILED so the caller can decide whether the headless path is worth
// trying.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", models.NewExtractError(models.ErrCodeInvalidInput, "invalid fetch URL", err)
	}
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", models.NewExtractError(models.ErrCodeFetch, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", models.NewExtractError(models.ErrCodeFetch, "body read failed", err)
	}

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 || !isHTMLContentType(ct) {
		return nil, "", models.NewExtractError(models.ErrCodeFetch,
			fmt.Sprintf("non-html or error response: status %d, content-type %q", resp.StatusCode, ct), nil)
	}
	return body, resp.Request.URL.String(), nil
}

func isHTMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
