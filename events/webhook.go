package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookSink delivers events to an HTTP endpoint as JSON POST requests.
// Delivery is asynchronous with a short retry ladder; failures are logged
// and dropped. The body is signed with HMAC-SHA256 when a secret is set.
// Header: X-Skimmer-Signature: sha256=<hex>
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSink creates a sink pointed at url. secret may be empty.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Emit queues the event for asynchronous delivery and returns immediately.
func (w *WebhookSink) Emit(e Event) {
	go func() {
		delays := []time.Duration{0, 1 * time.Second, 5 * time.Second}
		for attempt, delay := range delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := w.deliver(ctx, e)
			cancel()
			if err == nil {
				return
			}
			slog.Warn("webhook delivery failed",
				"url", w.url, "type", string(e.Type), "attempt", attempt+1, "error", err)
		}
	}()
}

func (w *WebhookSink) deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Skimmer-Webhook/1.0")

	if w.secret != "" {
		mac := hmac.New(sha256.New, []byte(w.secret))
		mac.Write(body)
		req.Header.Set("X-Skimmer-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
