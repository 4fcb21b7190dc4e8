package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestMultiFansOut(t *testing.T) {
	a := &captureSink{}
	b := &captureSink{}
	m := Multi{a, b, NopSink{}}

	m.Emit(New(PoolExhausted, "pool", nil))

	for name, sink := range map[string]*captureSink{"first": a, "second": b} {
		sink.mu.Lock()
		got := len(sink.events)
		sink.mu.Unlock()
		if got != 1 {
			t.Errorf("%s sink received %d events, want 1", name, got)
		}
	}
}

func TestWebhookDeliversSignedEvent(t *testing.T) {
	const secret = "wh-secret"

	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, secret)
	sink.Emit(New(BreakerOpened, "headless", map[string]string{"failures": "3"}))

	select {
	case r := <-received:
		body := <-bodies

		var e Event
		if err := json.Unmarshal(body, &e); err != nil {
			t.Fatalf("unmarshal delivered event: %v", err)
		}
		if e.Type != BreakerOpened || e.Source != "headless" {
			t.Errorf("delivered event = %+v", e)
		}
		if e.Fields["failures"] != "3" {
			t.Errorf("Fields = %v", e.Fields)
		}

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
		if got := r.Header.Get("X-Skimmer-Signature"); got != want {
			t.Errorf("signature = %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook delivery did not arrive")
	}
}

func TestWebhookRetriesOnFailure(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "")
	sink.Emit(New(PoolInstanceRetired, "pool", nil))

	select {
	case <-done:
		mu.Lock()
		defer mu.Unlock()
		if attempts != 2 {
			t.Errorf("attempts = %d, want 2", attempts)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("webhook retry did not arrive")
	}
}
