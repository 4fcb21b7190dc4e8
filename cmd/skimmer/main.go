package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/skimmer/api"
	"github.com/use-agent/skimmer/breaker"
	"github.com/use-agent/skimmer/config"
	"github.com/use-agent/skimmer/engine"
	"github.com/use-agent/skimmer/events"
	"github.com/use-agent/skimmer/fetch"
	"github.com/use-agent/skimmer/headless"
	"github.com/use-agent/skimmer/pool"
	"github.com/use-agent/skimmer/reliability"
)

func main() {
	cfg, err := config.Load(os.Getenv("SKIMMER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Log)
	slog.Info("skimmer starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"pool_max", cfg.Pool.MaxSize,
		"headless", cfg.HeadlessEnabled,
	)

	var sink events.Sink = events.LogSink{}
	if cfg.Webhook.URL != "" {
		sink = events.Multi{events.LogSink{}, events.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Secret)}
		slog.Info("webhook event delivery enabled", "url", cfg.Webhook.URL)
	}

	p, err := pool.New(cfg.Pool, engine.NewLoader(), nil, nil, sink)
	if err != nil {
		slog.Error("failed to initialise instance pool", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := p.Warm(warmCtx); err != nil {
		slog.Warn("pool warmup incomplete", "error", err)
	}
	warmCancel()

	// The pooled backend takes the lock-free breaker; the headless backend
	// gets the observed one so trips show up in the event stream.
	poolBr, err := breaker.New(cfg.PoolBreaker, nil)
	if err != nil {
		slog.Error("failed to initialise pool breaker", "error", err)
		os.Exit(1)
	}
	headBr, err := breaker.NewObserved("headless", cfg.HeadlessBreaker, nil, sink)
	if err != nil {
		slog.Error("failed to initialise headless breaker", "error", err)
		os.Exit(1)
	}

	var renderer reliability.Renderer
	if cfg.HeadlessEnabled {
		hr, err := headless.New(cfg.Headless)
		if err != nil {
			slog.Warn("headless renderer unavailable, escalation stops at probes",
				"error", err)
		} else {
			renderer = hr
			defer hr.Close()
		}
	}

	re, err := reliability.New(cfg.Reliability, p, poolBr, headBr, renderer, nil)
	if err != nil {
		slog.Error("failed to initialise extractor", "error", err)
		os.Exit(1)
	}
	defer re.Close()

	// Periodic memory sweep over idle instances.
	maintCtx, maintCancel := context.WithCancel(context.Background())
	defer maintCancel()
	go p.Maintain(maintCtx)

	startTime := time.Now()
	router := api.NewRouter(re, p, fetch.New(cfg.Fetch.Timeout), cfg, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}
	slog.Info("skimmer stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
