// Package config loads application configuration from an optional YAML file
// and SKIMMER_-prefixed environment variables, with defaults for everything.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/use-agent/skimmer/breaker"
	"github.com/use-agent/skimmer/headless"
	"github.com/use-agent/skimmer/pool"
	"github.com/use-agent/skimmer/reliability"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // default: 5
	Burst             int     // default: 10
}

// FetchConfig controls the URL fetcher.
type FetchConfig struct {
	Timeout time.Duration // default: 20s
}

// WebhookConfig controls lifecycle-event delivery. Empty URL disables it.
type WebhookConfig struct {
	URL    string
	Secret string
}

// Config aggregates every component's configuration. Component configs keep
// their own Validate methods; Load runs them all so an invalid setup fails at
// startup, not mid-request.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Fetch     FetchConfig
	Webhook   WebhookConfig

	Pool            pool.Config
	PoolBreaker     breaker.Config
	HeadlessBreaker breaker.Config
	Headless        headless.Config
	Reliability     reliability.Config

	// HeadlessEnabled gates whether a browser process is launched at all.
	// Disabled deployments stop escalation at ProbesFirst.
	HeadlessEnabled bool
}

// Load reads configuration. path may name a YAML file explicitly; otherwise
// a config.yaml in the working directory or /etc/skimmer is picked up when
// present. Environment variables override the file, e.g.
// SKIMMER_SERVER_PORT=9090 or SKIMMER_POOL_MAX_SIZE=16.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SKIMMER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/skimmer/")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			if path != "" {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
		slog.Debug("no config file found, using defaults and environment")
	} else {
		slog.Info("config file loaded", "path", v.ConfigFileUsed())
	}

	cfg := build(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs every component's validation.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: unknown server mode %q", c.Server.Mode)
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("config: fetch timeout must be > 0")
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.PoolBreaker.Validate(); err != nil {
		return err
	}
	if err := c.HeadlessBreaker.Validate(); err != nil {
		return err
	}
	if err := c.Headless.Validate(); err != nil {
		return err
	}
	return c.Reliability.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_keys", []string{})

	v.SetDefault("rate_limit.requests_per_second", 5.0)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("fetch.timeout", "20s")

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.secret", "")

	pc := pool.DefaultConfig()
	v.SetDefault("pool.max_size", pc.MaxSize)
	v.SetDefault("pool.min_idle", pc.MinIdle)
	v.SetDefault("pool.acquire_timeout", pc.AcquireTimeout.String())
	v.SetDefault("pool.epoch_timeout", pc.EpochTimeout.String())
	v.SetDefault("pool.health_check_interval", pc.HealthCheckInterval.String())
	v.SetDefault("pool.max_uses_per_instance", pc.MaxUsesPerInstance)
	v.SetDefault("pool.max_failures_per_instance", pc.MaxFailuresPerInstance)
	v.SetDefault("pool.memory_limit_bytes", pc.MemoryLimitBytes)
	v.SetDefault("pool.grow_failure_threshold", pc.GrowFailureThreshold)

	v.SetDefault("breaker.pool.failure_threshold", 5)
	v.SetDefault("breaker.pool.open_cooldown", "30s")
	v.SetDefault("breaker.pool.half_open_max_in_flight", 2)
	v.SetDefault("breaker.headless.failure_threshold", 3)
	v.SetDefault("breaker.headless.open_cooldown", "60s")
	v.SetDefault("breaker.headless.half_open_max_in_flight", 1)

	hc := headless.DefaultConfig()
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.headless", hc.Headless)
	v.SetDefault("headless.no_sandbox", hc.NoSandbox)
	v.SetDefault("headless.browser_bin", "")
	v.SetDefault("headless.proxy", "")
	v.SetDefault("headless.max_pages", hc.MaxPages)
	v.SetDefault("headless.render_timeout", hc.RenderTimeout.String())
	v.SetDefault("headless.stealth", hc.Stealth)

	rc := reliability.DefaultConfig()
	v.SetDefault("gate.hi", rc.GateHi)
	v.SetDefault("gate.lo", rc.GateLo)
	v.SetDefault("reliability.quality_threshold", rc.QualityThreshold)
	v.SetDefault("reliability.pool_retry.max_attempts", rc.PoolRetry.MaxAttempts)
	v.SetDefault("reliability.pool_retry.initial_backoff", rc.PoolRetry.InitialBackoff.String())
	v.SetDefault("reliability.pool_retry.max_backoff", rc.PoolRetry.MaxBackoff.String())
	v.SetDefault("reliability.pool_retry.multiplier", rc.PoolRetry.Multiplier)
	v.SetDefault("reliability.pool_retry.jitter", rc.PoolRetry.Jitter)
	v.SetDefault("reliability.headless_retry.max_attempts", rc.HeadlessRetry.MaxAttempts)
	v.SetDefault("reliability.headless_retry.initial_backoff", rc.HeadlessRetry.InitialBackoff.String())
	v.SetDefault("reliability.headless_retry.max_backoff", rc.HeadlessRetry.MaxBackoff.String())
	v.SetDefault("reliability.headless_retry.multiplier", rc.HeadlessRetry.Multiplier)
	v.SetDefault("reliability.headless_retry.jitter", rc.HeadlessRetry.Jitter)
}

func build(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
			Mode: v.GetString("server.mode"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
			APIKeys: v.GetStringSlice("auth.api_keys"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("rate_limit.requests_per_second"),
			Burst:             v.GetInt("rate_limit.burst"),
		},
		Fetch: FetchConfig{
			Timeout: v.GetDuration("fetch.timeout"),
		},
		Webhook: WebhookConfig{
			URL:    v.GetString("webhook.url"),
			Secret: v.GetString("webhook.secret"),
		},
		Pool: pool.Config{
			MaxSize:                v.GetInt("pool.max_size"),
			MinIdle:                v.GetInt("pool.min_idle"),
			AcquireTimeout:         v.GetDuration("pool.acquire_timeout"),
			EpochTimeout:           v.GetDuration("pool.epoch_timeout"),
			HealthCheckInterval:    v.GetDuration("pool.health_check_interval"),
			MaxUsesPerInstance:     v.GetUint64("pool.max_uses_per_instance"),
			MaxFailuresPerInstance: v.GetUint64("pool.max_failures_per_instance"),
			MemoryLimitBytes:       v.GetUint64("pool.memory_limit_bytes"),
			GrowFailureThreshold:   v.GetUint64("pool.grow_failure_threshold"),
		},
		PoolBreaker: breaker.Config{
			FailureThreshold:    v.GetUint64("breaker.pool.failure_threshold"),
			OpenCooldown:        v.GetDuration("breaker.pool.open_cooldown"),
			HalfOpenMaxInFlight: v.GetUint32("breaker.pool.half_open_max_in_flight"),
		},
		HeadlessBreaker: breaker.Config{
			FailureThreshold:    v.GetUint64("breaker.headless.failure_threshold"),
			OpenCooldown:        v.GetDuration("breaker.headless.open_cooldown"),
			HalfOpenMaxInFlight: v.GetUint32("breaker.headless.half_open_max_in_flight"),
		},
		Headless: headless.Config{
			Headless:      v.GetBool("headless.headless"),
			NoSandbox:     v.GetBool("headless.no_sandbox"),
			BrowserBin:    v.GetString("headless.browser_bin"),
			Proxy:         v.GetString("headless.proxy"),
			MaxPages:      v.GetInt("headless.max_pages"),
			RenderTimeout: v.GetDuration("headless.render_timeout"),
			Stealth:       v.GetBool("headless.stealth"),
		},
		Reliability: reliability.Config{
			GateHi:           v.GetFloat64("gate.hi"),
			GateLo:           v.GetFloat64("gate.lo"),
			QualityThreshold: v.GetFloat64("reliability.quality_threshold"),
			PoolRetry: reliability.RetryPolicy{
				MaxAttempts:    v.GetInt("reliability.pool_retry.max_attempts"),
				InitialBackoff: v.GetDuration("reliability.pool_retry.initial_backoff"),
				MaxBackoff:     v.GetDuration("reliability.pool_retry.max_backoff"),
				Multiplier:     v.GetFloat64("reliability.pool_retry.multiplier"),
				Jitter:         v.GetBool("reliability.pool_retry.jitter"),
			},
			HeadlessRetry: reliability.RetryPolicy{
				MaxAttempts:    v.GetInt("reliability.headless_retry.max_attempts"),
				InitialBackoff: v.GetDuration("reliability.headless_retry.initial_backoff"),
				MaxBackoff:     v.GetDuration("reliability.headless_retry.max_backoff"),
				Multiplier:     v.GetFloat64("reliability.headless_retry.multiplier"),
				Jitter:         v.GetBool("reliability.headless_retry.jitter"),
			},
		},
		HeadlessEnabled: v.GetBool("headless.enabled"),
	}
}
