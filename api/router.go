// Package api wires the extraction core into an HTTP surface.
package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/skimmer/api/handler"
	"github.com/use-agent/skimmer/api/middleware"
	"github.com/use-agent/skimmer/config"
	"github.com/use-agent/skimmer/fetch"
	"github.com/use-agent/skimmer/pool"
	"github.com/use-agent/skimmer/reliability"
)

// maxRequestTimeout caps the per-request timeout a client may ask for.
const maxRequestTimeout = 120 * time.Second

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and stats stay outside auth so monitoring probes always work.
func NewRouter(re *reliability.ReliableExtractor, p *pool.Pool, fetcher *fetch.Fetcher, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(p, re, startTime))
	v1.GET("/stats", handler.Stats(re))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.POST("/extract", handler.Extract(re, fetcher, cfg.Fetch.Timeout, maxRequestTimeout))

	return r
}
