package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/skimmer/models"
	"github.com/use-agent/skimmer/pool"
	"github.com/use-agent/skimmer/reliability"
)

// Health returns the handler for GET /api/v1/health.
//
// Status degrades when more than 80% of the pool is checked out or any
// backend circuit is open. Intentionally unauthenticated so monitoring
// probes always work.
func Health(p *pool.Pool, re *reliability.ReliableExtractor, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		poolStats := p.Stats()
		breakers := re.BreakerSnapshots()

		status := "healthy"
		if poolStats.MaxSize > 0 && poolStats.Active > int(float64(poolStats.MaxSize)*0.8) {
			status = "degraded"
		}
		for _, b := range breakers {
			if b.State == "open" {
				status = "degraded"
			}
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:        status,
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Pool:          poolStats,
			Breakers:      breakers,
		})
	}
}
