package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/skimmer/reliability"
)

// Stats returns the handler for GET /api/v1/stats: the orchestrator's
// cumulative reliability counters.
func Stats(re *reliability.ReliableExtractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, re.Stats())
	}
}
