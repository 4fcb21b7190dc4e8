package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/skimmer/fetch"
	"github.com/use-agent/skimmer/gate"
	"github.com/use-agent/skimmer/models"
	"github.com/use-agent/skimmer/reliability"
)

// Extract returns the handler for POST /api/v1/extract.
//
// The request carries either inline HTML or a URL. URLs are fetched with the
// Chrome-fingerprint fetcher first; if that fails, the orchestrator is still
// invoked without content so the headless path can try the page itself.
func Extract(re *reliability.ReliableExtractor, fetcher *fetch.Fetcher, defaultTimeout, maxTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExtractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ExtractResponse{
				Success: false,
				Error:   &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: "invalid JSON body"},
			})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, models.ExtractResponse{
				Success: false,
				Error:   &models.ErrorDetail{Code: models.ErrCodeInvalidInput, Message: err.Error()},
			})
			return
		}

		timeout := defaultTimeout
		if req.Timeout > 0 {
			timeout = time.Duration(req.Timeout) * time.Second
		}
		if timeout > maxTimeout {
			timeout = maxTimeout
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		var hint *gate.Decision
		if req.ModeHint != "" {
			if d, ok := gate.ParseDecision(req.ModeHint); ok {
				hint = &d
			}
		}

		content := []byte(req.HTML)
		pageURL := req.URL
		if len(content) == 0 {
			body, finalURL, err := fetcher.Fetch(ctx, req.URL)
			if err != nil {
				// No static HTML to gate on; the orchestrator can still
				// try the headless path against the URL.
				slog.Warn("fetch failed, deferring to extraction pipeline",
					"url", req.URL, "error", err)
			} else {
				content = body
				pageURL = finalURL
			}
		}

		doc, err := re.Extract(ctx, content, pageURL, hint)
		if err != nil {
			status, detail := errorStatus(err)
			c.JSON(status, models.ExtractResponse{Success: false, Error: detail})
			return
		}
		c.JSON(http.StatusOK, models.ExtractResponse{Success: true, Document: doc})
	}
}

// errorStatus maps pipeline errors onto HTTP statuses.
func errorStatus(err error) (int, *models.ErrorDetail) {
	var xe *models.ExtractError
	if errors.As(err, &xe) {
		switch xe.Code {
		case models.ErrCodeInvalidInput:
			return http.StatusBadRequest, xe.ToDetail()
		case models.ErrCodeTimeout:
			return http.StatusGatewayTimeout, xe.ToDetail()
		case models.ErrCodePoolExhausted, models.ErrCodeCircuitOpen:
			return http.StatusServiceUnavailable, xe.ToDetail()
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, &models.ErrorDetail{
			Code:    models.ErrCodeTimeout,
			Message: "extraction deadline exceeded",
		}
	}
	if errors.Is(err, reliability.ErrAllModesExhausted) {
		return http.StatusBadGateway, &models.ErrorDetail{
			Code:    models.ErrCodeExhausted,
			Message: err.Error(),
		}
	}
	return http.StatusInternalServerError, &models.ErrorDetail{
		Code:    models.ErrCodeInternal,
		Message: err.Error(),
	}
}
