package models

// ExtractResponse is the body returned by POST /api/v1/extract.
type ExtractResponse struct {
	Success  bool         `json:"success"`
	Document *Document    `json:"document,omitempty"`
	Error    *ErrorDetail `json:"error,omitempty"`
}

// PoolSnapshot is the read-only pool view exposed on /health.
type PoolSnapshot struct {
	Available int    `json:"available"`
	Active    int    `json:"active"`
	Total     int    `json:"total"`
	MaxSize   int    `json:"max_size"`
	Created   uint64 `json:"created"`
	Retired   uint64 `json:"retired"`
}

// BreakerSnapshot is the read-only circuit breaker view exposed on /health.
type BreakerSnapshot struct {
	State        string `json:"state"` // "closed", "open", "half_open"
	FailureCount uint64 `json:"failure_count"`
	SuccessCount uint64 `json:"success_count"`
	Trips        uint64 `json:"trips"`
}

// HealthResponse is the body returned by GET /api/v1/health.
type HealthResponse struct {
	Status        string                     `json:"status"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Pool          PoolSnapshot               `json:"pool"`
	Breakers      map[string]BreakerSnapshot `json:"breakers"`
}

// StatsResponse is the body returned by GET /api/v1/stats.
type StatsResponse struct {
	TotalAttempts       uint64  `json:"total_attempts"`
	Successes           uint64  `json:"successes"`
	Failures            uint64  `json:"failures"`
	AvgRetries          float64 `json:"avg_retries"`
	CircuitBreakerTrips uint64  `json:"circuit_breaker_trips"`
}
