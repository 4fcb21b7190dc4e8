package reliability

import (
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds how often one mode is retried before escalation and how
// long to wait between attempts.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling for the mode, first try
	// included.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
	// Multiplier scales the delay after every failed attempt.
	Multiplier float64
	// Jitter randomizes each delay in [50%, 100%] to avoid herding.
	Jitter bool
}

// DefaultPoolRetry returns the policy for the pooled (Raw/ProbesFirst)
// backend.
func DefaultPoolRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     1.5,
		Jitter:         true,
	}
}

// DefaultHeadlessRetry returns the policy for the headless backend. Renders
// are expensive, so a single attempt per call.
func DefaultHeadlessRetry() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     1.5,
	}
}

// Validate rejects degenerate policies.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("reliability: MaxAttempts must be > 0")
	}
	if p.MaxAttempts > 1 {
		if p.InitialBackoff <= 0 || p.MaxBackoff < p.InitialBackoff {
			return fmt.Errorf("reliability: backoff range is invalid")
		}
		if p.Multiplier < 1 {
			return fmt.Errorf("reliability: Multiplier must be >= 1")
		}
	}
	return nil
}

// backoff returns the delay before the given retry (retry 1 is the first
// re-attempt).
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < retry; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxBackoff {
			d = p.MaxBackoff
			break
		}
	}
	if d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter && d > 0 {
		half := d / 2
		d = half + time.Duration(rand.Int63n(int64(half)+1))
	}
	return d
}
