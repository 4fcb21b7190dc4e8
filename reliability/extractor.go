// Package reliability orchestrates extraction: the gate picks a mode, the
// circuit breakers admit or reject each backend, the pool runs the fast
// modes, and the headless renderer is the last resort. Callers see a single
// success or a single terminal error, never the retries in between.
package reliability

import (
	"context"
	"errors"
	"log/slog"
	nurl "net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/skimmer/breaker"
	"github.com/use-agent/skimmer/engine"
	"github.com/use-agent/skimmer/gate"
	"github.com/use-agent/skimmer/models"
	"github.com/use-agent/skimmer/pool"
)

// ErrAllModesExhausted is the terminal failure after escalating through every
// mode. The last underlying cause is attached for diagnostics.
var ErrAllModesExhausted = errors.New("reliability: all modes exhausted")

// domainMemoryTTL bounds how long a domain's extraction history sways the
// gate before the domain gets a clean slate.
const domainMemoryTTL = 24 * time.Hour

// Renderer is the headless-render collaborator, invoked only when the mode
// escalates to Headless.
type Renderer interface {
	RenderHTML(ctx context.Context, pageURL string) ([]byte, error)
}

// Config bounds the orchestrator. Immutable after construction.
type Config struct {
	// GateHi and GateLo are the decision thresholds (score >= GateHi picks
	// Raw, score <= GateLo picks Headless).
	GateHi float64
	GateLo float64
	// QualityThreshold is the minimum quality score a fast-path result
	// needs to be returned without escalating.
	QualityThreshold float64
	// PoolRetry applies to Raw and ProbesFirst; HeadlessRetry to Headless.
	PoolRetry     RetryPolicy
	HeadlessRetry RetryPolicy
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		GateHi:           0.7,
		GateLo:           0.3,
		QualityThreshold: 0.6,
		PoolRetry:        DefaultPoolRetry(),
		HeadlessRetry:    DefaultHeadlessRetry(),
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.GateHi <= c.GateLo || c.GateLo < 0 || c.GateHi > 1 {
		return errors.New("reliability: gate thresholds must satisfy 0 <= lo < hi <= 1")
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		return errors.New("reliability: QualityThreshold must be in [0, 1]")
	}
	if err := c.PoolRetry.Validate(); err != nil {
		return err
	}
	return c.HeadlessRetry.Validate()
}

// ReliableExtractor is safe for concurrent use. One breaker guards the pooled
// backend (shared by Raw and ProbesFirst), a second the headless backend;
// escalating never resets the next backend's breaker.
type ReliableExtractor struct {
	cfg             Config
	pool            *pool.Pool
	poolBreaker     breaker.CircuitBreaker
	headlessBreaker breaker.CircuitBreaker
	renderer        Renderer
	headlessEngine  engine.Extractor
	domains         *gate.DomainMemory
	clock           breaker.Clock

	calls     atomic.Uint64
	attempts  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
	trips     atomic.Uint64
}

// New constructs the orchestrator. renderer may be nil, in which case
// escalation stops at ProbesFirst. Rendered HTML is parsed by a dedicated
// readability engine outside the pool.
func New(cfg Config, p *pool.Pool, poolBreaker, headlessBreaker breaker.CircuitBreaker, renderer Renderer, clock breaker.Clock) (*ReliableExtractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil || poolBreaker == nil || headlessBreaker == nil {
		return nil, errors.New("reliability: pool and breakers are required")
	}
	if clock == nil {
		clock = breaker.SystemClock()
	}
	return &ReliableExtractor{
		cfg:             cfg,
		pool:            p,
		poolBreaker:     poolBreaker,
		headlessBreaker: headlessBreaker,
		renderer:        renderer,
		headlessEngine:  engine.NewReadabilityExtractor(),
		domains:         gate.NewDomainMemory(domainMemoryTTL),
		clock:           clock,
	}, nil
}

// Close releases the orchestrator's background resources. The pool, breakers
// and renderer are owned by the caller and are not touched.
func (r *ReliableExtractor) Close() {
	r.domains.Stop()
}

var escalation = []gate.Decision{gate.Raw, gate.ProbesFirst, gate.Headless}

// Extract runs one reliable extraction. content may be nil when only a URL
// is known and the initial mode is Headless; hint overrides the gate when
// non-nil. The caller's context deadline bounds the whole call.
//
// The returned document is the best successful result. Degraded is set when
// the final mode is stricter than the initial decision or the accepted
// quality fell below the threshold. On terminal failure the error wraps
// ErrAllModesExhausted around the last cause.
func (r *ReliableExtractor) Extract(ctx context.Context, content []byte, pageURL string, hint *gate.Decision) (*models.Document, error) {
	r.calls.Add(1)
	requestID := uuid.New().String()
	domain := domainOf(pageURL)

	initial := r.decide(content, domain, hint)
	log := slog.With("request_id", requestID, "url", pageURL, "initial_mode", initial.String())
	log.Debug("extraction started", "content_bytes", len(content))

	start := indexOf(initial)
	var (
		lastErr error
		best    *models.Document
	)

	for mi := start; mi < len(escalation); mi++ {
		mode := escalation[mi]
		if mode == gate.Headless && (r.renderer == nil || pageURL == "") {
			log.Debug("headless escalation unavailable")
			continue
		}
		policy := r.policyFor(mode)
		br := r.breakerFor(mode)

		for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				r.failures.Add(1)
				return nil, err
			}
			if attempt > 1 {
				if err := sleep(ctx, policy.backoff(attempt-1)); err != nil {
					r.failures.Add(1)
					return nil, err
				}
			}

			permit, err := br.TryAcquire()
			if err != nil {
				// An open circuit consumes no retry budget; go straight
				// to the next mode.
				r.trips.Add(1)
				lastErr = models.NewExtractError(models.ErrCodeCircuitOpen,
					"backend circuit open: "+mode.String(), err)
				log.Debug("circuit open, escalating", "mode", mode.String())
				break
			}

			r.attempts.Add(1)
			doc, err := r.attempt(ctx, mode, content, pageURL)
			if err != nil {
				br.OnFailure(permit)
				lastErr = err
				log.Debug("attempt failed",
					"mode", mode.String(), "attempt", attempt, "error", err)
				continue
			}
			br.OnSuccess(permit)

			doc.QualityScore = EvaluateQuality(doc)
			if mode != gate.Headless && doc.QualityScore < r.cfg.QualityThreshold {
				// Keep the result in case the stricter modes fail too.
				best = doc
				lastErr = nil
				log.Debug("quality below threshold, escalating",
					"mode", mode.String(), "quality", doc.QualityScore)
				break
			}

			doc.Degraded = mi > start || doc.QualityScore < r.cfg.QualityThreshold
			r.successes.Add(1)
			r.domains.Record(domain, true)
			log.Debug("extraction succeeded",
				"mode", mode.String(), "attempt", attempt, "quality", doc.QualityScore)
			return doc, nil
		}
	}

	if best != nil {
		// Every stricter mode failed; the low-quality fast result is still
		// better than nothing.
		best.Degraded = true
		r.successes.Add(1)
		r.domains.Record(domain, true)
		log.Debug("returning degraded fast-path result", "quality", best.QualityScore)
		return best, nil
	}

	r.failures.Add(1)
	r.domains.Record(domain, false)
	if lastErr == nil {
		lastErr = errors.New("no eligible extraction mode")
	}
	log.Warn("extraction exhausted all modes", "error", lastErr)
	return nil, &exhaustedError{cause: lastErr}
}

// Stats returns a read-only snapshot. Repeated calls without intervening
// extractions return identical values.
func (r *ReliableExtractor) Stats() models.StatsResponse {
	calls := r.calls.Load()
	attempts := r.attempts.Load()
	var avgRetries float64
	if calls > 0 && attempts > calls {
		avgRetries = float64(attempts-calls) / float64(calls)
	}
	return models.StatsResponse{
		TotalAttempts:       attempts,
		Successes:           r.successes.Load(),
		Failures:            r.failures.Load(),
		AvgRetries:          avgRetries,
		CircuitBreakerTrips: r.trips.Load(),
	}
}

// BreakerSnapshots returns the per-backend breaker views for health
// endpoints.
func (r *ReliableExtractor) BreakerSnapshots() map[string]models.BreakerSnapshot {
	return map[string]models.BreakerSnapshot{
		"pool":     toBreakerSnapshot(r.poolBreaker.Snapshot()),
		"headless": toBreakerSnapshot(r.headlessBreaker.Snapshot()),
	}
}

func toBreakerSnapshot(s breaker.Snapshot) models.BreakerSnapshot {
	return models.BreakerSnapshot{
		State:        s.State.String(),
		FailureCount: s.FailureCount,
		SuccessCount: s.SuccessCount,
		Trips:        s.Trips,
	}
}

func (r *ReliableExtractor) decide(content []byte, domain string, hint *gate.Decision) gate.Decision {
	if hint != nil {
		return *hint
	}
	if len(content) == 0 {
		return gate.Headless
	}
	features := gate.Scan(content, r.domains.Prior(domain))
	return gate.Decide(features, r.cfg.GateHi, r.cfg.GateLo)
}

// domainOf extracts the host used for domain-prior bookkeeping. Unparseable
// or hostless URLs map to "", which the memory ignores.
func domainOf(pageURL string) string {
	if pageURL == "" {
		return ""
	}
	u, err := nurl.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (r *ReliableExtractor) policyFor(mode gate.Decision) RetryPolicy {
	if mode == gate.Headless {
		return r.cfg.HeadlessRetry
	}
	return r.cfg.PoolRetry
}

func (r *ReliableExtractor) breakerFor(mode gate.Decision) breaker.CircuitBreaker {
	if mode == gate.Headless {
		return r.headlessBreaker
	}
	return r.poolBreaker
}

// attempt runs a single extraction at the given mode.
func (r *ReliableExtractor) attempt(ctx context.Context, mode gate.Decision, content []byte, pageURL string) (*models.Document, error) {
	if mode == gate.Headless {
		rendered, err := r.renderer.RenderHTML(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		return r.headlessEngine.Extract(ctx, rendered, pageURL, mode)
	}

	inst, err := r.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, pool.ErrExhausted) {
			return nil, models.NewExtractError(models.ErrCodePoolExhausted,
				"no instance available within wait budget", err)
		}
		return nil, err
	}

	var doc *models.Document
	size := uint64(len(content))
	execErr := r.pool.Execute(ctx, inst, func(c context.Context) error {
		if gerr := inst.Tracker().Grow(size); gerr != nil {
			return gerr
		}
		defer inst.Tracker().Shrink(size)
		d, xerr := inst.Engine().Extract(c, content, pageURL, mode)
		if xerr != nil {
			return xerr
		}
		doc = d
		return nil
	})
	r.pool.RecordUsage(inst, execErr == nil)
	r.pool.Release(inst)
	if execErr != nil {
		return nil, execErr
	}
	return doc, nil
}

// exhaustedError ties the terminal sentinel to the last underlying cause.
type exhaustedError struct {
	cause error
}

func (e *exhaustedError) Error() string {
	return ErrAllModesExhausted.Error() + ": " + e.cause.Error()
}

func (e *exhaustedError) Unwrap() []error {
	return []error{ErrAllModesExhausted, e.cause}
}

func indexOf(mode gate.Decision) int {
	for i, m := range escalation {
		if m == mode {
			return i
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
