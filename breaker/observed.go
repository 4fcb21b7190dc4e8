package breaker

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/use-agent/skimmer/events"
)

// ObservedBreaker is the lock-guarded variant. It honors the identical state
// machine as Breaker but additionally emits health-change events to a sink
// and tracks acquisition counters for monitoring. Use it where observability
// matters more than raw throughput (e.g. the headless backend, which is slow
// anyway).
//
// Events are emitted after the transition has been committed under the lock,
// never before, and sink failures cannot roll a transition back.
type ObservedBreaker struct {
	cfg     Config
	clock   Clock
	backend string
	sink    events.Sink

	mu          sync.Mutex
	phase       State
	failures    uint64
	successes   uint64
	lastFailure time.Time
	openedAt    time.Time
	trials      uint32

	trips    uint64
	acquires uint64
	rejected uint64
}

// NewObserved constructs an ObservedBreaker for the named backend.
func NewObserved(backend string, cfg Config, clock Clock, sink events.Sink) (*ObservedBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	return &ObservedBreaker{
		cfg:     cfg,
		clock:   clock,
		backend: backend,
		sink:    sink,
		phase:   Closed,
	}, nil
}

// TryAcquire implements the same fail-fast contract as Breaker.TryAcquire.
func (b *ObservedBreaker) TryAcquire() (Permit, error) {
	b.mu.Lock()

	switch b.phase {
	case Closed:
		b.acquires++
		b.mu.Unlock()
		return Permit{}, nil

	case Open:
		now := b.clock.Now()
		if now.Sub(b.openedAt) < b.cfg.OpenCooldown {
			b.rejected++
			b.mu.Unlock()
			return Permit{}, ErrCircuitOpen
		}
		b.phase = HalfOpen
		b.trials = 1
		b.acquires++
		b.mu.Unlock()

		slog.Info("circuit breaker entering half-open", "backend", b.backend)
		b.sink.Emit(events.New(events.BreakerHalfOpen, b.backend, nil))
		return Permit{trial: true}, nil

	case HalfOpen:
		if b.trials >= b.cfg.HalfOpenMaxInFlight {
			b.rejected++
			b.mu.Unlock()
			return Permit{}, ErrCircuitOpen
		}
		b.trials++
		b.acquires++
		b.mu.Unlock()
		return Permit{trial: true}, nil
	}

	b.mu.Unlock()
	return Permit{}, ErrCircuitOpen
}

// OnSuccess reports a successful call made under the given permit.
func (b *ObservedBreaker) OnSuccess(_ Permit) {
	b.mu.Lock()
	closedNow := false
	switch b.phase {
	case Closed:
		b.successes++
		b.failures = 0
	case HalfOpen:
		b.phase = Closed
		b.failures = 0
		b.successes = 0
		b.trials = 0
		closedNow = true
	}
	b.mu.Unlock()

	if closedNow {
		slog.Info("circuit breaker closed after successful trial", "backend", b.backend)
		b.sink.Emit(events.New(events.BreakerClosed, b.backend, nil))
	}
}

// OnFailure reports a failed call made under the given permit.
func (b *ObservedBreaker) OnFailure(_ Permit) {
	b.mu.Lock()
	opened := false
	now := b.clock.Now()
	switch b.phase {
	case Closed:
		b.failures++
		b.lastFailure = now
		if b.failures >= b.cfg.FailureThreshold {
			b.phase = Open
			b.openedAt = now
			b.trips++
			opened = true
		}
	case HalfOpen:
		b.phase = Open
		b.openedAt = now
		b.failures = 1
		b.trials = 0
		b.trips++
		opened = true
	}
	trips := b.trips
	failures := b.failures
	b.mu.Unlock()

	if opened {
		slog.Warn("circuit breaker opened",
			"backend", b.backend, "failures", failures, "trips", trips)
		b.sink.Emit(events.New(events.BreakerOpened, b.backend, map[string]string{
			"failures": strconv.FormatUint(failures, 10),
		}))
	}
}

// State returns the current coarse state.
func (b *ObservedBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Snapshot returns a consistent view of the breaker's counters.
func (b *ObservedBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:        b.phase,
		FailureCount: b.failures,
		SuccessCount: b.successes,
		Trips:        b.trips,
	}
}

// Acquires and Rejected expose admission counters for monitoring.
func (b *ObservedBreaker) Acquires() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquires
}

func (b *ObservedBreaker) Rejected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}
