// Package breaker implements the circuit breaker guarding a single logical
// extraction backend.
//
// Two variants share one state machine:
//
//   - Breaker: lock-free, CAS-based, for the hot path.
//   - ObservedBreaker: mutex-guarded, emits health-change events and exposes
//     introspectable counters for monitoring.
//
// Legal transitions, and the only ones:
//
//	Closed   → Open      (failure streak reaches the threshold)
//	Open     → HalfOpen  (cooldown elapsed, checked lazily on TryAcquire)
//	HalfOpen → Closed    (a trial succeeds)
//	HalfOpen → Open      (a trial fails)
package breaker

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by TryAcquire while the backend is considered
// unhealthy. TryAcquire never blocks; callers back off or escalate.
var ErrCircuitOpen = errors.New("breaker: circuit open")

// State is the coarse breaker state exposed to observers.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config is immutable after construction.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit while Closed.
	FailureThreshold uint64
	// OpenCooldown is how long the circuit stays Open before the next
	// TryAcquire may start a half-open trial.
	OpenCooldown time.Duration
	// HalfOpenMaxInFlight caps concurrent trial requests while HalfOpen.
	HalfOpenMaxInFlight uint32
}

// Validate rejects configurations that would make the machine degenerate.
func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return fmt.Errorf("breaker: FailureThreshold must be > 0")
	}
	if c.OpenCooldown <= 0 {
		return fmt.Errorf("breaker: OpenCooldown must be > 0")
	}
	if c.HalfOpenMaxInFlight == 0 {
		return fmt.Errorf("breaker: HalfOpenMaxInFlight must be > 0")
	}
	return nil
}

// Permit is the token returned by a successful TryAcquire. It must be
// reported back exactly once via OnSuccess or OnFailure.
type Permit struct {
	trial bool
}

// CircuitBreaker is the contract shared by both variants. One instance
// guards one logical backend and is the sole serialization point for
// admission decisions against it.
type CircuitBreaker interface {
	TryAcquire() (Permit, error)
	OnSuccess(Permit)
	OnFailure(Permit)
	State() State
	Snapshot() Snapshot
}

// state is an immutable snapshot; transitions swap the whole pointer so a
// reader always sees a consistent tuple.
type state struct {
	phase       State
	failures    uint64 // consecutive failures (Closed) / failures at open time (Open)
	successes   uint64
	lastFailure time.Time
	openedAt    time.Time
	trials      uint32 // in-flight half-open trials
	enteredAt   time.Time
}

// Breaker is the lock-free variant. All transitions go through a single
// compare-and-swap on an immutable state pointer, so concurrent OnSuccess and
// OnFailure calls serialize without a mutex and no transition is lost or
// double-applied.
type Breaker struct {
	cfg   Config
	clock Clock
	cur   atomic.Pointer[state]
	trips atomic.Uint64
}

// New constructs a Breaker in the Closed state.
func New(cfg Config, clock Clock) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	b := &Breaker{cfg: cfg, clock: clock}
	b.cur.Store(&state{phase: Closed})
	return b, nil
}

// TryAcquire returns a permit if the backend may be called right now.
// It is synchronous and never blocks: in Open (before the cooldown) and in
// HalfOpen at trial capacity it fails immediately with ErrCircuitOpen.
//
// The Open → HalfOpen transition happens here, lazily, once the cooldown has
// elapsed; there is no background timer.
func (b *Breaker) TryAcquire() (Permit, error) {
	for {
		s := b.cur.Load()
		switch s.phase {
		case Closed:
			return Permit{}, nil

		case Open:
			now := b.clock.Now()
			if now.Sub(s.openedAt) < b.cfg.OpenCooldown {
				return Permit{}, ErrCircuitOpen
			}
			next := &state{phase: HalfOpen, trials: 1, enteredAt: now}
			if b.cur.CompareAndSwap(s, next) {
				return Permit{trial: true}, nil
			}

		case HalfOpen:
			if s.trials >= b.cfg.HalfOpenMaxInFlight {
				return Permit{}, ErrCircuitOpen
			}
			next := *s
			next.trials++
			if b.cur.CompareAndSwap(s, &next) {
				return Permit{trial: true}, nil
			}
		}
	}
}

// OnSuccess reports a successful call made under the given permit.
func (b *Breaker) OnSuccess(_ Permit) {
	for {
		s := b.cur.Load()
		switch s.phase {
		case Closed:
			next := *s
			next.successes++
			next.failures = 0 // a success resets the failure streak
			if b.cur.CompareAndSwap(s, &next) {
				return
			}
		case HalfOpen:
			// First successful trial closes the circuit and resets all
			// counters.
			if b.cur.CompareAndSwap(s, &state{phase: Closed}) {
				return
			}
		case Open:
			// Stale permit from before the trip; nothing to record.
			return
		}
	}
}

// OnFailure reports a failed call made under the given permit.
func (b *Breaker) OnFailure(_ Permit) {
	for {
		s := b.cur.Load()
		now := b.clock.Now()
		switch s.phase {
		case Closed:
			next := *s
			next.failures++
			next.lastFailure = now
			if next.failures >= b.cfg.FailureThreshold {
				opened := &state{phase: Open, openedAt: now, failures: next.failures}
				if b.cur.CompareAndSwap(s, opened) {
					b.trips.Add(1)
					return
				}
				continue
			}
			if b.cur.CompareAndSwap(s, &next) {
				return
			}
		case HalfOpen:
			// One failed trial reopens the circuit with a fresh cooldown.
			if b.cur.CompareAndSwap(s, &state{phase: Open, openedAt: now, failures: 1}) {
				b.trips.Add(1)
				return
			}
		case Open:
			return
		}
	}
}

// State returns the current coarse state. The Open → HalfOpen edge is only
// taken by TryAcquire, so an idle breaker past its cooldown still reports
// Open here.
func (b *Breaker) State() State {
	return b.cur.Load().phase
}

// Snapshot is a read-only view for health endpoints.
type Snapshot struct {
	State        State
	FailureCount uint64
	SuccessCount uint64
	Trips        uint64
}

// Snapshot returns a consistent view of the breaker's counters.
func (b *Breaker) Snapshot() Snapshot {
	s := b.cur.Load()
	return Snapshot{
		State:        s.phase,
		FailureCount: s.failures,
		SuccessCount: s.successes,
		Trips:        b.trips.Load(),
	}
}
