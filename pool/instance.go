package pool

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/use-agent/skimmer/engine"
	"github.com/use-agent/skimmer/models"
)

// GrowthLimiter is consulted before every memory expansion inside a sandboxed
// engine. current is the instance's tracked usage in bytes, requested the size
// of the expansion. Returning false denies the growth and fails the in-flight
// extraction cleanly instead of exhausting host memory.
type GrowthLimiter func(current, requested uint64) bool

// ResourceTracker accounts memory usage and growth failures for one instance.
// Grow and Shrink are called from inside the engine mid-extraction, so the
// counters are atomic even though the instance itself is exclusively owned.
type ResourceTracker struct {
	limit        uint64
	allow        GrowthLimiter
	memory       atomic.Uint64
	growFailures atomic.Uint64
}

// NewResourceTracker creates a tracker with the given hard ceiling in bytes.
// limiter may be nil, in which case only the ceiling applies.
func NewResourceTracker(limitBytes uint64, limiter GrowthLimiter) *ResourceTracker {
	return &ResourceTracker{limit: limitBytes, allow: limiter}
}

// Grow requests a memory expansion of delta bytes. Denied requests increment
// the growth-failure counter and return a RESOURCE_LIMIT error.
func (t *ResourceTracker) Grow(delta uint64) error {
	current := t.memory.Load()
	if current+delta > t.limit || (t.allow != nil && !t.allow(current, delta)) {
		t.growFailures.Add(1)
		return models.NewExtractError(models.ErrCodeResourceLimit,
			"memory growth denied by resource limiter", nil)
	}
	t.memory.Add(delta)
	return nil
}

// Shrink returns delta bytes to the tracker after a buffer is released.
func (t *ResourceTracker) Shrink(delta uint64) {
	for {
		current := t.memory.Load()
		next := uint64(0)
		if current > delta {
			next = current - delta
		}
		if t.memory.CompareAndSwap(current, next) {
			return
		}
	}
}

// MemoryBytes returns the currently tracked usage.
func (t *ResourceTracker) MemoryBytes() uint64 { return t.memory.Load() }

// GrowFailures returns how many growth requests were denied.
func (t *ResourceTracker) GrowFailures() uint64 { return t.growFailures.Load() }

// PooledInstance wraps one engine together with its usage bookkeeping. The
// pool guarantees an instance is checked out by at most one caller at a time,
// so the plain fields need no locking; condemned is atomic because an epoch
// timeout can fire while the body goroutine still holds the instance.
type PooledInstance struct {
	id        string
	engine    engine.Extractor
	tracker   *ResourceTracker
	createdAt time.Time

	lastUsed     time.Time
	useCount     uint64
	failureCount uint64
	memoryUsage  uint64

	condemned atomic.Bool
}

func newInstance(eng engine.Extractor, tracker *ResourceTracker, now time.Time) *PooledInstance {
	return &PooledInstance{
		id:        uuid.New().String(),
		engine:    eng,
		tracker:   tracker,
		createdAt: now,
		lastUsed:  now,
	}
}

// ID returns the instance's unique identifier.
func (i *PooledInstance) ID() string { return i.id }

// Engine returns the wrapped extractor for the duration of a checkout.
func (i *PooledInstance) Engine() engine.Extractor { return i.engine }

// Tracker returns the instance's resource tracker.
func (i *PooledInstance) Tracker() *ResourceTracker { return i.tracker }

// UseCount returns how many extractions this instance has run.
func (i *PooledInstance) UseCount() uint64 { return i.useCount }

// FailureCount returns how many of those extractions failed.
func (i *PooledInstance) FailureCount() uint64 { return i.failureCount }

// condemn marks the instance as unusable. Set when an epoch deadline fires
// mid-execution; partial execution state is assumed corrupt.
func (i *PooledInstance) condemn() { i.condemned.Store(true) }

func (i *PooledInstance) isCondemned() bool { return i.condemned.Load() }
