// Package pool owns a bounded set of sandboxed extraction-engine instances.
// It amortizes engine initialization across many extraction calls while
// capping instance reuse, per-instance memory, and total concurrency.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/use-agent/skimmer/breaker"
	"github.com/use-agent/skimmer/engine"
	"github.com/use-agent/skimmer/events"
	"github.com/use-agent/skimmer/models"
)

var (
	// ErrExhausted means no instance became available within the wait
	// budget. Retryable; signals backpressure, not a broken pool.
	ErrExhausted = errors.New("pool: exhausted")

	// ErrClosed is returned by operations on a closed pool.
	ErrClosed = errors.New("pool: closed")
)

// Config bounds the pool. Immutable after construction.
type Config struct {
	// MaxSize caps live instances (idle plus checked out).
	MaxSize int
	// MinIdle is the number of instances Warm creates up front.
	MinIdle int
	// AcquireTimeout is the wait budget before Acquire fails with
	// ErrExhausted. A caller context expiring earlier wins.
	AcquireTimeout time.Duration
	// EpochTimeout is the hard wall-clock deadline for one execution.
	EpochTimeout time.Duration
	// HealthCheckInterval paces the periodic memory-cleanup sweep over
	// idle instances.
	HealthCheckInterval time.Duration

	// Per-instance health ceilings. An instance failing any of these is
	// retired instead of being reused.
	MaxUsesPerInstance     uint64
	MaxFailuresPerInstance uint64
	MemoryLimitBytes       uint64
	GrowFailureThreshold   uint64
}

// DefaultConfig returns production ceilings.
func DefaultConfig() Config {
	return Config{
		MaxSize:                8,
		MinIdle:                2,
		AcquireTimeout:         10 * time.Second,
		EpochTimeout:           30 * time.Second,
		HealthCheckInterval:    time.Minute,
		MaxUsesPerInstance:     1000,
		MaxFailuresPerInstance: 5,
		MemoryLimitBytes:       256 << 20,
		GrowFailureThreshold:   10,
	}
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("pool: MaxSize must be > 0")
	}
	if c.MinIdle < 0 || c.MinIdle > c.MaxSize {
		return fmt.Errorf("pool: MinIdle must be in [0, MaxSize]")
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("pool: AcquireTimeout must be > 0")
	}
	if c.EpochTimeout <= 0 {
		return fmt.Errorf("pool: EpochTimeout must be > 0")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("pool: HealthCheckInterval must be > 0")
	}
	if c.MaxUsesPerInstance == 0 || c.MaxFailuresPerInstance == 0 {
		return fmt.Errorf("pool: per-instance use and failure ceilings must be > 0")
	}
	if c.MemoryLimitBytes == 0 || c.GrowFailureThreshold == 0 {
		return fmt.Errorf("pool: memory limit and grow-failure threshold must be > 0")
	}
	return nil
}

// Pool is safe for concurrent use. Capacity is a token bucket: creating an
// instance consumes a slot, retiring one returns it, so idle + checked-out
// never exceeds MaxSize.
type Pool struct {
	cfg     Config
	loader  engine.Loader
	limiter GrowthLimiter
	clock   breaker.Clock
	sink    events.Sink

	idle  chan *PooledInstance
	slots chan struct{}

	live    atomic.Int64
	created atomic.Uint64
	retired atomic.Uint64
	closed  atomic.Bool
}

// New constructs a pool. loader is required; limiter and sink may be nil.
// No instances are created until Warm or the first Acquire.
func New(cfg Config, loader engine.Loader, limiter GrowthLimiter, clock breaker.Clock, sink events.Sink) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil {
		return nil, fmt.Errorf("pool: loader is required")
	}
	if clock == nil {
		clock = breaker.SystemClock()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	p := &Pool{
		cfg:     cfg,
		loader:  loader,
		limiter: limiter,
		clock:   clock,
		sink:    sink,
		idle:    make(chan *PooledInstance, cfg.MaxSize),
		slots:   make(chan struct{}, cfg.MaxSize),
	}
	for i := 0; i < cfg.MaxSize; i++ {
		p.slots <- struct{}{}
	}
	return p, nil
}

// Warm pre-creates MinIdle instances so the first requests do not pay the
// engine load cost.
func (p *Pool) Warm(ctx context.Context) error {
	for i := 0; i < p.cfg.MinIdle; i++ {
		select {
		case <-p.slots:
		default:
			return nil
		}
		inst, err := p.create(ctx)
		if err != nil {
			p.slots <- struct{}{}
			return err
		}
		p.idle <- inst
	}
	p.sink.Emit(events.New(events.PoolWarmup, "pool", map[string]string{
		"instances": strconv.Itoa(p.cfg.MinIdle),
	}))
	return nil
}

// Acquire returns a healthy instance: an idle one if available, a freshly
// created one if the pool has room, otherwise it waits until a release or
// until the wait budget elapses (ErrExhausted). A caller context cancelled
// while waiting returns ctx.Err() and charges the pool nothing.
//
// Acquire never returns an instance that fails the health predicate; stale
// idle instances found along the way are retired in place.
func (p *Pool) Acquire(ctx context.Context) (*PooledInstance, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	for {
		// Prefer reuse over creation.
		select {
		case inst := <-p.idle:
			if p.healthy(inst) {
				return inst, nil
			}
			p.retire(inst, "unhealthy_on_acquire")
			continue
		default:
		}

		select {
		case inst := <-p.idle:
			if p.healthy(inst) {
				return inst, nil
			}
			p.retire(inst, "unhealthy_on_acquire")

		case <-p.slots:
			inst, err := p.create(ctx)
			if err != nil {
				// Creation failure does not shrink capacity.
				p.slots <- struct{}{}
				return nil, err
			}
			return inst, nil

		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p.sink.Emit(events.New(events.PoolExhausted, "pool", nil))
			slog.Warn("instance pool exhausted",
				"wait_budget", p.cfg.AcquireTimeout, "max_size", p.cfg.MaxSize)
			return nil, ErrExhausted
		}
	}
}

// Release returns inst to the idle set if it is still healthy. Otherwise the
// instance is retired and a replacement is spawned asynchronously so the pool
// trends back toward its target size.
func (p *Pool) Release(inst *PooledInstance) {
	if p.closed.Load() {
		p.retire(inst, "pool_closed")
		return
	}
	if p.healthy(inst) {
		select {
		case p.idle <- inst:
			return
		default:
		}
		// Idle buffer full only if accounting broke; retire defensively.
	}
	p.retire(inst, "unhealthy_on_release")
	go p.replace()
}

// RecordUsage updates the instance's bookkeeping after one extraction.
// Callers hold exclusive checkout, so no locking is needed.
func (p *Pool) RecordUsage(inst *PooledInstance, success bool) {
	inst.lastUsed = p.clock.Now()
	inst.useCount++
	if !success {
		inst.failureCount++
	}
	inst.memoryUsage = inst.tracker.MemoryBytes()
}

// Execute runs body against a checked-out instance under the epoch deadline.
// If the deadline fires, the instance is condemned and the subsequent Release
// retires it unconditionally, because partial execution state is assumed
// corrupt. The body's goroutine keeps running until it observes the cancelled
// context; its result is discarded.
func (p *Pool) Execute(ctx context.Context, inst *PooledInstance, body func(context.Context) error) error {
	epochCtx, cancel := context.WithTimeout(ctx, p.cfg.EpochTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- body(epochCtx) }()

	select {
	case err := <-done:
		return err
	case <-epochCtx.Done():
		inst.condemn()
		return models.NewExtractError(models.ErrCodeTimeout,
			"extraction exceeded epoch deadline", epochCtx.Err())
	}
}

// Maintain runs the periodic health sweep until ctx is cancelled. Intended
// to run on its own goroutine for the lifetime of the pool.
func (p *Pool) Maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.TriggerMemoryCleanup()
		case <-ctx.Done():
			return
		}
	}
}

// TriggerMemoryCleanup samples idle-instance memory against system pressure
// and emits a cleanup event. Unhealthy idle instances found during the sweep
// are retired and replaced; healthy ones are never evicted.
func (p *Pool) TriggerMemoryCleanup() {
	var (
		kept      []*PooledInstance
		idleBytes uint64
		swept     int
	)
	for {
		select {
		case inst := <-p.idle:
			if p.healthy(inst) {
				idleBytes += inst.tracker.MemoryBytes()
				kept = append(kept, inst)
			} else {
				p.retire(inst, "unhealthy_on_cleanup")
				go p.replace()
				swept++
			}
		default:
			for _, inst := range kept {
				p.idle <- inst
			}
			fields := map[string]string{
				"idle_bytes": strconv.FormatUint(idleBytes, 10),
				"retired":    strconv.Itoa(swept),
			}
			if vm, err := mem.VirtualMemory(); err == nil {
				fields["system_used_percent"] = strconv.FormatFloat(vm.UsedPercent, 'f', 1, 64)
			} else {
				slog.Warn("system memory sampling failed", "error", err)
			}
			p.sink.Emit(events.New(events.PoolMemoryCleanup, "pool", fields))
			return
		}
	}
}

// ClearSome retires up to count idle instances and immediately spawns
// replacements. It is a planned-rebalancing operation, not failure handling,
// and returns how many instances were actually retired.
func (p *Pool) ClearSome(count int) int {
	cleared := 0
	for cleared < count {
		select {
		case inst := <-p.idle:
			p.retire(inst, "cleared")
			go p.replace()
			cleared++
		default:
			count = cleared
		}
	}
	if cleared > 0 {
		p.sink.Emit(events.New(events.PoolCleared, "pool", map[string]string{
			"count": strconv.Itoa(cleared),
		}))
	}
	return cleared
}

// Stats returns a read-only snapshot for health endpoints.
func (p *Pool) Stats() models.PoolSnapshot {
	available := len(p.idle)
	total := int(p.live.Load())
	active := total - available
	if active < 0 {
		active = 0
	}
	return models.PoolSnapshot{
		Available: available,
		Active:    active,
		Total:     total,
		MaxSize:   p.cfg.MaxSize,
		Created:   p.created.Load(),
		Retired:   p.retired.Load(),
	}
}

// Close marks the pool closed and discards all idle instances. Checked-out
// instances are retired as they are released.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		select {
		case inst := <-p.idle:
			p.retire(inst, "pool_closed")
		default:
			return
		}
	}
}

func (p *Pool) create(ctx context.Context) (*PooledInstance, error) {
	eng, err := p.loader.Load(ctx)
	if err != nil {
		return nil, models.NewExtractError(models.ErrCodeEngineLoad,
			"engine instance creation failed", err)
	}
	tracker := NewResourceTracker(p.cfg.MemoryLimitBytes, p.limiter)
	inst := newInstance(eng, tracker, p.clock.Now())
	p.live.Add(1)
	p.created.Add(1)
	slog.Debug("pool instance created", "instance_id", inst.id)
	p.sink.Emit(events.New(events.PoolInstanceCreated, "pool", map[string]string{
		"instance_id": inst.id,
	}))
	return inst, nil
}

func (p *Pool) retire(inst *PooledInstance, reason string) {
	if err := inst.engine.Close(); err != nil {
		slog.Warn("engine close failed", "instance_id", inst.id, "error", err)
	}
	p.live.Add(-1)
	p.retired.Add(1)
	p.slots <- struct{}{}
	slog.Debug("pool instance retired",
		"instance_id", inst.id, "reason", reason,
		"uses", inst.useCount, "failures", inst.failureCount)
	p.sink.Emit(events.New(events.PoolInstanceRetired, "pool", map[string]string{
		"instance_id": inst.id,
		"reason":      reason,
	}))
}

// replace tries to refill one slot after a retirement. Load failure is
// logged and the slot stays available for a later lazy creation.
func (p *Pool) replace() {
	if p.closed.Load() {
		return
	}
	select {
	case <-p.slots:
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()
	inst, err := p.create(ctx)
	if err != nil {
		p.slots <- struct{}{}
		slog.Warn("instance replacement failed", "error", err)
		return
	}
	select {
	case p.idle <- inst:
	default:
		p.retire(inst, "idle_overflow")
	}
}

// healthy is the reuse predicate. Every ceiling must hold or the instance is
// retired rather than returned to a caller.
func (p *Pool) healthy(inst *PooledInstance) bool {
	if inst.isCondemned() {
		return false
	}
	return inst.useCount < p.cfg.MaxUsesPerInstance &&
		inst.failureCount < p.cfg.MaxFailuresPerInstance &&
		inst.memoryUsage < p.cfg.MemoryLimitBytes &&
		inst.tracker.GrowFailures() < p.cfg.GrowFailureThreshold
}
