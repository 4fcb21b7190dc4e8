// Package events is the best-effort notification port for pool and breaker
// lifecycle events. Sinks are invoked after the originating state transition
// has already been committed; a slow or failing sink never gates the core.
package events

import (
	"log/slog"
	"time"
)

// Type identifies the kind of lifecycle event.
type Type string

const (
	PoolWarmup          Type = "pool.warmup"
	PoolInstanceCreated Type = "pool.instance_created"
	PoolInstanceRetired Type = "pool.instance_retired"
	PoolExhausted       Type = "pool.exhausted"
	PoolMemoryCleanup   Type = "pool.memory_cleanup"
	PoolCleared         Type = "pool.cleared"

	BreakerOpened   Type = "breaker.opened"
	BreakerHalfOpen Type = "breaker.half_open"
	BreakerClosed   Type = "breaker.closed"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      Type              `json:"type"`
	Source    string            `json:"source"` // pool ID or backend name
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// New creates an event stamped with the current time.
func New(t Type, source string, fields map[string]string) Event {
	return Event{Type: t, Source: source, Timestamp: time.Now(), Fields: fields}
}

// Sink receives lifecycle events. Implementations must return quickly;
// anything expensive belongs on a goroutine inside the sink.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// LogSink writes events to slog at debug level.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	attrs := make([]any, 0, 2+2*len(e.Fields))
	attrs = append(attrs, "type", string(e.Type), "source", e.Source)
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	slog.Debug("lifecycle event", attrs...)
}

// Multi fans an event out to several sinks.
type Multi []Sink

func (m Multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
