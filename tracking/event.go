// Package tracking carries diagnostic events out of the planner and the
// pipeline executor.
//
// Events are pushed to a Sink in a fire-and-forget manner: sinks never fail
// the operation that produced the event, and the core never reads events
// back. Journal keeps recent events in memory for inspection, LogSink writes
// them to a structured logger, and Multi fans out to several sinks.
package tracking

import (
	"context"
	"time"
)

// EventKind identifies what happened
type EventKind string

const (
	PlanResolved         EventKind = "plan.resolved"
	PlanFailed           EventKind = "plan.failed"
	InterceptorSucceeded EventKind = "interceptor.succeeded"
	InterceptorFailed    EventKind = "interceptor.failed"
	PipelineCompleted    EventKind = "pipeline.completed"
	PipelineFailed       EventKind = "pipeline.failed"
)

// Event is a single diagnostic record
type Event struct {
	ID         string        `json:"id"`
	Kind       EventKind     `json:"kind"`
	Timestamp  time.Time     `json:"timestamp"`
	TraceID    string        `json:"traceId,omitempty"`
	ExchangeID string        `json:"exchangeId,omitempty"`
	PolicyKey  string        `json:"policyKey,omitempty"`
	Role       string        `json:"role,omitempty"`
	Scope      string        `json:"scope,omitempty"`
	RoleID     string        `json:"roleId,omitempty"`
	Name       string        `json:"name,omitempty"`
	Ordinal    int           `json:"ordinal"`
	RoleIDs    []string      `json:"roleIds,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Failed reports whether the event records a failure
func (e Event) Failed() bool {
	switch e.Kind {
	case PlanFailed, InterceptorFailed, PipelineFailed:
		return true
	default:
		return false
	}
}

// Sink receives diagnostic events
type Sink interface {
	// Publish delivers an event. It must not block for long and must not panic.
	Publish(ctx context.Context, event Event)
}

// SinkFunc is a function adapter for Sink
type SinkFunc func(ctx context.Context, event Event)

// Publish implements Sink
func (f SinkFunc) Publish(ctx context.Context, event Event) {
	f(ctx, event)
}

// Discard drops every event
var Discard Sink = SinkFunc(func(context.Context, Event) {})

type multi []Sink

// Multi returns a sink that publishes to every non-nil sink in order
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Publish implements Sink
func (m multi) Publish(ctx context.Context, event Event) {
	for _, s := range m {
		s.Publish(ctx, event)
	}
}
