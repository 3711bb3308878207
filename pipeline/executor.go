package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/tracking"
)

const tracerName = "github.com/glimte/mmate-policy/pipeline"

// State is the lifecycle state of one execution
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StepResult records the outcome of one executed step
type StepResult struct {
	Ordinal  int
	RoleID   string
	Name     string
	Duration time.Duration
	Err      error
}

// Result records an execution. Current is the ordinal of the step that was
// running when the execution ended, or -1 when no step ran.
type Result struct {
	State    State
	Current  int
	Steps    []StepResult
	Exchange *contracts.Exchange
	Err      error
	Duration time.Duration
}

// Executor runs plans against exchanges
type Executor struct {
	logger *slog.Logger
	sink   tracking.Sink
	tracer trace.Tracer
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSink sets the diagnostic event sink
func WithSink(sink tracking.Sink) ExecutorOption {
	return func(e *Executor) {
		if sink != nil {
			e.sink = sink
		}
	}
}

// WithTracer sets the tracer used for execution spans
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// NewExecutor creates a new executor
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: slog.Default(),
		sink:   tracking.Discard,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every step of plan against ex in order. The first failing step
// stops the pipeline and its error is returned as a *ProcessingError; later
// steps never run. The context is handed to interceptors but is not checked
// between steps.
func (e *Executor) Execute(ctx context.Context, plan *Plan, ex *contracts.Exchange) (*Result, error) {
	if plan == nil {
		return nil, ErrNilPlan
	}
	if ex == nil {
		return nil, ErrNilExchange
	}

	result := &Result{
		State:    StatePending,
		Current:  -1,
		Steps:    make([]StepResult, 0, plan.Len()),
		Exchange: ex,
	}

	ctx, span := e.tracer.Start(ctx, "pipeline.execute",
		trace.WithAttributes(
			attribute.String("mmate.policy", plan.PolicyKey()),
			attribute.String("mmate.role", plan.Role().String()),
			attribute.String("mmate.scope", string(plan.Scope())),
			attribute.String("mmate.exchange_id", ex.ID),
			attribute.Int("mmate.steps", plan.Len()),
		))
	defer span.End()

	start := time.Now()
	for _, step := range plan.steps {
		result.State = StateRunning
		result.Current = step.Ordinal

		sr, err := e.runStep(ctx, step, ex)
		result.Steps = append(result.Steps, sr)

		if err != nil {
			desc := step.Interceptor.Descriptor()
			perr := &ProcessingError{
				Ordinal: step.Ordinal,
				RoleID:  desc.RoleID,
				Name:    desc.Name,
				Err:     err,
			}
			result.State = StateFailed
			result.Err = perr
			result.Duration = time.Since(start)

			span.RecordError(perr)
			span.SetStatus(codes.Error, perr.Error())
			e.logger.Warn("pipeline failed",
				"traceId", ex.TraceID,
				"exchangeId", ex.ID,
				"ordinal", step.Ordinal,
				"roleId", desc.RoleID,
				"name", desc.Name,
				"error", err,
			)
			e.sink.Publish(ctx, e.pipelineEvent(tracking.PipelineFailed, plan, ex, result, perr))
			return result, perr
		}
	}

	result.State = StateCompleted
	result.Duration = time.Since(start)
	span.SetStatus(codes.Ok, "")
	e.sink.Publish(ctx, e.pipelineEvent(tracking.PipelineCompleted, plan, ex, result, nil))
	return result, nil
}

func (e *Executor) runStep(ctx context.Context, step Step, ex *contracts.Exchange) (StepResult, error) {
	desc := step.Interceptor.Descriptor()
	sr := StepResult{
		Ordinal: step.Ordinal,
		RoleID:  string(desc.RoleID),
		Name:    desc.Name,
	}

	ctx, span := e.tracer.Start(ctx, "interceptor.process",
		trace.WithAttributes(
			attribute.String("mmate.role_id", string(desc.RoleID)),
			attribute.String("mmate.interceptor", desc.Name),
			attribute.String("mmate.kind", desc.Kind.String()),
			attribute.Int("mmate.ordinal", step.Ordinal),
		))
	defer span.End()

	start := time.Now()
	err := e.invoke(ctx, step, ex)
	sr.Duration = time.Since(start)
	sr.Err = err

	event := tracking.Event{
		Kind:       tracking.InterceptorSucceeded,
		TraceID:    ex.TraceID,
		ExchangeID: ex.ID,
		RoleID:     sr.RoleID,
		Name:       sr.Name,
		Ordinal:    sr.Ordinal,
		Duration:   sr.Duration,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		event.Kind = tracking.InterceptorFailed
		event.Error = err.Error()
	} else {
		e.logger.Debug("interceptor processed",
			"traceId", ex.TraceID,
			"ordinal", step.Ordinal,
			"roleId", desc.RoleID,
			"duration", sr.Duration,
		)
	}
	e.sink.Publish(ctx, event)

	return sr, err
}

// invoke calls the interceptor, turning a panic into an error
func (e *Executor) invoke(ctx context.Context, step Step, ex *contracts.Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInterceptorPanic, r)
		}
	}()
	return step.Interceptor.Process(ctx, ex, step.Assertion.Params)
}

func (e *Executor) pipelineEvent(kind tracking.EventKind, plan *Plan, ex *contracts.Exchange, result *Result, err error) tracking.Event {
	event := tracking.Event{
		Kind:       kind,
		TraceID:    ex.TraceID,
		ExchangeID: ex.ID,
		PolicyKey:  plan.PolicyKey(),
		Role:       plan.Role().String(),
		Scope:      string(plan.Scope()),
		Ordinal:    result.Current,
		RoleIDs:    plan.RoleIDs(),
		Duration:   result.Duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}
