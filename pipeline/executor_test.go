package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/interceptors/interceptortest"
	"github.com/glimte/mmate-policy/policy"
	"github.com/glimte/mmate-policy/tracking"
)

func planOf(ics ...interceptors.Interceptor) *Plan {
	steps := make([]Step, len(ics))
	for i, ic := range ics {
		steps[i] = Step{Interceptor: ic}
	}
	return NewPlan("test-policy", policy.Provider, "default", steps)
}

func TestPlan(t *testing.T) {
	a := interceptortest.NewStub("role.a", "a")
	b := interceptortest.NewStub("role.b", "b")
	p := NewPlan("k", policy.Requester, "s", []Step{
		{Ordinal: 7, Interceptor: a},
		{Ordinal: 7, Interceptor: b},
	})

	assert.Equal(t, "k", p.PolicyKey())
	assert.Equal(t, policy.Requester, p.Role())
	assert.Equal(t, policy.Scope("s"), p.Scope())
	assert.Equal(t, 2, p.Len())
	assert.Equal(t, []string{"role.a", "role.b"}, p.RoleIDs())
	assert.Equal(t, []string{"a", "b"}, p.Names())
	assert.Len(t, p.Interceptors(), 2)

	steps := p.Steps()
	assert.Equal(t, 0, steps[0].Ordinal)
	assert.Equal(t, 1, steps[1].Ordinal)
	steps[0].Ordinal = 99
	assert.Equal(t, 0, p.Steps()[0].Ordinal)
}

func TestExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("Runs every step in order", func(t *testing.T) {
		log := &interceptortest.Log{}
		a := interceptortest.NewStub("role.a", "a", interceptortest.WithLog(log))
		b := interceptortest.NewStub("role.b", "b", interceptortest.WithLog(log))
		c := interceptortest.NewStub("role.c", "c", interceptortest.WithLog(log))

		ex := contracts.NewExchange("T", contracts.Inbound, nil)
		result, err := NewExecutor().Execute(ctx, planOf(a, b, c), ex)
		require.NoError(t, err)

		assert.Equal(t, []string{"a", "b", "c"}, log.Names())
		assert.Equal(t, StateCompleted, result.State)
		assert.Equal(t, 2, result.Current)
		assert.Len(t, result.Steps, 3)
		assert.Same(t, ex, result.Exchange)
	})

	t.Run("Fails fast with ordinal and identity", func(t *testing.T) {
		cause := errors.New("signature rejected")
		log := &interceptortest.Log{}
		a := interceptortest.NewStub("role.a", "a", interceptortest.WithLog(log))
		b := interceptortest.NewStub("role.b", "b", interceptortest.WithLog(log), interceptortest.WithError(cause))
		c := interceptortest.NewStub("role.c", "c", interceptortest.WithLog(log))

		result, err := NewExecutor().Execute(ctx, planOf(a, b, c), contracts.NewExchange("T", contracts.Inbound, nil))
		require.Error(t, err)

		pe, ok := AsProcessingError(err)
		require.True(t, ok)
		assert.Equal(t, 1, pe.Ordinal)
		assert.Equal(t, interceptors.RoleID("role.b"), pe.RoleID)
		assert.Equal(t, "b", pe.Name)
		assert.ErrorIs(t, err, cause)
		assert.ErrorIs(t, err, ErrInterceptorFailed)

		assert.Equal(t, 0, c.Calls())
		assert.Equal(t, []string{"a", "b"}, log.Names())
		assert.Equal(t, StateFailed, result.State)
		assert.Equal(t, 1, result.Current)
		assert.Len(t, result.Steps, 2)
		assert.Equal(t, err, result.Err)
	})

	t.Run("Short-circuit is an ordinary failure", func(t *testing.T) {
		after := interceptortest.NewStub("role.after", "after")
		fault := interceptors.NewFault("role.fault", "injected")

		_, err := NewExecutor().Execute(ctx, planOf(fault, after), contracts.NewExchange("T", contracts.Inbound, nil))
		pe, ok := AsProcessingError(err)
		require.True(t, ok)
		assert.Equal(t, 0, pe.Ordinal)
		assert.True(t, interceptors.IsShortCircuit(err))
		assert.Equal(t, 0, after.Calls())
	})

	t.Run("Recovers panics", func(t *testing.T) {
		boom := interceptors.NewExtension("role.panic", "panicky", func(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
			panic("unexpected state")
		})

		result, err := NewExecutor().Execute(ctx, planOf(boom), contracts.NewExchange("T", contracts.Inbound, nil))
		assert.ErrorIs(t, err, ErrInterceptorPanic)
		assert.Equal(t, StateFailed, result.State)
	})

	t.Run("Empty plan completes", func(t *testing.T) {
		result, err := NewExecutor().Execute(ctx, planOf(), contracts.NewExchange("T", contracts.Inbound, nil))
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, result.State)
		assert.Equal(t, -1, result.Current)
	})

	t.Run("Rejects nil arguments", func(t *testing.T) {
		_, err := NewExecutor().Execute(ctx, nil, contracts.NewExchange("T", contracts.Inbound, nil))
		assert.ErrorIs(t, err, ErrNilPlan)
		_, err = NewExecutor().Execute(ctx, planOf(), nil)
		assert.ErrorIs(t, err, ErrNilExchange)
	})

	t.Run("Passes assertion params", func(t *testing.T) {
		stub := interceptortest.NewStub("role.a", "a")
		plan := NewPlan("k", policy.Provider, "", []Step{{
			Interceptor: stub,
			Assertion:   policy.Assertion{Type: "a", Params: policy.Params{"level": 3}},
		}})

		_, err := NewExecutor().Execute(ctx, plan, contracts.NewExchange("T", contracts.Inbound, nil))
		require.NoError(t, err)
		require.Len(t, stub.Params(), 1)
		assert.Equal(t, 3, stub.Params()[0]["level"])
	})

	t.Run("Steps share the exchange", func(t *testing.T) {
		writer := interceptors.NewExtension("role.w", "writer", func(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
			ex.SetHeader("X-Step", "written")
			ex.Props().Set("seen", 1)
			return nil
		})
		var got string
		reader := interceptors.NewExtension("role.r", "reader", func(ctx context.Context, ex *contracts.Exchange, params policy.Params) error {
			got, _ = ex.Header("X-Step")
			return nil
		})

		_, err := NewExecutor().Execute(ctx, planOf(writer, reader), contracts.NewExchange("T", contracts.Inbound, nil))
		require.NoError(t, err)
		assert.Equal(t, "written", got)
	})

	t.Run("Does not stop on cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		a := interceptortest.NewStub("role.a", "a")
		b := interceptortest.NewStub("role.b", "b")

		result, err := NewExecutor().Execute(cancelled, planOf(a, b), contracts.NewExchange("T", contracts.Inbound, nil))
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, result.State)
		assert.Equal(t, 1, b.Calls())
	})

	t.Run("Concurrent executions of one plan", func(t *testing.T) {
		a := interceptortest.NewStub("role.a", "a")
		plan := planOf(a, interceptors.NewCorrelation())
		exec := NewExecutor()

		var wg sync.WaitGroup
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ex := contracts.NewExchange("T", contracts.Outbound, nil)
				_, err := exec.Execute(ctx, plan, ex)
				assert.NoError(t, err)
				assert.NotEmpty(t, ex.CorrelationID)
			}()
		}
		wg.Wait()
		assert.Equal(t, 25, a.Calls())
	})
}

func TestExecutorEvents(t *testing.T) {
	ctx := context.Background()
	journal := tracking.NewJournal()
	exec := NewExecutor(WithSink(journal))

	a := interceptortest.NewStub("role.a", "a")
	b := interceptortest.NewStub("role.b", "b", interceptortest.WithError(errors.New("boom")))

	ex := contracts.NewExchange("T", contracts.Inbound, nil)
	ex.TraceID = "trace-1"
	_, err := exec.Execute(ctx, planOf(a, b), ex)
	require.Error(t, err)

	events := journal.GetByTraceID("trace-1")
	require.Len(t, events, 3)

	assert.Equal(t, tracking.InterceptorSucceeded, events[0].Kind)
	assert.Equal(t, "role.a", events[0].RoleID)
	assert.Equal(t, 0, events[0].Ordinal)

	assert.Equal(t, tracking.InterceptorFailed, events[1].Kind)
	assert.Equal(t, "role.b", events[1].RoleID)
	assert.Equal(t, 1, events[1].Ordinal)
	assert.Equal(t, "boom", events[1].Error)

	assert.Equal(t, tracking.PipelineFailed, events[2].Kind)
	assert.Equal(t, 1, events[2].Ordinal)
	assert.Equal(t, []string{"role.a", "role.b"}, events[2].RoleIDs)
	assert.Equal(t, "test-policy", events[2].PolicyKey)
	assert.Equal(t, ex.ID, events[2].ExchangeID)
}

func TestExecutorSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	exec := NewExecutor(WithTracer(provider.Tracer("test")))

	a := interceptortest.NewStub("role.a", "a")
	b := interceptortest.NewStub("role.b", "b", interceptortest.WithError(errors.New("boom")))

	_, err := exec.Execute(context.Background(), planOf(a, b), contracts.NewExchange("T", contracts.Inbound, nil))
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "interceptor.process", spans[0].Name())
	assert.Equal(t, "interceptor.process", spans[1].Name())
	assert.Equal(t, "pipeline.execute", spans[2].Name())

	assert.NotEqual(t, "Error", spans[0].Status().Code.String())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
	assert.Equal(t, "Error", spans[2].Status().Code.String())
	assert.Equal(t, spans[2].SpanContext().SpanID(), spans[0].Parent().SpanID())
}

func TestState(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(9)", State(9).String())
}
