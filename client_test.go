package mmate

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-policy/config"
	"github.com/glimte/mmate-policy/contracts"
	"github.com/glimte/mmate-policy/filters"
	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/interceptors/interceptortest"
	"github.com/glimte/mmate-policy/pipeline"
	"github.com/glimte/mmate-policy/planner"
	"github.com/glimte/mmate-policy/policy"
	"github.com/glimte/mmate-policy/tracking"
)

const signingKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func overTheWire(out *contracts.Exchange) *contracts.Exchange {
	in := contracts.NewExchange(out.Type, contracts.Inbound, out.Body)
	for _, name := range out.HeaderNames() {
		v, _ := out.Header(name)
		in.SetHeader(name, v)
	}
	return in
}

func TestEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("Processes an exchange through the planned pipeline", func(t *testing.T) {
		log := &interceptortest.Log{}
		journal := tracking.NewJournal()
		e := NewEngine(WithJournal(journal))
		require.NoError(t, e.Register(interceptortest.NewStub(interceptors.RoleCorrelation, "corr", interceptortest.WithLog(log))))
		require.NoError(t, e.Register(interceptortest.NewStub(interceptors.RoleSigning, "sign", interceptortest.WithLog(log))))

		pol := policy.MustNew("orders",
			policy.Assertion{Type: policy.AssertionSigning},
			policy.Assertion{Type: policy.AssertionCorrelation},
		)
		ex := contracts.NewExchange("orders.created", contracts.Outbound, []byte("{}"))
		ex.TraceID = "trace-42"

		result, err := e.Process(ctx, pol, policy.Requester, "", ex)
		require.NoError(t, err)
		assert.Equal(t, pipeline.StateCompleted, result.State)
		assert.Equal(t, []string{"sign", "corr"}, log.Names())

		events := journal.GetByTraceID("trace-42")
		require.NotEmpty(t, events)
		assert.Equal(t, tracking.PlanResolved, events[0].Kind)
		assert.Equal(t, tracking.PipelineCompleted, events[len(events)-1].Kind)
	})

	t.Run("Planning failure runs nothing", func(t *testing.T) {
		stub := interceptortest.NewStub(interceptors.RoleCorrelation, "corr")
		e := NewEngine()
		require.NoError(t, e.Register(stub))

		pol := policy.MustNew("needs-signing",
			policy.Assertion{Type: policy.AssertionCorrelation},
			policy.Assertion{Type: policy.AssertionSigning},
		)
		result, err := e.Process(ctx, pol, policy.Requester, "", contracts.NewExchange("x", contracts.Outbound, nil))
		assert.Nil(t, result)
		assert.True(t, errors.Is(err, planner.ErrPolicyUnsatisfiable))
		assert.Equal(t, 0, stub.Calls())
	})

	t.Run("Nil exchange is rejected", func(t *testing.T) {
		e := NewEngine()
		_, err := e.Process(ctx, policy.MustNew("x"), policy.Requester, "", nil)
		assert.ErrorIs(t, err, pipeline.ErrNilExchange)
	})

	t.Run("Strategies and hints shape the plan", func(t *testing.T) {
		e := NewEngine()
		require.NoError(t, e.Register(interceptortest.NewStub(interceptors.RoleCompression, "zstd")))
		require.NoError(t, e.Register(interceptortest.NewStub(interceptors.RoleCompression, "lz4")))
		require.NoError(t, e.RegisterStrategy(filters.NewDenyList(filters.PriorityDenyList)))

		pol := policy.MustNew("compress", policy.Assertion{Type: policy.AssertionCompression})
		plan, err := e.Plan(ctx, planner.Request{
			Policy: pol,
			Role:   policy.Provider,
			Hints:  []filters.Hint{filters.AllowHint("ops", map[string]bool{"zstd": false})},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"lz4"}, plan.Names())

		require.NoError(t, e.RemoveStrategy("deny-list"))
		require.NoError(t, e.Unregister(interceptors.RoleCompression, "zstd"))
		plan, err = e.Plan(ctx, planner.Request{Policy: pol, Role: policy.Provider})
		require.NoError(t, err)
		assert.Equal(t, []string{"lz4"}, plan.Names())
	})

	t.Run("Accessors", func(t *testing.T) {
		e := NewEngine(WithPlanCache(8))
		assert.NotNil(t, e.Registry())
		assert.NotNil(t, e.Strategies())
		assert.Len(t, e.Capabilities().All(), 5)
		assert.Nil(t, e.Journal())
		assert.Nil(t, e.Metrics())
		assert.NotNil(t, e.Logger())
	})
}

func TestNewEngineFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("Defaults register built-in interceptors", func(t *testing.T) {
		e, err := NewEngineFromConfig(nil)
		require.NoError(t, err)

		roles := e.Registry().Snapshot().Roles()
		assert.Contains(t, roles, interceptors.RoleCorrelation)
		assert.Contains(t, roles, interceptors.RoleCompression)
		assert.Contains(t, roles, interceptors.RoleTransformation)
		assert.NotContains(t, roles, interceptors.RoleSigning)
		assert.Len(t, e.Strategies().Strategies(), 1)
	})

	t.Run("Compression round trip", func(t *testing.T) {
		e, err := NewEngineFromConfig(nil)
		require.NoError(t, err)

		pol := policy.MustNew("compressed",
			policy.Assertion{Type: policy.AssertionCorrelation},
			policy.Assertion{Type: policy.AssertionCompression},
		)
		body := bytes.Repeat([]byte(`{"item":"widget","qty":1}`), 100)

		out := contracts.NewExchange("orders", contracts.Outbound, append([]byte(nil), body...))
		_, err = e.Process(ctx, pol, policy.Requester, "", out)
		require.NoError(t, err)
		assert.Less(t, len(out.Body), len(body))
		enc, _ := out.Header(contracts.HeaderContentEncoding)
		assert.Equal(t, interceptors.AlgorithmZstd, enc)

		in := overTheWire(out)
		_, err = e.Process(ctx, pol, policy.Provider, "", in)
		require.NoError(t, err)
		assert.Equal(t, body, in.Body)
		assert.Equal(t, out.CorrelationID, in.CorrelationID)
	})

	t.Run("Signed and authenticated round trip", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Interceptors.Signing.Enabled = true
		cfg.Interceptors.Signing.Key = signingKey
		cfg.Interceptors.Authentication.Enabled = true
		cfg.Interceptors.Authentication.Secret = "shared-secret"
		cfg.Interceptors.Authentication.Issuer = "mmate"
		cfg.Metrics.Enabled = true

		e, err := NewEngineFromConfig(cfg)
		require.NoError(t, err)
		require.NotNil(t, e.Metrics())

		auth := policy.Assertion{Type: policy.AssertionAuthentication, Params: policy.Params{"subject": "billing"}}
		pol := policy.MustNew("secure",
			policy.Assertion{Type: policy.AssertionCorrelation},
			policy.Assertion{Type: policy.AssertionSigning},
			auth,
		)

		out := contracts.NewExchange("invoice", contracts.Outbound, []byte(`{"total":10}`))
		_, err = e.Process(ctx, pol, policy.Requester, "", out)
		require.NoError(t, err)

		in := overTheWire(out)
		_, err = e.Process(ctx, pol, policy.Provider, "", in)
		require.NoError(t, err)
		subject, _ := in.Props().GetString(interceptors.PropertyAuthSubject)
		assert.Equal(t, "billing", subject)

		tampered := overTheWire(out)
		tampered.Body = []byte(`{"total":1000}`)
		result, err := e.Process(ctx, pol, policy.Provider, "", tampered)
		require.Error(t, err)
		assert.ErrorIs(t, err, interceptors.ErrSignatureMismatch)
		assert.Equal(t, pipeline.StateFailed, result.State)
		assert.Equal(t, 1, result.Current)

		count, err := testutil.GatherAndCount(e.Metrics().Registry(), "mmate_policy_pipelines_total")
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("Invalid configuration is rejected", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Strategies.CEL.Enabled = true
		_, err := NewEngineFromConfig(cfg)
		assert.Error(t, err)
	})

	t.Run("Configured strategies and capabilities", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.Strategies.AllowList.Enabled = true
		cfg.Strategies.PrioritySort.Enabled = true
		cfg.Strategies.CEL.Enabled = true
		cfg.Strategies.CEL.Expression = "interceptor.priority >= 0"
		cfg.Planner.Capabilities = []config.CapabilityConfig{{
			AssertionType: "audit",
			RoleID:        "acme.capability.audit",
			Roles:         []string{"provider"},
		}}

		e, err := NewEngineFromConfig(cfg)
		require.NoError(t, err)
		assert.Len(t, e.Strategies().Strategies(), 4)

		c, ok := e.Capabilities().Resolve("audit")
		require.True(t, ok)
		assert.Equal(t, []policy.Role{policy.Provider}, c.Roles)
	})
}
