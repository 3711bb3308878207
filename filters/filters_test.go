package filters

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/interceptors/interceptortest"
	"github.com/glimte/mmate-policy/policy"
	"github.com/glimte/mmate-policy/registry"
)

const roleX interceptors.RoleID = "test.x"

func candidates() []interceptors.Interceptor {
	return []interceptors.Interceptor{
		interceptortest.NewStub(roleX, "a", interceptortest.WithPriority(3)),
		interceptortest.NewStub(roleX, "b", interceptortest.WithPriority(1)),
		interceptortest.NewStub(roleX, "c", interceptortest.WithPriority(2), interceptortest.WithProperties(map[string]interface{}{"tier": "gold"})),
	}
}

func TestAllowList(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	allow := NewAllowList(PriorityAllowList)

	t.Run("Empty hints yield empty result", func(t *testing.T) {
		out, err := allow.Filter(ctx, candidates(), reg, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("Keeps allowed candidates in input order", func(t *testing.T) {
		hints := []Hint{AllowHint("h", map[string]bool{"c": true, "a": true, "b": false})}
		out, err := allow.Filter(ctx, candidates(), reg, hints)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, interceptortest.Names(out))
	})

	t.Run("Any hint can grant", func(t *testing.T) {
		hints := []Hint{
			AllowHint("first", map[string]bool{"a": false}),
			AllowHint("second", map[string]bool{"a": true}),
		}
		out, err := allow.Filter(ctx, candidates(), reg, hints)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, interceptortest.Names(out))
	})

	t.Run("Non-mapping payloads are ignored", func(t *testing.T) {
		hints := []Hint{
			{Name: HintContext, Payload: ContextHint{Role: policy.Provider}},
			{Name: "text", Payload: "a"},
			{Name: "generic", Payload: map[string]interface{}{"b": true, "c": "yes"}},
		}
		out, err := allow.Filter(ctx, candidates(), reg, hints)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, interceptortest.Names(out))
	})

	t.Run("Idempotent", func(t *testing.T) {
		hints := []Hint{AllowHint("h", map[string]bool{"a": true, "c": true})}
		once, err := allow.Filter(ctx, candidates(), reg, hints)
		require.NoError(t, err)
		twice, err := allow.Filter(ctx, once, reg, hints)
		require.NoError(t, err)
		assert.Equal(t, interceptortest.Names(once), interceptortest.Names(twice))
	})

	t.Run("Does not mutate input", func(t *testing.T) {
		in := candidates()
		_, err := allow.Filter(ctx, in, reg, []Hint{AllowHint("h", map[string]bool{"c": true})})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, interceptortest.Names(in))
	})

	t.Run("AllowHint copies its map", func(t *testing.T) {
		m := map[string]bool{"a": true}
		h := AllowHint("h", m)
		m["a"] = false
		assert.True(t, h.Payload.(map[string]bool)["a"])
	})
}

func TestDenyList(t *testing.T) {
	deny := NewDenyList(PriorityDenyList)
	out, err := deny.Filter(context.Background(), candidates(), registry.New(), []Hint{
		AllowHint("h", map[string]bool{"b": false, "c": true}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, interceptortest.Names(out))

	out, err = deny.Filter(context.Background(), candidates(), registry.New(), nil)
	require.NoError(t, err)
	assert.Len(t, out, 3)
}

func TestPrioritySort(t *testing.T) {
	s := NewPrioritySort(PriorityPrioritySort)
	in := candidates()
	out, err := s.Filter(context.Background(), in, registry.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, interceptortest.Names(out))
	assert.Equal(t, []string{"a", "b", "c"}, interceptortest.Names(in))
}

func TestCEL(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()

	t.Run("Filters by descriptor", func(t *testing.T) {
		c, err := NewCEL("interceptor.priority < 3", PriorityCEL)
		require.NoError(t, err)
		out, err := c.Filter(ctx, candidates(), reg, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, interceptortest.Names(out))
	})

	t.Run("Sees properties and context", func(t *testing.T) {
		c, err := NewCEL(`role == "provider" && scope == "eu" && "tier" in interceptor.properties`, PriorityCEL)
		require.NoError(t, err)
		hints := []Hint{{Name: HintContext, Payload: ContextHint{Role: policy.Provider, Scope: "eu"}}}
		out, err := c.Filter(ctx, candidates(), reg, hints)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, interceptortest.Names(out))

		hints = []Hint{{Name: HintContext, Payload: ContextHint{Role: policy.Requester, Scope: "eu"}}}
		out, err = c.Filter(ctx, candidates(), reg, hints)
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("Hint expressions add conditions", func(t *testing.T) {
		c, err := NewCEL("", PriorityCEL)
		require.NoError(t, err)

		out, err := c.Filter(ctx, candidates(), reg, nil)
		require.NoError(t, err)
		assert.Len(t, out, 3)

		out, err = c.Filter(ctx, candidates(), reg, []Hint{{Name: HintCELExpression, Payload: `interceptor.name != "a"`}})
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, interceptortest.Names(out))
	})

	t.Run("Hints are visible", func(t *testing.T) {
		c, err := NewCEL(`interceptor.name in hints.preferred`, PriorityCEL)
		require.NoError(t, err)
		out, err := c.Filter(ctx, candidates(), reg, []Hint{AllowHint("preferred", map[string]bool{"b": true})})
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, interceptortest.Names(out))
	})

	t.Run("Compile errors", func(t *testing.T) {
		_, err := NewCEL("interceptor.priority <", PriorityCEL)
		assert.Error(t, err)

		_, err = NewCEL(`"not a bool"`, PriorityCEL)
		assert.Error(t, err)

		c, err := NewCEL("", PriorityCEL)
		require.NoError(t, err)
		_, err = c.Filter(ctx, candidates(), reg, []Hint{{Name: HintCELExpression, Payload: "))"}})
		assert.Error(t, err)
	})

	t.Run("Runtime errors", func(t *testing.T) {
		c, err := NewCEL("interceptor.missing == 1", PriorityCEL)
		require.NoError(t, err)
		_, err = c.Filter(ctx, candidates(), reg, nil)
		assert.Error(t, err)
	})

	t.Run("Concurrent use", func(t *testing.T) {
		c, err := NewCEL("", PriorityCEL)
		require.NoError(t, err)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := c.Filter(ctx, candidates(), reg, []Hint{{Name: HintCELExpression, Payload: "interceptor.priority > 1"}})
				assert.NoError(t, err)
				assert.Len(t, out, 2)
			}()
		}
		wg.Wait()
	})
}

func TestSet(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()

	t.Run("Empty set returns candidates", func(t *testing.T) {
		out, err := NewSet().Apply(ctx, candidates(), reg, nil)
		require.NoError(t, err)
		assert.Len(t, out, 3)
	})

	t.Run("Applies in ascending priority", func(t *testing.T) {
		var order []string
		record := func(name string, priority int) Strategy {
			return NewStrategyFunc(name, priority, func(ctx context.Context, c []interceptors.Interceptor, r registry.Reader, h []Hint) ([]interceptors.Interceptor, error) {
				order = append(order, name)
				return c, nil
			})
		}

		s := NewSet()
		require.NoError(t, s.Add(record("late", 50)))
		require.NoError(t, s.Add(record("early", 10)))
		require.NoError(t, s.Add(record("tie-first", 20)))
		require.NoError(t, s.Add(record("tie-second", 20)))

		_, err := s.Apply(ctx, candidates(), reg, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"early", "tie-first", "tie-second", "late"}, order)

		names := make([]string, 0)
		for _, st := range s.Strategies() {
			names = append(names, st.Name())
		}
		assert.Equal(t, order, names)
	})

	t.Run("Chains output to input", func(t *testing.T) {
		s := NewSet()
		require.NoError(t, s.Add(NewAllowList(PriorityAllowList)))
		require.NoError(t, s.Add(NewPrioritySort(PriorityPrioritySort)))

		hints := []Hint{AllowHint("h", map[string]bool{"a": true, "b": true})}
		out, err := s.Apply(ctx, candidates(), reg, hints)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, interceptortest.Names(out))
	})

	t.Run("Rejects duplicates and removes by name", func(t *testing.T) {
		s := NewSet()
		v0 := s.Version()
		require.NoError(t, s.Add(NewAllowList(1)))
		assert.ErrorIs(t, s.Add(NewAllowList(2)), ErrDuplicateStrategy)
		assert.Greater(t, s.Version(), v0)

		require.NoError(t, s.Remove("allow-list"))
		assert.ErrorIs(t, s.Remove("allow-list"), ErrStrategyNotFound)
		assert.Empty(t, s.Strategies())
	})

	t.Run("Wraps strategy errors", func(t *testing.T) {
		boom := errors.New("boom")
		s := NewSet()
		require.NoError(t, s.Add(NewStrategyFunc("broken", 1, func(ctx context.Context, c []interceptors.Interceptor, r registry.Reader, h []Hint) ([]interceptors.Interceptor, error) {
			return nil, boom
		})))
		_, err := s.Apply(ctx, candidates(), reg, nil)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "broken")
	})

	t.Run("Rejects output outside the input", func(t *testing.T) {
		s := NewSet()
		require.NoError(t, s.Add(NewStrategyFunc("inventive", 1, func(ctx context.Context, c []interceptors.Interceptor, r registry.Reader, h []Hint) ([]interceptors.Interceptor, error) {
			return append(c, interceptortest.NewStub(roleX, "new")), nil
		})))
		_, err := s.Apply(ctx, candidates(), reg, nil)
		assert.ErrorIs(t, err, ErrNotSubset)
	})

	t.Run("Stops once nothing is left", func(t *testing.T) {
		called := false
		s := NewSet()
		require.NoError(t, s.Add(NewAllowList(1)))
		require.NoError(t, s.Add(NewStrategyFunc("after", 2, func(ctx context.Context, c []interceptors.Interceptor, r registry.Reader, h []Hint) ([]interceptors.Interceptor, error) {
			called = true
			return c, nil
		})))
		out, err := s.Apply(ctx, candidates(), reg, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.False(t, called)
	})
}
