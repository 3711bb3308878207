// Package planner turns policies into ordered interceptor plans.
//
// For each assertion that applies to the requesting role the planner resolves
// the capability role identifier, looks up the registered candidates, runs the
// configured filter strategies and keeps the first survivor. A plan is either
// complete or not produced at all.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-policy/filters"
	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/pipeline"
	"github.com/glimte/mmate-policy/policy"
	"github.com/glimte/mmate-policy/registry"
	"github.com/glimte/mmate-policy/tracking"
)

// Source provides consistent registry snapshots
type Source interface {
	Snapshot() *registry.Snapshot
}

// Request describes one planning call
type Request struct {
	Policy  *policy.Policy
	Role    policy.Role
	Scope   policy.Scope
	TraceID string
	// Hints are passed to filter strategies in addition to the hints
	// derived from the policy and the request context
	Hints []filters.Hint
}

// Planner computes plans from policies
type Planner struct {
	source       Source
	strategies   *filters.Set
	capabilities *CapabilityTable
	cache        *planCache
	logger       *slog.Logger
	sink         tracking.Sink
}

// Option configures a Planner
type Option func(*Planner)

// WithStrategies sets the filter strategy set
func WithStrategies(set *filters.Set) Option {
	return func(p *Planner) {
		if set != nil {
			p.strategies = set
		}
	}
}

// WithCapabilities sets the capability table
func WithCapabilities(table *CapabilityTable) Option {
	return func(p *Planner) {
		if table != nil {
			p.capabilities = table
		}
	}
}

// WithCache enables a plan cache holding up to size plans
func WithCache(size int) Option {
	return func(p *Planner) {
		if size > 0 {
			p.cache = newPlanCache(size)
		} else {
			p.cache = nil
		}
	}
}

// WithLogger sets the planner logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSink sets the diagnostic event sink
func WithSink(sink tracking.Sink) Option {
	return func(p *Planner) {
		if sink != nil {
			p.sink = sink
		}
	}
}

// New creates a planner reading interceptors from source
func New(source Source, opts ...Option) *Planner {
	p := &Planner{
		source:       source,
		strategies:   filters.NewSet(),
		capabilities: DefaultCapabilities(),
		logger:       slog.Default(),
		sink:         tracking.Discard,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capabilities returns the capability table in use
func (p *Planner) Capabilities() *CapabilityTable {
	return p.capabilities
}

// Strategies returns the filter strategy set in use
func (p *Planner) Strategies() *filters.Set {
	return p.strategies
}

// Plan computes the interceptor plan for req. All lookups use a single
// registry snapshot, so concurrent registrations never produce a mixed plan.
//
// An assertion's Allow map only filters that assertion's candidates; request
// hints apply to every assertion. A repeated assertion for a capability that
// is not repeatable is skipped, so such a plan is shorter than its list of
// applicable assertions.
func (p *Planner) Plan(ctx context.Context, req Request) (*pipeline.Plan, error) {
	start := time.Now()

	if req.Policy == nil {
		return nil, p.fail(ctx, req, &PlanningError{Kind: ErrInvalidRequest, Index: -1, Reason: "policy is nil"})
	}
	if !req.Role.Valid() {
		return nil, p.fail(ctx, req, &PlanningError{Kind: ErrInvalidRequest, Index: -1, Reason: fmt.Sprintf("invalid role %d", int(req.Role))})
	}

	snap := p.source.Snapshot()

	var key cacheKey
	cacheable := p.cache != nil && len(req.Hints) == 0
	if cacheable {
		key = cacheKey{
			policyID:     req.Policy.ID(),
			fingerprint:  req.Policy.Fingerprint(),
			role:         req.Role,
			scope:        req.Scope,
			registry:     snap.Version(),
			strategies:   p.strategies.Version(),
			capabilities: p.capabilities.Version(),
		}
		if plan, ok := p.cache.get(key); ok {
			p.resolved(ctx, req, plan, time.Since(start), true)
			return plan, nil
		}
	}

	assertions := req.Policy.Assertions()

	steps := make([]pipeline.Step, 0, len(assertions))
	placed := make(map[interceptors.RoleID]bool)

	for i, a := range assertions {
		capability, ok := p.capabilities.resolveAssertion(a)
		if !ok {
			if len(a.Roles) > 0 && !a.AppliesTo(req.Role, nil) {
				continue
			}
			return nil, p.fail(ctx, req, &PlanningError{
				Kind:          ErrPolicyUnsatisfiable,
				Index:         i,
				AssertionType: a.Type,
				Reason:        "no capability for assertion type",
			})
		}

		if !a.AppliesTo(req.Role, capability.Roles) {
			continue
		}

		if placed[capability.RoleID] && !capability.Repeatable {
			p.logger.Info("skipping repeated assertion for non-repeatable capability",
				"policy", req.Policy.Key(),
				"roleId", capability.RoleID,
				"assertion", i,
				"traceId", req.TraceID,
			)
			continue
		}

		candidates := snap.Lookup(capability.RoleID)
		if len(candidates) == 0 {
			return nil, p.fail(ctx, req, &PlanningError{
				Kind:          ErrPolicyUnsatisfiable,
				Index:         i,
				AssertionType: a.Type,
				RoleID:        capability.RoleID,
				Reason:        "no interceptor registered",
			})
		}

		survivors, err := p.strategies.Apply(ctx, candidates, snap, p.hints(req, i, a))
		if err != nil {
			return nil, p.fail(ctx, req, &PlanningError{
				Kind:          ErrFilterFailed,
				Index:         i,
				AssertionType: a.Type,
				RoleID:        capability.RoleID,
				Err:           err,
			})
		}
		if len(survivors) == 0 {
			return nil, p.fail(ctx, req, &PlanningError{
				Kind:          ErrFilterExhaustion,
				Index:         i,
				AssertionType: a.Type,
				RoleID:        capability.RoleID,
				Reason:        fmt.Sprintf("%d candidates filtered out", len(candidates)),
			})
		}

		steps = append(steps, pipeline.Step{Interceptor: survivors[0], Assertion: a})
		placed[capability.RoleID] = true
	}

	plan := pipeline.NewPlan(req.Policy.Key(), req.Role, req.Scope, steps)
	if cacheable {
		p.cache.put(key, plan)
	}

	p.resolved(ctx, req, plan, time.Since(start), false)
	return plan, nil
}

// hints builds the hint list for assertion i: request hints, the
// assertion's own allow hint when it carries an allow map, then the request
// context.
func (p *Planner) hints(req Request, i int, a policy.Assertion) []filters.Hint {
	hints := make([]filters.Hint, 0, len(req.Hints)+2)
	hints = append(hints, req.Hints...)
	if len(a.Allow) > 0 {
		hints = append(hints, filters.AllowHint(fmt.Sprintf("assertion/%d/%s", i, a.Type), a.Allow))
	}
	hints = append(hints, filters.Hint{
		Name:    filters.HintContext,
		Payload: filters.ContextHint{Role: req.Role, Scope: req.Scope},
	})
	return hints
}

func (p *Planner) resolved(ctx context.Context, req Request, plan *pipeline.Plan, d time.Duration, cached bool) {
	p.logger.Debug("plan resolved",
		"policy", plan.PolicyKey(),
		"role", req.Role.String(),
		"scope", string(req.Scope),
		"steps", plan.Len(),
		"cached", cached,
	)
	p.sink.Publish(ctx, tracking.Event{
		Kind:      tracking.PlanResolved,
		TraceID:   req.TraceID,
		PolicyKey: plan.PolicyKey(),
		Role:      req.Role.String(),
		Scope:     string(req.Scope),
		RoleIDs:   plan.RoleIDs(),
		Duration:  d,
	})
}

func (p *Planner) fail(ctx context.Context, req Request, perr *PlanningError) error {
	event := tracking.Event{
		Kind:    tracking.PlanFailed,
		TraceID: req.TraceID,
		Role:    req.Role.String(),
		Scope:   string(req.Scope),
		RoleID:  string(perr.RoleID),
		Ordinal: perr.Index,
		Error:   perr.Error(),
	}
	if req.Policy != nil {
		event.PolicyKey = req.Policy.Key()
	}

	p.logger.Warn("planning failed",
		"policy", event.PolicyKey,
		"role", event.Role,
		"error", perr,
	)
	p.sink.Publish(ctx, event)
	return perr
}
