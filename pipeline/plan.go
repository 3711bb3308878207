// Package pipeline executes planned interceptor sequences against message
// exchanges.
//
// A Plan is the ordered output of the planner. The Executor runs each step
// in order on the calling goroutine and stops at the first failure:
//
//	Pending -> Running(0) -> ... -> Running(n-1) -> Completed
//	                  \-> Failed(i, cause)
//
// Steps that already ran are not compensated and failed steps are not
// retried. Once started, an execution always runs to Completed or Failed.
package pipeline

import (
	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/policy"
)

// Step is one interceptor invocation in a plan
type Step struct {
	Ordinal     int
	Interceptor interceptors.Interceptor
	// Assertion that required the step; its params are passed to Process
	Assertion policy.Assertion
}

// RoleID returns the role identifier of the step's interceptor
func (s Step) RoleID() interceptors.RoleID {
	return s.Interceptor.Descriptor().RoleID
}

// Plan is an immutable ordered sequence of steps
type Plan struct {
	policyKey string
	role      policy.Role
	scope     policy.Scope
	steps     []Step
}

// NewPlan creates a plan. Step ordinals are assigned from slice positions.
func NewPlan(policyKey string, role policy.Role, scope policy.Scope, steps []Step) *Plan {
	p := &Plan{
		policyKey: policyKey,
		role:      role,
		scope:     scope,
		steps:     make([]Step, len(steps)),
	}
	for i, s := range steps {
		s.Ordinal = i
		p.steps[i] = s
	}
	return p
}

// PolicyKey returns the key of the policy the plan was computed for
func (p *Plan) PolicyKey() string {
	return p.policyKey
}

// Role returns the planning role
func (p *Plan) Role() policy.Role {
	return p.role
}

// Scope returns the planning scope
func (p *Plan) Scope() policy.Scope {
	return p.scope
}

// Len returns the number of steps
func (p *Plan) Len() int {
	return len(p.steps)
}

// Steps returns a copy of the steps in execution order
func (p *Plan) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Interceptors returns the planned interceptors in execution order
func (p *Plan) Interceptors() []interceptors.Interceptor {
	out := make([]interceptors.Interceptor, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Interceptor
	}
	return out
}

// RoleIDs returns the role identifiers in execution order
func (p *Plan) RoleIDs() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = string(s.RoleID())
	}
	return out
}

// Names returns the interceptor names in execution order
func (p *Plan) Names() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Interceptor.Descriptor().Name
	}
	return out
}
