package filters

import (
	"context"

	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/registry"
)

// Default priorities of the built-in strategies
const (
	PriorityDenyList     = 100
	PriorityAllowList    = 200
	PriorityCEL          = 300
	PriorityPrioritySort = 1000
)

// AllowList keeps a candidate only when some mapping hint maps the
// candidate's name to true. Without hints nothing is kept. The output
// preserves input order and applying the strategy twice changes nothing.
type AllowList struct {
	priority int
}

// NewAllowList creates an allow-list strategy
func NewAllowList(priority int) *AllowList {
	return &AllowList{priority: priority}
}

// Name implements Strategy
func (a *AllowList) Name() string {
	return "allow-list"
}

// Priority implements Strategy
func (a *AllowList) Priority() int {
	return a.priority
}

// Filter implements Strategy
func (a *AllowList) Filter(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error) {
	out := make([]interceptors.Interceptor, 0, len(candidates))
	for _, ic := range candidates {
		name := ic.Descriptor().Name
		for _, h := range hints {
			if decision, ok := lookupDecision(h.Payload, name); ok && decision {
				out = append(out, ic)
				break
			}
		}
	}
	return out, nil
}

// DenyList drops a candidate when some mapping hint maps the candidate's
// name to false. Candidates not mentioned by any hint are kept.
type DenyList struct {
	priority int
}

// NewDenyList creates a deny-list strategy
func NewDenyList(priority int) *DenyList {
	return &DenyList{priority: priority}
}

// Name implements Strategy
func (d *DenyList) Name() string {
	return "deny-list"
}

// Priority implements Strategy
func (d *DenyList) Priority() int {
	return d.priority
}

// Filter implements Strategy
func (d *DenyList) Filter(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error) {
	out := make([]interceptors.Interceptor, 0, len(candidates))
	for _, ic := range candidates {
		name := ic.Descriptor().Name
		denied := false
		for _, h := range hints {
			if decision, ok := lookupDecision(h.Payload, name); ok && !decision {
				denied = true
				break
			}
		}
		if !denied {
			out = append(out, ic)
		}
	}
	return out, nil
}

// lookupDecision reads a boolean entry from a mapping payload. Payloads that
// are not mappings, and non-boolean values, yield no decision.
func lookupDecision(payload interface{}, name string) (bool, bool) {
	switch m := payload.(type) {
	case map[string]bool:
		v, ok := m[name]
		return v, ok
	case map[string]interface{}:
		v, ok := m[name].(bool)
		return v, ok
	default:
		return false, false
	}
}
