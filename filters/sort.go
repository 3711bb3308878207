package filters

import (
	"context"
	"sort"

	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/registry"
)

// PrioritySort reorders candidates by descriptor priority, keeping the
// relative order of equal priorities. It never drops candidates.
type PrioritySort struct {
	priority int
}

// NewPrioritySort creates a priority sorting strategy
func NewPrioritySort(priority int) *PrioritySort {
	return &PrioritySort{priority: priority}
}

// Name implements Strategy
func (p *PrioritySort) Name() string {
	return "priority-sort"
}

// Priority implements Strategy
func (p *PrioritySort) Priority() int {
	return p.priority
}

// Filter implements Strategy
func (p *PrioritySort) Filter(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error) {
	out := append([]interceptors.Interceptor(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Descriptor().Priority < out[j].Descriptor().Priority
	})
	return out, nil
}
