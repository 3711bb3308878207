package filters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/policy"
	"github.com/glimte/mmate-policy/registry"
)

var (
	// ErrDuplicateStrategy is returned when a strategy name is already registered
	ErrDuplicateStrategy = errors.New("filter strategy already registered")
	// ErrStrategyNotFound is returned when removing an unknown strategy
	ErrStrategyNotFound = errors.New("filter strategy not registered")
	// ErrNotSubset is returned when a strategy returns interceptors it was not given
	ErrNotSubset = errors.New("filter strategy output is not a subset of its input")
)

// HintContext names the hint that carries the planning context
const HintContext = "context"

// Hint is a named payload that guides filter strategies
type Hint struct {
	Name    string
	Payload interface{}
}

// ContextHint is the payload of the HintContext hint
type ContextHint struct {
	Role  policy.Role
	Scope policy.Scope
}

// AllowHint builds a mapping hint from interceptor names to allow decisions
func AllowHint(name string, allow map[string]bool) Hint {
	payload := make(map[string]bool, len(allow))
	for k, v := range allow {
		payload[k] = v
	}
	return Hint{Name: name, Payload: payload}
}

// Strategy narrows or reorders candidate interceptors
type Strategy interface {
	// Name identifies the strategy in a Set
	Name() string

	// Priority orders strategies in a Set, lower first
	Priority() int

	// Filter returns a subset of candidates. Implementations must not mutate
	// the input slice.
	Filter(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error)
}

// FilterFunc is the function form of Strategy.Filter
type FilterFunc func(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error)

// StrategyFunc is a function adapter for Strategy
type StrategyFunc struct {
	name     string
	priority int
	fn       FilterFunc
}

// NewStrategyFunc creates a function-based strategy
func NewStrategyFunc(name string, priority int, fn FilterFunc) *StrategyFunc {
	return &StrategyFunc{name: name, priority: priority, fn: fn}
}

// Name implements Strategy
func (s *StrategyFunc) Name() string {
	return s.name
}

// Priority implements Strategy
func (s *StrategyFunc) Priority() int {
	return s.priority
}

// Filter implements Strategy
func (s *StrategyFunc) Filter(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error) {
	return s.fn(ctx, candidates, reg, hints)
}

type setEntry struct {
	seq      uint64
	strategy Strategy
}

// Set holds registered strategies in application order
type Set struct {
	mu      sync.RWMutex
	entries []setEntry
	nextSeq uint64
	version uint64
	logger  *slog.Logger
}

// SetOption configures a Set
type SetOption func(*Set)

// WithLogger sets the logger used to report strategy decisions
func WithLogger(logger *slog.Logger) SetOption {
	return func(s *Set) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSet creates a strategy set
func NewSet(opts ...SetOption) *Set {
	s := &Set{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a strategy. Strategies with equal priority apply in
// registration order.
func (s *Set) Add(strategy Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.strategy.Name() == strategy.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateStrategy, strategy.Name())
		}
	}

	s.nextSeq++
	entries := append(append([]setEntry(nil), s.entries...), setEntry{seq: s.nextSeq, strategy: strategy})
	sort.SliceStable(entries, func(i, j int) bool {
		pi, pj := entries[i].strategy.Priority(), entries[j].strategy.Priority()
		if pi != pj {
			return pi < pj
		}
		return entries[i].seq < entries[j].seq
	})
	s.entries = entries
	s.version++
	return nil
}

// Remove unregisters a strategy by name
func (s *Set) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]setEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.strategy.Name() != name {
			entries = append(entries, e)
		}
	}
	if len(entries) == len(s.entries) {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, name)
	}
	s.entries = entries
	s.version++
	return nil
}

// Strategies returns the registered strategies in application order
func (s *Set) Strategies() []Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Strategy, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.strategy
	}
	return out
}

// Version changes whenever the set is modified
func (s *Set) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Apply runs every strategy in ascending priority, feeding each the previous
// output. An empty Set returns the candidates unchanged.
func (s *Set) Apply(ctx context.Context, candidates []interceptors.Interceptor, reg registry.Reader, hints []Hint) ([]interceptors.Interceptor, error) {
	current := append([]interceptors.Interceptor(nil), candidates...)

	for _, strategy := range s.Strategies() {
		if len(current) == 0 {
			break
		}

		out, err := strategy.Filter(ctx, current, reg, hints)
		if err != nil {
			return nil, fmt.Errorf("filter strategy %s: %w", strategy.Name(), err)
		}
		if !isSubset(out, current) {
			return nil, fmt.Errorf("%w: %s", ErrNotSubset, strategy.Name())
		}

		if len(out) != len(current) {
			s.logger.Debug("filter strategy narrowed candidates",
				"strategy", strategy.Name(),
				"before", len(current),
				"after", len(out),
			)
		}
		current = out
	}

	return current, nil
}

type identity struct {
	roleID interceptors.RoleID
	name   string
}

func identityOf(ic interceptors.Interceptor) identity {
	d := ic.Descriptor()
	return identity{roleID: d.RoleID, name: d.Name}
}

func isSubset(out, in []interceptors.Interceptor) bool {
	allowed := make(map[identity]int, len(in))
	for _, ic := range in {
		allowed[identityOf(ic)]++
	}
	for _, ic := range out {
		id := identityOf(ic)
		if allowed[id] == 0 {
			return false
		}
		allowed[id]--
	}
	return true
}
