package planner

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/glimte/mmate-policy/interceptors"
	"github.com/glimte/mmate-policy/policy"
)

// ErrInvalidCapability is returned for incomplete capability definitions
var ErrInvalidCapability = errors.New("invalid capability")

// Capability maps an assertion type to the role identifier that satisfies it
type Capability struct {
	AssertionType string
	RoleID        interceptors.RoleID
	// Roles the capability applies to; empty means every role
	Roles []policy.Role
	// Repeatable capabilities may appear in a plan once per assertion
	Repeatable bool
}

// CapabilityTable is the extensible assertion type to role identifier mapping
type CapabilityTable struct {
	mu      sync.RWMutex
	entries map[string]Capability
	version uint64
}

// NewCapabilityTable creates a table holding caps
func NewCapabilityTable(caps ...Capability) (*CapabilityTable, error) {
	t := &CapabilityTable{entries: make(map[string]Capability)}
	for _, c := range caps {
		if err := t.Register(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultCapabilities returns a table with the built-in capabilities
func DefaultCapabilities() *CapabilityTable {
	t, err := NewCapabilityTable(
		Capability{AssertionType: policy.AssertionAuthentication, RoleID: interceptors.RoleAuthentication},
		Capability{AssertionType: policy.AssertionCompression, RoleID: interceptors.RoleCompression},
		Capability{AssertionType: policy.AssertionCorrelation, RoleID: interceptors.RoleCorrelation},
		Capability{AssertionType: policy.AssertionSigning, RoleID: interceptors.RoleSigning},
		Capability{AssertionType: policy.AssertionTransformation, RoleID: interceptors.RoleTransformation, Repeatable: true},
	)
	if err != nil {
		panic("planner: default capabilities are invalid: " + err.Error())
	}
	return t
}

// Register adds or replaces the capability for an assertion type
func (t *CapabilityTable) Register(c Capability) error {
	if c.AssertionType == "" || c.RoleID == "" {
		return fmt.Errorf("%w: assertion type and role identifier are required", ErrInvalidCapability)
	}
	for _, r := range c.Roles {
		if !r.Valid() {
			return fmt.Errorf("%w: %s has invalid role %d", ErrInvalidCapability, c.AssertionType, int(r))
		}
	}

	c.Roles = append([]policy.Role(nil), c.Roles...)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[c.AssertionType] = c
	t.version++
	return nil
}

// Resolve returns the capability for an assertion type
func (t *CapabilityTable) Resolve(assertionType string) (Capability, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.entries[assertionType]
	return c, ok
}

// All returns every capability ordered by assertion type
func (t *CapabilityTable) All() []Capability {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Capability, 0, len(t.entries))
	for _, c := range t.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssertionType < out[j].AssertionType })
	return out
}

// Version changes whenever the table is modified
func (t *CapabilityTable) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// resolveAssertion finds the capability for an assertion. An explicit
// Capability on the assertion names the role identifier directly and keeps
// the table's role restrictions when the type is also known.
func (t *CapabilityTable) resolveAssertion(a policy.Assertion) (Capability, bool) {
	c, ok := t.Resolve(a.Type)
	if a.Capability == "" {
		return c, ok
	}
	if !ok {
		c = Capability{AssertionType: a.Type}
	}
	c.RoleID = interceptors.RoleID(a.Capability)
	return c, true
}
