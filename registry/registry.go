// Package registry holds the interceptors available for planning, indexed by
// role identifier.
//
// Writers (Register, Unregister) are serialized by an exclusive lock and
// publish a new immutable Snapshot. Readers obtain a Snapshot under a shared
// lock and keep using it without further locking, so a planning call never
// observes a partially applied registration.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/mmate-policy/interceptors"
)

var (
	// ErrInvalid is returned for interceptors without a role identifier or name
	ErrInvalid = errors.New("invalid interceptor registration")
	// ErrDuplicate is returned when a role already has an interceptor with the same name
	ErrDuplicate = errors.New("interceptor already registered")
	// ErrNotFound is returned when unregistering an unknown interceptor
	ErrNotFound = errors.New("interceptor not registered")
)

// Reader is the read-only view of a registry used by planners and filter strategies
type Reader interface {
	// Lookup returns the candidates for a role ordered by priority, then
	// registration order. It returns an empty slice for unknown roles.
	Lookup(roleID interceptors.RoleID) []interceptors.Interceptor

	// All returns every registered interceptor in registration order
	All() []interceptors.Interceptor
}

type entry struct {
	seq         uint64
	interceptor interceptors.Interceptor
	desc        interceptors.Descriptor
}

// Snapshot is an immutable view of the registry at one version
type Snapshot struct {
	version uint64
	entries []entry
	byRole  map[interceptors.RoleID][]entry
}

// Version returns the registry version the snapshot was taken at
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Lookup implements Reader
func (s *Snapshot) Lookup(roleID interceptors.RoleID) []interceptors.Interceptor {
	candidates := s.byRole[roleID]
	out := make([]interceptors.Interceptor, len(candidates))
	for i, e := range candidates {
		out[i] = e.interceptor
	}
	return out
}

// All implements Reader
func (s *Snapshot) All() []interceptors.Interceptor {
	out := make([]interceptors.Interceptor, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.interceptor
	}
	return out
}

// Roles returns the registered role identifiers in lexical order
func (s *Snapshot) Roles() []interceptors.RoleID {
	roles := make([]interceptors.RoleID, 0, len(s.byRole))
	for r := range s.byRole {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Len returns the number of registered interceptors
func (s *Snapshot) Len() int {
	return len(s.entries)
}

// Registry is the concurrent interceptor registry
type Registry struct {
	mu      sync.RWMutex
	current *Snapshot
	nextSeq uint64
	logger  *slog.Logger
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry
func New(opts ...RegistryOption) *Registry {
	r := &Registry{
		current: &Snapshot{byRole: make(map[interceptors.RoleID][]entry)},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an interceptor under its descriptor's role identifier
func (r *Registry) Register(ic interceptors.Interceptor) error {
	if ic == nil {
		return fmt.Errorf("%w: nil interceptor", ErrInvalid)
	}
	desc := ic.Descriptor()
	if desc.RoleID == "" || desc.Name == "" {
		return fmt.Errorf("%w: role identifier and name are required, got %s", ErrInvalid, desc)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.current.byRole[desc.RoleID] {
		if e.desc.Name == desc.Name {
			return fmt.Errorf("%w: %s", ErrDuplicate, desc)
		}
	}

	r.nextSeq++
	added := entry{seq: r.nextSeq, interceptor: ic, desc: desc}
	entries := append(append([]entry(nil), r.current.entries...), added)
	r.publish(entries)

	r.logger.Debug("interceptor registered",
		"roleId", desc.RoleID,
		"name", desc.Name,
		"kind", desc.Kind.String(),
		"priority", desc.Priority,
	)
	return nil
}

// Unregister removes the named interceptor from a role
func (r *Registry) Unregister(roleID interceptors.RoleID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]entry, 0, len(r.current.entries))
	found := false
	for _, e := range r.current.entries {
		if e.desc.RoleID == roleID && e.desc.Name == name {
			found = true
			continue
		}
		entries = append(entries, e)
	}
	if !found {
		return fmt.Errorf("%w: %s[%s]", ErrNotFound, roleID, name)
	}
	r.publish(entries)

	r.logger.Debug("interceptor unregistered", "roleId", roleID, "name", name)
	return nil
}

// publish builds and installs a new snapshot. Callers hold the write lock.
func (r *Registry) publish(entries []entry) {
	byRole := make(map[interceptors.RoleID][]entry)
	for _, e := range entries {
		byRole[e.desc.RoleID] = append(byRole[e.desc.RoleID], e)
	}
	for _, candidates := range byRole {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].desc.Priority != candidates[j].desc.Priority {
				return candidates[i].desc.Priority < candidates[j].desc.Priority
			}
			return candidates[i].seq < candidates[j].seq
		})
	}
	r.current = &Snapshot{
		version: r.current.version + 1,
		entries: entries,
		byRole:  byRole,
	}
}

// Snapshot returns the current immutable view
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version returns the current registry version. It changes on every write.
func (r *Registry) Version() uint64 {
	return r.Snapshot().version
}

// Lookup implements Reader
func (r *Registry) Lookup(roleID interceptors.RoleID) []interceptors.Interceptor {
	return r.Snapshot().Lookup(roleID)
}

// All implements Reader
func (r *Registry) All() []interceptors.Interceptor {
	return r.Snapshot().All()
}
