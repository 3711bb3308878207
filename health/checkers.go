package health

import (
	"context"
	"time"

	"github.com/glimte/mmate-policy/registry"
)

// Connection is satisfied by the broker connection manager
type Connection interface {
	IsConnected() bool
}

// ConnectionChecker reports the broker connection state
type ConnectionChecker struct {
	name string
	conn Connection
}

// NewConnectionChecker creates a checker named name over conn
func NewConnectionChecker(name string, conn Connection) *ConnectionChecker {
	return &ConnectionChecker{name: name, conn: conn}
}

// Name implements Checker
func (c *ConnectionChecker) Name() string { return c.name }

// Check implements Checker
func (c *ConnectionChecker) Check(ctx context.Context) Result {
	start := time.Now()
	res := Result{Name: c.name, Status: StatusHealthy, Message: "connected"}
	if !c.conn.IsConnected() {
		res.Status = StatusUnhealthy
		res.Message = "not connected"
	}
	res.Duration = time.Since(start)
	return res
}

// Snapshotter exposes the current interceptor registry view
type Snapshotter interface {
	Snapshot() *registry.Snapshot
}

// RegistryChecker reports degraded while no interceptor is registered,
// since every non-empty policy would then be unsatisfiable.
type RegistryChecker struct {
	source Snapshotter
}

// NewRegistryChecker creates a checker over source
func NewRegistryChecker(source Snapshotter) *RegistryChecker {
	return &RegistryChecker{source: source}
}

// Name implements Checker
func (c *RegistryChecker) Name() string { return "registry" }

// Check implements Checker
func (c *RegistryChecker) Check(ctx context.Context) Result {
	start := time.Now()
	snap := c.source.Snapshot()
	res := Result{
		Name:   c.Name(),
		Status: StatusHealthy,
		Details: map[string]any{
			"interceptors": snap.Len(),
			"roles":        len(snap.Roles()),
			"version":      snap.Version(),
		},
	}
	if snap.Len() == 0 {
		res.Status = StatusDegraded
		res.Message = "no interceptors registered"
	}
	res.Duration = time.Since(start)
	return res
}
