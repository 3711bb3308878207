package planner

import (
	"sync"

	"github.com/glimte/mmate-policy/pipeline"
	"github.com/glimte/mmate-policy/policy"
)

// cacheKey identifies a plan. Policies sharing an ID but differing in
// content have different fingerprints. Any registry, strategy or capability
// change bumps a version and so misses the cache.
type cacheKey struct {
	policyID     string
	fingerprint  string
	role         policy.Role
	scope        policy.Scope
	registry     uint64
	strategies   uint64
	capabilities uint64
}

// planCache is a bounded FIFO cache of immutable plans
type planCache struct {
	mu      sync.Mutex
	size    int
	entries map[cacheKey]*pipeline.Plan
	order   []cacheKey
}

func newPlanCache(size int) *planCache {
	return &planCache{
		size:    size,
		entries: make(map[cacheKey]*pipeline.Plan, size),
		order:   make([]cacheKey, 0, size),
	}
}

func (c *planCache) get(key cacheKey) (*pipeline.Plan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	plan, ok := c.entries[key]
	return plan, ok
}

func (c *planCache) put(key cacheKey, plan *pipeline.Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = plan
		return
	}
	for len(c.order) >= c.size {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = plan
	c.order = append(c.order, key)
}

func (c *planCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
