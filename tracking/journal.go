package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JournalStats summarizes the events held by a Journal
type JournalStats struct {
	TotalEntries    int64               `json:"totalEntries"`
	EntriesByKind   map[EventKind]int64 `json:"entriesByKind"`
	EntriesByRoleID map[string]int64    `json:"entriesByRoleId"`
	FailureCount    int64               `json:"failureCount"`
	AverageDuration time.Duration       `json:"averageDuration"`
	LastEntry       time.Time           `json:"lastEntry"`
}

// Journal keeps recent events in memory, indexed by trace and role identifier
type Journal struct {
	entries       []*Event
	byTraceID     map[string][]*Event
	byRoleID      map[string][]*Event
	mu            sync.RWMutex
	maxEntries    int
	rotatePercent float64
}

// JournalOption configures the journal
type JournalOption func(*Journal)

// WithMaxEntries sets the maximum number of entries
func WithMaxEntries(max int) JournalOption {
	return func(j *Journal) {
		if max > 0 {
			j.maxEntries = max
		}
	}
}

// WithRotatePercent sets the share of entries removed when max is reached
func WithRotatePercent(percent float64) JournalOption {
	return func(j *Journal) {
		j.rotatePercent = percent
	}
}

// NewJournal creates a new in-memory journal
func NewJournal(opts ...JournalOption) *Journal {
	j := &Journal{
		entries:       make([]*Event, 0),
		byTraceID:     make(map[string][]*Event),
		byRoleID:      make(map[string][]*Event),
		maxEntries:    10000,
		rotatePercent: 0.2,
	}

	for _, opt := range opts {
		opt(j)
	}

	return j
}

// Publish implements Sink
func (j *Journal) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.RoleIDs != nil {
		event.RoleIDs = append([]string(nil), event.RoleIDs...)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.entries) >= j.maxEntries {
		j.rotate()
	}

	entry := &event
	j.entries = append(j.entries, entry)
	j.index(entry)
}

// Entries returns copies of all entries, oldest first
func (j *Journal) Entries() []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return copyEvents(j.entries)
}

// GetByTraceID returns the entries recorded for a trace
func (j *Journal) GetByTraceID(traceID string) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return copyEvents(j.byTraceID[traceID])
}

// GetByRoleID returns the most recent entries for a role identifier. A limit
// of zero or less returns all of them.
func (j *Journal) GetByRoleID(roleID string, limit int) []Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entries := j.byRoleID[roleID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return copyEvents(entries)
}

// Stats returns journal statistics
func (j *Journal) Stats() JournalStats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := JournalStats{
		TotalEntries:    int64(len(j.entries)),
		EntriesByKind:   make(map[EventKind]int64),
		EntriesByRoleID: make(map[string]int64),
	}

	var totalDuration time.Duration
	for _, entry := range j.entries {
		stats.EntriesByKind[entry.Kind]++
		if entry.RoleID != "" {
			stats.EntriesByRoleID[entry.RoleID]++
		}
		if entry.Failed() {
			stats.FailureCount++
		}
		totalDuration += entry.Duration
		if entry.Timestamp.After(stats.LastEntry) {
			stats.LastEntry = entry.Timestamp
		}
	}

	if len(j.entries) > 0 {
		stats.AverageDuration = totalDuration / time.Duration(len(j.entries))
	}

	return stats
}

// Clear removes entries older than the given age and returns how many were removed
func (j *Journal) Clear(olderThan time.Duration) int {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	kept := make([]*Event, 0, len(j.entries))
	for _, entry := range j.entries {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}

	removed := len(j.entries) - len(kept)
	j.entries = kept
	j.rebuildIndexes()
	return removed
}

// rotate removes the oldest entries when max is reached
func (j *Journal) rotate() {
	removeCount := int(float64(j.maxEntries) * j.rotatePercent)
	if removeCount < 1 {
		removeCount = 1
	}
	if removeCount > len(j.entries) {
		removeCount = len(j.entries)
	}

	j.entries = append([]*Event(nil), j.entries[removeCount:]...)
	j.rebuildIndexes()
}

func (j *Journal) rebuildIndexes() {
	j.byTraceID = make(map[string][]*Event)
	j.byRoleID = make(map[string][]*Event)
	for _, entry := range j.entries {
		j.index(entry)
	}
}

func (j *Journal) index(entry *Event) {
	if entry.TraceID != "" {
		j.byTraceID[entry.TraceID] = append(j.byTraceID[entry.TraceID], entry)
	}
	if entry.RoleID != "" {
		j.byRoleID[entry.RoleID] = append(j.byRoleID[entry.RoleID], entry)
	}
}

func copyEvents(entries []*Event) []Event {
	out := make([]Event, len(entries))
	for i, entry := range entries {
		out[i] = *entry
		if entry.RoleIDs != nil {
			out[i].RoleIDs = append([]string(nil), entry.RoleIDs...)
		}
	}
	return out
}
