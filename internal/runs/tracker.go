// Package runs tracks in-flight and recently finished investigations so the
// status endpoints can report what the engine is doing without touching the
// pipeline itself.
package runs

import (
	"sync"
	"time"
)

const maxRecentRuns = 20

// RunInfo is a snapshot of one investigation run.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Status      string    `json:"status"`
	Kind        string    `json:"kind,omitempty"`
	Region      string    `json:"region,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	FactCount   int       `json:"fact_count,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

// Tracker records run lifecycles. All methods are safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	active   map[string]*RunInfo
	recent   []RunInfo
	started  int
	finished map[string]int // by terminal status
}

func NewTracker() *Tracker {
	return &Tracker{
		active:   make(map[string]*RunInfo),
		recent:   make([]RunInfo, 0, maxRecentRuns),
		finished: make(map[string]int),
	}
}

// Start registers a run as in flight.
func (t *Tracker) Start(runID, region string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[runID] = &RunInfo{
		RunID:     runID,
		Status:    "in_progress",
		Region:    region,
		StartedAt: time.Now().UTC(),
	}
	t.started++
}

// SetKind records the investigation kind once parsing has classified it.
func (t *Tracker) SetKind(runID, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.active[runID]; ok {
		info.Kind = kind
	}
}

// Finish moves a run from active to the recent ring.
func (t *Tracker) Finish(runID, status, reason string, factCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.active[runID]
	if !ok {
		info = &RunInfo{RunID: runID, StartedAt: time.Now().UTC()}
	}
	delete(t.active, runID)

	info.Status = status
	info.Reason = reason
	info.FactCount = factCount
	info.CompletedAt = time.Now().UTC()
	t.finished[status]++

	t.recent = append(t.recent, *info)
	if len(t.recent) > maxRecentRuns {
		t.recent = t.recent[1:]
	}
}

// Active returns snapshots of the in-flight runs.
func (t *Tracker) Active() []RunInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunInfo, 0, len(t.active))
	for _, info := range t.active {
		out = append(out, *info)
	}
	return out
}

// Recent returns the most recently finished runs, oldest first.
func (t *Tracker) Recent() []RunInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RunInfo, len(t.recent))
	copy(out, t.recent)
	return out
}

// Stats summarizes the tracker for status payloads.
func (t *Tracker) Stats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byStatus := make(map[string]int, len(t.finished))
	for status, n := range t.finished {
		byStatus[status] = n
	}
	return map[string]any{
		"started":     t.started,
		"in_flight":   len(t.active),
		"finished":    byStatus,
		"recent_runs": len(t.recent),
	}
}
