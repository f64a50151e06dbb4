package runs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()

	tr.Start("rca-1", "us-east-1")
	tr.SetKind("rca-1", "trace_based")

	active := tr.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "in_progress", active[0].Status)
	assert.Equal(t, "trace_based", active[0].Kind)
	assert.Equal(t, "us-east-1", active[0].Region)

	tr.Finish("rca-1", "completed", "", 12)

	assert.Empty(t, tr.Active())
	recent := tr.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "completed", recent[0].Status)
	assert.Equal(t, 12, recent[0].FactCount)
	assert.False(t, recent[0].CompletedAt.IsZero())
}

func TestTrackerFinishUnknownRun(t *testing.T) {
	tr := NewTracker()
	tr.Finish("rca-untracked", "failed", "credential_error", 0)

	recent := tr.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "rca-untracked", recent[0].RunID)
	assert.Equal(t, "credential_error", recent[0].Reason)
}

func TestTrackerRecentRingEvicts(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < maxRecentRuns+5; i++ {
		id := fmt.Sprintf("rca-%02d", i)
		tr.Start(id, "us-east-1")
		tr.Finish(id, "completed", "", 1)
	}

	recent := tr.Recent()
	require.Len(t, recent, maxRecentRuns)
	// Oldest entries were evicted.
	assert.Equal(t, "rca-05", recent[0].RunID)
	assert.Equal(t, fmt.Sprintf("rca-%02d", maxRecentRuns+4), recent[len(recent)-1].RunID)
}

func TestTrackerStats(t *testing.T) {
	tr := NewTracker()
	tr.Start("rca-1", "us-east-1")
	tr.Start("rca-2", "us-east-1")
	tr.Finish("rca-1", "completed", "", 3)

	stats := tr.Stats()
	assert.Equal(t, 2, stats["started"])
	assert.Equal(t, 1, stats["in_flight"])
	finished, ok := stats["finished"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 1, finished["completed"])
}
