package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogToolExecution(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)

	l.LogToolExecution(context.Background(), "rca-1", "get_xray_trace",
		map[string]any{"trace_id": "1-68e915e7-7a2c7c6d1427db5e5b97c431"},
		true, 30*time.Millisecond, "")
	l.LogToolExecution(context.Background(), "rca-1", "get_lambda_configuration",
		map[string]any{"function_name": "payment-processor"},
		false, 10*time.Millisecond, "function not found")

	entries := l.GetRecentEntries(10)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "get_lambda_configuration", entries[0].Tool)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "function not found", entries[0].ErrorMsg)
	assert.Equal(t, "get_xray_trace", entries[1].Tool)
	assert.Equal(t, OpToolCall, entries[1].Operation)
	assert.NotEmpty(t, entries[0].EntryID)
	assert.NotEqual(t, entries[0].EntryID, entries[1].EntryID)
}

func TestToolArgsAreMasked(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)

	l.LogToolExecution(context.Background(), "rca-1", "assume_role_check",
		map[string]any{"role_arn": "arn:aws:iam::123456789012:role/x", "external_id": "shared-secret"},
		true, time.Millisecond, "")

	entries := l.GetRecentEntries(1)
	require.Len(t, entries, 1)
	assert.Equal(t, "***REDACTED***", entries[0].Args["external_id"])
	assert.Equal(t, "arn:aws:iam::123456789012:role/x", entries[0].Args["role_arn"])
}

func TestDisabledLoggerRecordsNothing(t *testing.T) {
	l := NewLogger(zap.NewNop(), false)

	l.LogInvestigation(context.Background(), "rca-1", "completed", time.Second)

	assert.Empty(t, l.GetRecentEntries(10))
	assert.False(t, l.IsEnabled())
}

func TestBufferEviction(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)
	l.maxEntries = 5

	for i := 0; i < 8; i++ {
		l.LogToolExecution(context.Background(), "rca-1", fmt.Sprintf("tool_%d", i), nil, true, time.Millisecond, "")
	}

	entries := l.GetRecentEntries(0)
	require.Len(t, entries, 5)
	assert.Equal(t, "tool_7", entries[0].Tool)
	assert.Equal(t, "tool_3", entries[4].Tool)
}

func TestGetEntriesByInvestigation(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)

	l.LogInvestigation(context.Background(), "rca-1", "completed", time.Second)
	l.LogInvestigation(context.Background(), "rca-2", "failed", time.Second)
	l.LogToolExecution(context.Background(), "rca-1", "get_xray_trace", nil, true, time.Millisecond, "")

	got := l.GetEntriesByInvestigation("rca-1")
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "rca-1", e.InvestigationID)
	}
}

func TestGetStats(t *testing.T) {
	l := NewLogger(zap.NewNop(), true)

	l.LogInvestigation(context.Background(), "rca-1", "completed", 2*time.Second)
	l.LogInvestigation(context.Background(), "rca-2", "failed", 4*time.Second)
	l.LogToolExecution(context.Background(), "rca-1", "get_xray_trace", nil, true, 0, "")

	stats := l.GetStats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 2, stats.OperationCounts[OpInvestigate])
	assert.Equal(t, 1, stats.ToolUsage["get_xray_trace"])
	assert.InDelta(t, 66.7, stats.SuccessRate, 0.1)

	assert.Contains(t, stats.ToJSON(), "total_entries")

	l.Clear()
	assert.Zero(t, l.GetStats().TotalEntries)
}
