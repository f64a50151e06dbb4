package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordInvestigation(t *testing.T) {
	m := New(zap.NewNop())

	m.RecordInvestigation("completed", 2*time.Second)
	m.RecordInvestigation("completed", 4*time.Second)
	m.RecordInvestigation("failed", time.Second)
	m.RecordInvestigation("insufficient_data", 100*time.Millisecond)

	stats := m.GetStats()
	assert.Equal(t, uint64(4), stats.TotalInvestigations)
	assert.Equal(t, uint64(2), stats.Completed)
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(1), stats.InsufficientData)
	assert.Equal(t, 4*time.Second, stats.MaxLatency)
	assert.Equal(t, 100*time.Millisecond, stats.MinLatency)
}

func TestRecordToolExecution(t *testing.T) {
	m := New(zap.NewNop())

	m.RecordToolExecution("get_xray_trace", true, 20*time.Millisecond)
	m.RecordToolExecution("get_xray_trace", true, 40*time.Millisecond)
	m.RecordToolExecution("get_xray_trace", false, 10*time.Millisecond)
	m.RecordToolExecution("get_lambda_configuration", true, 5*time.Millisecond)

	stats := m.GetStats()
	assert.Equal(t, uint64(3), stats.ToolUsage["get_xray_trace"])
	assert.Equal(t, uint64(1), stats.ToolErrors["get_xray_trace"])
	assert.Equal(t, uint64(1), stats.ToolUsage["get_lambda_configuration"])
	assert.Zero(t, stats.ToolErrors["get_lambda_configuration"])

	// Rolling average of 20/40/10ms.
	avg := stats.ToolLatency["get_xray_trace"]
	assert.InDelta(t, float64(23333), float64(avg.Microseconds()), 100)
}

func TestRecordLLMRequest(t *testing.T) {
	m := New(zap.NewNop())

	m.RecordLLMRequest("hypothesis", true, 300*time.Millisecond)
	m.RecordLLMRequest("rootcause", false, 100*time.Millisecond)

	stats := m.GetStats()
	assert.Equal(t, uint64(2), stats.LLMRequests)
	assert.Equal(t, uint64(1), stats.LLMErrors)
}

func TestConcurrentToolRecording(t *testing.T) {
	m := New(zap.NewNop())

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				m.RecordToolExecution("get_log_events", j%5 != 0, time.Millisecond)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	stats := m.GetStats()
	assert.Equal(t, uint64(800), stats.ToolUsage["get_log_events"])
	assert.Equal(t, uint64(160), stats.ToolErrors["get_log_events"])
}

func TestGetStatsCopiesMaps(t *testing.T) {
	m := New(zap.NewNop())
	m.RecordToolExecution("resolve_api_id", true, time.Millisecond)

	stats := m.GetStats()
	stats.ToolUsage["resolve_api_id"] = 99

	require.Equal(t, uint64(1), m.GetStats().ToolUsage["resolve_api_id"])
}

func TestMultipleTrackersShareCollectors(t *testing.T) {
	// Constructing a second tracker must not panic on Prometheus
	// re-registration; collectors are package level.
	a := New(zap.NewNop())
	b := New(zap.NewNop())

	a.RecordRateLimitHit()
	b.RecordCacheHit()
	b.RecordCacheMiss()

	assert.Equal(t, uint64(1), a.GetStats().RateLimitHits)
	assert.Zero(t, b.GetStats().RateLimitHits)
	assert.Equal(t, uint64(1), b.GetStats().CacheHits)
}
