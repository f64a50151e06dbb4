// Package metrics provides metrics collection and reporting for the RCA engine.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Prometheus metric labels
const (
	labelTool   = "tool"
	labelStatus = "status"
	labelPhase  = "phase"
)

// Prometheus collectors are package-level so repeated Metrics construction
// (tests build one per engine) never re-registers with the default registry.
var (
	promInvestigationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "investigations_total",
		Help:      "Total number of investigations, labeled by terminal status",
	}, []string{labelStatus})
	promInvestigationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rca_engine",
		Name:      "investigation_duration_seconds",
		Help:      "End-to-end investigation duration in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 15), // 50ms to ~27m
	})
	promActiveInvestigations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rca_engine",
		Name:      "active_investigations",
		Help:      "Number of investigations currently in progress",
	})
	promToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "tool_calls_total",
		Help:      "Total number of diagnostic tool calls, labeled by tool name (e.g., get_xray_trace, get_lambda_configuration)",
	}, []string{labelTool})
	promToolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "tool_errors_total",
		Help:      "Total number of tool error envelopes, labeled by tool name",
	}, []string{labelTool})
	promToolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rca_engine",
		Name:      "tool_latency_seconds",
		Help:      "Tool execution latency in seconds, labeled by tool name",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
	}, []string{labelTool})
	promLLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "llm_requests_total",
		Help:      "Total number of LLM completions, labeled by pipeline phase",
	}, []string{labelPhase})
	promLLMErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "llm_errors_total",
		Help:      "Total number of failed LLM completions, labeled by pipeline phase",
	}, []string{labelPhase})
	promLLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rca_engine",
		Name:      "llm_latency_seconds",
		Help:      "LLM completion latency in seconds, labeled by pipeline phase",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~1.7m
	}, []string{labelPhase})
	promFactsCollected = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rca_engine",
		Name:      "facts_collected",
		Help:      "Facts gathered per investigation after truncation",
		Buckets:   prometheus.LinearBuckets(0, 5, 11), // 0 to 50
	})
	promHypothesesGenerated = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rca_engine",
		Name:      "hypotheses_generated",
		Help:      "Hypotheses produced per investigation",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})
	promRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "rate_limit_hits_total",
		Help:      "Total number of outbound calls delayed by the rate limiter",
	})
	promCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "tool_cache_hits_total",
		Help:      "Total number of tool results served from cache",
	})
	promCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rca_engine",
		Name:      "tool_cache_misses_total",
		Help:      "Total number of tool cache misses",
	})
)

// Metrics tracks operational metrics with both internal counters and Prometheus metrics
type Metrics struct {
	// Investigation metrics (internal atomic counters for fast access)
	totalInvestigations atomic.Uint64
	completed           atomic.Uint64
	failed              atomic.Uint64
	insufficientData    atomic.Uint64

	// Latency tracking
	totalLatency atomic.Int64 // microseconds
	latencyCount atomic.Uint64
	maxLatency   atomic.Int64
	minLatency   atomic.Int64

	// Rate limiting and cache metrics
	rateLimitHits atomic.Uint64
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64

	// LLM usage
	llmRequests atomic.Uint64
	llmErrors   atomic.Uint64

	// Tool usage tracking
	toolsMu     sync.RWMutex
	toolUsage   map[string]uint64
	toolErrors  map[string]uint64
	toolLatency map[string]int64 // microseconds

	logger *zap.Logger
}

// New creates a new metrics tracker backed by the shared Prometheus collectors
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		toolUsage:   make(map[string]uint64),
		toolErrors:  make(map[string]uint64),
		toolLatency: make(map[string]int64),
		logger:      logger,
	}

	// Initialize min latency to max value
	m.minLatency.Store(int64(time.Hour))

	return m
}

// RecordInvestigation records a finished investigation and its terminal status
func (m *Metrics) RecordInvestigation(status string, duration time.Duration) {
	m.totalInvestigations.Add(1)
	switch status {
	case "completed":
		m.completed.Add(1)
	case "failed":
		m.failed.Add(1)
	case "insufficient_data":
		m.insufficientData.Add(1)
	}

	promInvestigationsTotal.WithLabelValues(status).Inc()
	promInvestigationDuration.Observe(duration.Seconds())

	m.recordLatency(duration)
}

// InvestigationStarted marks an investigation as in flight.
func (m *Metrics) InvestigationStarted() {
	promActiveInvestigations.Inc()
}

// InvestigationFinished marks an in-flight investigation as done.
func (m *Metrics) InvestigationFinished() {
	promActiveInvestigations.Dec()
}

// RecordRateLimitHit records an outbound call delayed by the rate limiter
func (m *Metrics) RecordRateLimitHit() {
	m.rateLimitHits.Add(1)
	promRateLimitHits.Inc()
}

// RecordCacheHit records a tool result served from cache
func (m *Metrics) RecordCacheHit() {
	m.cacheHits.Add(1)
	promCacheHits.Inc()
}

// RecordCacheMiss records a tool cache miss
func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
	promCacheMisses.Inc()
}

// RecordToolExecution records tool usage (both internal counters and Prometheus)
// This is called for every tool invocation, tracking:
// - Total calls per tool
// - Error envelopes per tool
// - Latency distribution per tool
func (m *Metrics) RecordToolExecution(toolName string, success bool, latency time.Duration) {
	// Update internal counters
	m.toolsMu.Lock()
	m.toolUsage[toolName]++
	if !success {
		m.toolErrors[toolName]++
	}

	// Update average latency using rolling average to avoid integer overflow
	if latency > 0 && m.toolUsage[toolName] > 0 {
		currentLatency := m.toolLatency[toolName]
		// Use float64 for calculation to avoid integer overflow issues
		count := float64(m.toolUsage[toolName])
		avgLatency := (float64(currentLatency)*(count-1) + float64(latency.Microseconds())) / count
		m.toolLatency[toolName] = int64(avgLatency)
	}
	m.toolsMu.Unlock()

	// Update Prometheus metrics (labeled by tool name)
	promToolCalls.WithLabelValues(toolName).Inc()
	promToolLatency.WithLabelValues(toolName).Observe(latency.Seconds())
	if !success {
		promToolErrors.WithLabelValues(toolName).Inc()
	}
}

// RecordLLMRequest records an LLM completion attempt for a pipeline phase
func (m *Metrics) RecordLLMRequest(phase string, success bool, latency time.Duration) {
	m.llmRequests.Add(1)
	promLLMRequests.WithLabelValues(phase).Inc()
	promLLMLatency.WithLabelValues(phase).Observe(latency.Seconds())
	if !success {
		m.llmErrors.Add(1)
		promLLMErrors.WithLabelValues(phase).Inc()
	}
}

// RecordEvidence records per-investigation fact and hypothesis volumes
func (m *Metrics) RecordEvidence(facts, hypotheses int) {
	promFactsCollected.Observe(float64(facts))
	promHypothesesGenerated.Observe(float64(hypotheses))
}

func (m *Metrics) recordLatency(latency time.Duration) {
	latencyUs := latency.Microseconds()

	m.totalLatency.Add(latencyUs)
	m.latencyCount.Add(1)

	// Update max latency
	for {
		currentMax := m.maxLatency.Load()
		if latencyUs <= currentMax {
			break
		}
		if m.maxLatency.CompareAndSwap(currentMax, latencyUs) {
			break
		}
	}

	// Update min latency
	for {
		currentMin := m.minLatency.Load()
		if latencyUs >= currentMin {
			break
		}
		if m.minLatency.CompareAndSwap(currentMin, latencyUs) {
			break
		}
	}
}

// GetStats returns current statistics
func (m *Metrics) GetStats() Stats {
	m.toolsMu.RLock()
	toolUsage := make(map[string]uint64, len(m.toolUsage))
	toolErrors := make(map[string]uint64, len(m.toolErrors))
	toolLatency := make(map[string]time.Duration, len(m.toolLatency))
	for k, v := range m.toolUsage {
		toolUsage[k] = v
	}
	for k, v := range m.toolErrors {
		toolErrors[k] = v
	}
	for k, v := range m.toolLatency {
		toolLatency[k] = time.Duration(v) * time.Microsecond
	}
	m.toolsMu.RUnlock()

	latencyCount := m.latencyCount.Load()

	var avgLatency time.Duration
	if latencyCount > 0 {
		// Use float64 division to avoid integer overflow issues
		avgLatencyMicros := float64(m.totalLatency.Load()) / float64(latencyCount)
		avgLatency = time.Duration(avgLatencyMicros) * time.Microsecond
	}

	return Stats{
		TotalInvestigations: m.totalInvestigations.Load(),
		Completed:           m.completed.Load(),
		Failed:              m.failed.Load(),
		InsufficientData:    m.insufficientData.Load(),
		RateLimitHits:       m.rateLimitHits.Load(),
		CacheHits:           m.cacheHits.Load(),
		CacheMisses:         m.cacheMisses.Load(),
		LLMRequests:         m.llmRequests.Load(),
		LLMErrors:           m.llmErrors.Load(),
		AverageLatency:      avgLatency,
		MaxLatency:          time.Duration(m.maxLatency.Load()) * time.Microsecond,
		MinLatency:          time.Duration(m.minLatency.Load()) * time.Microsecond,
		ToolUsage:           toolUsage,
		ToolErrors:          toolErrors,
		ToolLatency:         toolLatency,
	}
}

// LogStats logs current statistics
func (m *Metrics) LogStats() {
	stats := m.GetStats()

	var failureRate float64
	if stats.TotalInvestigations > 0 {
		failureRate = float64(stats.Failed) / float64(stats.TotalInvestigations) * 100
	}

	m.logger.Info("Operational metrics",
		zap.Uint64("total_investigations", stats.TotalInvestigations),
		zap.Uint64("completed", stats.Completed),
		zap.Uint64("failed", stats.Failed),
		zap.Uint64("insufficient_data", stats.InsufficientData),
		zap.Float64("failure_rate_pct", failureRate),
		zap.Uint64("rate_limit_hits", stats.RateLimitHits),
		zap.Uint64("llm_requests", stats.LLMRequests),
		zap.Uint64("llm_errors", stats.LLMErrors),
		zap.Duration("avg_latency", stats.AverageLatency),
		zap.Duration("max_latency", stats.MaxLatency),
		zap.Duration("min_latency", stats.MinLatency),
		zap.Any("tool_usage", stats.ToolUsage),
	)
}

// Stats represents current metrics
type Stats struct {
	TotalInvestigations uint64
	Completed           uint64
	Failed              uint64
	InsufficientData    uint64
	RateLimitHits       uint64
	CacheHits           uint64
	CacheMisses         uint64
	LLMRequests         uint64
	LLMErrors           uint64
	AverageLatency      time.Duration
	MaxLatency          time.Duration
	MinLatency          time.Duration
	ToolUsage           map[string]uint64
	ToolErrors          map[string]uint64
	ToolLatency         map[string]time.Duration
}

// GetPrometheusRegistry returns the default Prometheus registry
// This can be used with promhttp.HandlerFor() to serve metrics
func GetPrometheusRegistry() *prometheus.Registry {
	// Return the default registry which promauto uses
	return prometheus.DefaultRegisterer.(*prometheus.Registry)
}
