// Package audit provides audit logging for investigations and tool
// executions. This helps with debugging, compliance, and understanding
// engine behavior after the fact.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/security"
	"github.com/tareqmamari/cloud-rca-engine/internal/telemetry"
)

// Entry represents a single audit log entry
type Entry struct {
	EntryID         string         `json:"entry_id"`
	Timestamp       time.Time      `json:"timestamp"`
	TraceID         string         `json:"trace_id"`
	SpanID          string         `json:"span_id,omitempty"`
	InvestigationID string         `json:"investigation_id,omitempty"`
	Tool            string         `json:"tool,omitempty"`
	Operation       string         `json:"operation"` // investigate, tool_call, llm_call
	Resource        string         `json:"resource,omitempty"`
	Success         bool           `json:"success"`
	Duration        time.Duration  `json:"duration_ms"`
	ErrorMsg        string         `json:"error_message,omitempty"`
	Args            map[string]any `json:"args,omitempty"` // Sensitive values masked
}

// Operations recorded by the engine.
const (
	OpInvestigate = "investigate"
	OpToolCall    = "tool_call"
	OpLLMCall     = "llm_call"
)

// Logger handles audit logging
type Logger struct {
	enabled bool
	logger  *zap.Logger

	// In-memory buffer for recent entries
	mu         sync.RWMutex
	entries    []Entry
	maxEntries int
}

// NewLogger creates a new audit logger
func NewLogger(logger *zap.Logger, enabled bool) *Logger {
	return &Logger{
		enabled:    enabled,
		logger:     logger.Named("audit"),
		entries:    make([]Entry, 0, 1000),
		maxEntries: 1000, // Keep last 1000 entries in memory
	}
}

// Log records an audit entry
func (l *Logger) Log(ctx context.Context, entry Entry) {
	if !l.enabled {
		return
	}

	// Enrich with trace information
	traceInfo := telemetry.FromContext(ctx)
	if traceInfo.TraceID != "" {
		entry.TraceID = traceInfo.TraceID
	}
	if traceInfo.SpanID != "" {
		entry.SpanID = traceInfo.SpanID
	}

	// Ensure timestamp is set
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}

	// Log to structured logger
	fields := []zap.Field{
		zap.Time("timestamp", entry.Timestamp),
		zap.String("trace_id", entry.TraceID),
		zap.String("operation", entry.Operation),
		zap.Bool("success", entry.Success),
		zap.Duration("duration", entry.Duration),
	}

	if entry.SpanID != "" {
		fields = append(fields, zap.String("span_id", entry.SpanID))
	}
	if entry.InvestigationID != "" {
		fields = append(fields, zap.String("investigation_id", entry.InvestigationID))
	}
	if entry.Tool != "" {
		fields = append(fields, zap.String("tool", entry.Tool))
	}
	if entry.Resource != "" {
		fields = append(fields, zap.String("resource", entry.Resource))
	}
	if entry.ErrorMsg != "" {
		fields = append(fields, zap.String("error_message", entry.ErrorMsg))
	}

	l.logger.Info("audit", fields...)

	// Store in memory buffer
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.maxEntries {
		// Remove oldest entry
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, entry)
}

// LogToolExecution records one diagnostic tool call. Arguments are masked
// before they reach the buffer or the structured log.
func (l *Logger) LogToolExecution(ctx context.Context, investigationID, toolName string, args map[string]any, success bool, duration time.Duration, errMsg string) {
	l.Log(ctx, Entry{
		InvestigationID: investigationID,
		Tool:            toolName,
		Operation:       OpToolCall,
		Success:         success,
		Duration:        duration,
		ErrorMsg:        errMsg,
		Args:            security.SanitizeArgs(args),
	})
}

// LogInvestigation records a finished investigation run.
func (l *Logger) LogInvestigation(ctx context.Context, investigationID, status string, duration time.Duration) {
	l.Log(ctx, Entry{
		InvestigationID: investigationID,
		Operation:       OpInvestigate,
		Resource:        status,
		Success:         status == "completed",
		Duration:        duration,
	})
}

// GetRecentEntries returns the most recent audit entries
func (l *Logger) GetRecentEntries(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}

	// Return most recent entries (from the end)
	start := len(l.entries) - limit
	if start < 0 {
		start = 0
	}

	result := make([]Entry, limit)
	copy(result, l.entries[start:])

	// Reverse to get newest first
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result
}

// GetEntriesByInvestigation returns all entries recorded for one run
func (l *Logger) GetEntriesByInvestigation(investigationID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Entry
	for _, entry := range l.entries {
		if entry.InvestigationID == investigationID {
			result = append(result, entry)
		}
	}

	return result
}

// GetStats returns statistics about audit entries
func (l *Logger) GetStats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TotalEntries:    len(l.entries),
		ToolUsage:       make(map[string]int),
		OperationCounts: make(map[string]int),
	}

	var successCount int
	var totalDuration time.Duration

	for _, entry := range l.entries {
		if entry.Tool != "" {
			stats.ToolUsage[entry.Tool]++
		}
		stats.OperationCounts[entry.Operation]++

		if entry.Success {
			successCount++
		}

		totalDuration += entry.Duration
	}

	if len(l.entries) > 0 {
		stats.SuccessRate = float64(successCount) / float64(len(l.entries)) * 100
		stats.AverageDuration = totalDuration / time.Duration(len(l.entries))
	}

	return stats
}

// Stats contains aggregated audit statistics
type Stats struct {
	TotalEntries    int            `json:"total_entries"`
	SuccessRate     float64        `json:"success_rate_pct"`
	AverageDuration time.Duration  `json:"average_duration"`
	ToolUsage       map[string]int `json:"tool_usage"`
	OperationCounts map[string]int `json:"operation_counts"`
}

// ToJSON returns the stats as JSON
func (s Stats) ToJSON() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}

// Clear clears all audit entries (useful for testing)
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = l.entries[:0]
}

// IsEnabled returns whether audit logging is enabled
func (l *Logger) IsEnabled() bool {
	return l.enabled
}
