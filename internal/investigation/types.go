// Package investigation defines the domain model for a single root-cause
// investigation: facts gathered from cloud tooling, hypotheses derived from
// them, the root-cause and severity assessments, and the final report.
//
// All values here are owned by exactly one investigation. Nothing in this
// package is shared across investigations.
package investigation

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of an investigation.
type Status string

// Investigation states. InProgress is the only non-terminal state.
const (
	StatusInProgress       Status = "in_progress"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusInsufficientData Status = "insufficient_data"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusInsufficientData
}

// Hypothesis types produced by the reasoning phases. These are the only
// values the hypothesis validator accepts; anything else is normalized to
// lowercase-with-underscores and carried through.
const (
	HypothesisPermissionIssue     = "permission_issue"
	HypothesisConfigurationError  = "configuration_error"
	HypothesisCodeBug             = "code_bug"
	HypothesisTimeout             = "timeout"
	HypothesisResourceConstraint  = "resource_constraint"
	HypothesisIntegrationFailure  = "integration_failure"
	HypothesisInfrastructureIssue = "infrastructure_issue"
	HypothesisErrorRate           = "error_rate"
	HypothesisThrottling          = "throttling"
	HypothesisNetworkIssue        = "network_issue"
	HypothesisHighLatency         = "high_latency"
)

// Severity levels for the final assessment.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Impact scope values.
const (
	ScopeSingleResource = "single_resource"
	ScopeService        = "service"
	ScopeSystemWide     = "system_wide"
	ScopeUnknown        = "unknown"
)

// User impact values, ordered none < minimal < moderate < severe.
const (
	ImpactNone     = "none"
	ImpactMinimal  = "minimal"
	ImpactModerate = "moderate"
	ImpactSevere   = "severe"
	ImpactUnknown  = "unknown"
)

// Health status values for affected resources.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthFailed   = "failed"
	HealthUnknown  = "unknown"
)

// MaxFactContent is the upper bound on a fact's content length in bytes.
const MaxFactContent = 1024

// Fact is an atomic observation derived from a tool call. Facts are
// immutable once emitted; the collector only appends and truncates.
type Fact struct {
	Source     string         `json:"source"`
	Content    string         `json:"content"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewFact builds a fact, truncating content to MaxFactContent and clamping
// confidence into [0, 1].
func NewFact(source, content string, confidence float64) Fact {
	if len(content) > MaxFactContent {
		content = content[:MaxFactContent]
	}
	return Fact{
		Source:     source,
		Content:    content,
		Confidence: ClampConfidence(confidence),
	}
}

// WithMetadata returns a copy of the fact with one metadata key set.
func (f Fact) WithMetadata(key string, value any) Fact {
	md := make(map[string]any, len(f.Metadata)+1)
	for k, v := range f.Metadata {
		md[k] = v
	}
	md[key] = value
	f.Metadata = md
	return f
}

// Hypothesis is a typed, confidence-weighted claim about a possible cause.
// Evidence entries reference fact contents by equality or substring; a
// hypothesis without evidence never survives validation.
type Hypothesis struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Evidence    []string       `json:"evidence"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Advice is a single remediation recommendation.
type Advice struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
}

// AffectedResource describes one resource touched by the incident together
// with its observed health.
type AffectedResource struct {
	ResourceType   string         `json:"resource_type"`
	ResourceID     string         `json:"resource_id"`
	ResourceName   string         `json:"resource_name"`
	HealthStatus   string         `json:"health_status"`
	DetectedIssues []string       `json:"detected_issues"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SeverityAssessment is the outcome of the severity phase.
type SeverityAssessment struct {
	Severity              string  `json:"severity"`
	ImpactScope           string  `json:"impact_scope"`
	AffectedResourceCount int     `json:"affected_resource_count"`
	UserImpact            string  `json:"user_impact"`
	Confidence            float64 `json:"confidence"`
	Reasoning             string  `json:"reasoning"`
}

// RootCauseAnalysis is the outcome of the root-cause phase. When no primary
// cause could be selected, PrimaryRootCause is nil and ConfidenceScore is 0.
type RootCauseAnalysis struct {
	PrimaryRootCause    *Hypothesis  `json:"primary_root_cause"`
	ContributingFactors []Hypothesis `json:"contributing_factors"`
	ConfidenceScore     float64      `json:"confidence_score"`
	AnalysisSummary     string       `json:"analysis_summary"`
}

// EventTimeline is a single entry in the investigation timeline.
type EventTimeline struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   string         `json:"event_type"`
	Component   string         `json:"component"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Report is the structured output of one investigation.
type Report struct {
	RunID              string              `json:"run_id"`
	Status             Status              `json:"status"`
	StartedAt          time.Time           `json:"started_at"`
	CompletedAt        time.Time           `json:"completed_at"`
	DurationSeconds    float64             `json:"duration_seconds"`
	AffectedResources  []AffectedResource  `json:"affected_resources"`
	SeverityAssessment *SeverityAssessment `json:"severity_assessment"`
	Facts              []Fact              `json:"facts"`
	RootCauseAnalysis  *RootCauseAnalysis  `json:"root_cause_analysis"`
	Hypotheses         []Hypothesis        `json:"hypotheses"`
	Advice             []Advice            `json:"advice"`
	Timeline           []EventTimeline     `json:"timeline"`
	Summary            string              `json:"summary"`
}

// Resource is a cloud resource referenced by the investigation. Type is a
// lowercased service kind ("lambda", "apigateway", "stepfunctions", ...);
// unknown kinds carry type "unknown" and may be refined by discovery.
type Resource struct {
	Type     string         `json:"type"`
	Name     string         `json:"name"`
	ARN      string         `json:"arn,omitempty"`
	Region   string         `json:"region,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Key is the de-duplication key: the ARN when present, else type:name.
func (r Resource) Key() string {
	if r.ARN != "" {
		return r.ARN
	}
	return r.Type + ":" + r.Name
}

// TimeRange bounds the evidence window of an investigation.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParsedInputs is the typed result of input parsing.
type ParsedInputs struct {
	PrimaryTargets  []Resource     `json:"primary_targets"`
	TraceIDs        []string       `json:"trace_ids"`
	ErrorMessages   []string       `json:"error_messages"`
	BusinessContext map[string]any `json:"business_context,omitempty"`
	TimeRange       *TimeRange     `json:"time_range,omitempty"`
}

// Kind classifies the investigation for telemetry and the report summary.
func (p ParsedInputs) Kind() string {
	switch {
	case len(p.TraceIDs) > 0 && len(p.PrimaryTargets) > 0:
		return "hybrid"
	case len(p.TraceIDs) > 0:
		return "trace_based"
	case len(p.PrimaryTargets) > 0:
		return "resource_based"
	default:
		return "free_text"
	}
}

// Empty reports whether parsing produced nothing to investigate.
func (p ParsedInputs) Empty() bool {
	return len(p.PrimaryTargets) == 0 && len(p.TraceIDs) == 0
}

// ClampConfidence forces a confidence value into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// NormalizeHypothesisType lowercases a type string and replaces separators
// with underscores so "Permission Issue" and "permission-issue" both become
// "permission_issue".
func NormalizeHypothesisType(t string) string {
	t = strings.TrimSpace(strings.ToLower(t))
	t = strings.ReplaceAll(t, " ", "_")
	t = strings.ReplaceAll(t, "-", "_")
	return t
}

// MarshalStable renders the report as JSON with stable field ordering, so
// serialize → deserialize → serialize is byte-identical.
func (r *Report) MarshalStable() ([]byte, error) {
	return json.Marshal(r)
}
