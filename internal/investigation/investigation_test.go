package investigation

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFactClampsAndTruncates(t *testing.T) {
	f := NewFact("test", strings.Repeat("x", MaxFactContent+100), 1.4)
	assert.Len(t, f.Content, MaxFactContent)
	assert.InDelta(t, 1.0, f.Confidence, 0.001)

	f = NewFact("test", "short", -0.2)
	assert.InDelta(t, 0.0, f.Confidence, 0.001)
}

func TestResourceKey(t *testing.T) {
	withARN := Resource{Type: "lambda", Name: "fn", ARN: "arn:aws:lambda:us-east-1:123456789012:function:fn"}
	assert.Equal(t, withARN.ARN, withARN.Key())

	withoutARN := Resource{Type: "lambda", Name: "fn"}
	assert.Equal(t, "lambda:fn", withoutARN.Key())
}

func TestNormalizeHypothesisType(t *testing.T) {
	assert.Equal(t, "permission_issue", NormalizeHypothesisType("Permission Issue"))
	assert.Equal(t, "permission_issue", NormalizeHypothesisType("permission-issue"))
	assert.Equal(t, "code_bug", NormalizeHypothesisType("  CODE_BUG "))
}

func TestNewRunIDDeterministicPrefix(t *testing.T) {
	id := NewRunID("some input")
	assert.True(t, strings.HasPrefix(id, "rca-"))

	other := NewRunID("some input")
	// Same seed in the same second shares the fnv suffix.
	assert.Equal(t, id[strings.LastIndex(id, "-"):], other[strings.LastIndex(other, "-"):])
}

func TestAssembleNormalizesNilSlices(t *testing.T) {
	a := Assembler{Region: "us-east-1"}
	report := a.Assemble(AssembleInput{
		RunID:       "rca-1",
		Status:      StatusCompleted,
		StartedAt:   time.Now().Add(-time.Minute),
		CompletedAt: time.Now(),
	})

	assert.NotNil(t, report.Facts)
	assert.NotNil(t, report.Hypotheses)
	assert.NotNil(t, report.Advice)
	assert.NotNil(t, report.AffectedResources)
	assert.Empty(t, report.Facts)
	assert.Greater(t, report.DurationSeconds, 0.0)
}

func TestAssembleTimeline(t *testing.T) {
	a := Assembler{Region: "us-east-1"}
	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	report := a.Assemble(AssembleInput{
		RunID:       "rca-1",
		Status:      StatusCompleted,
		StartedAt:   started,
		CompletedAt: started.Add(30 * time.Second),
		Parsed: ParsedInputs{
			TraceIDs: []string{"1-68e904af-484b173354fff9607ee41871"},
		},
	})

	require.Len(t, report.Timeline, 3)
	assert.Equal(t, "investigation_start", report.Timeline[0].EventType)
	assert.Equal(t, "trace_analysis", report.Timeline[1].EventType)
	assert.Equal(t, "investigation_complete", report.Timeline[2].EventType)
	assert.Contains(t, report.Timeline[1].Description, "1-68e904af-484b173354fff9607ee41871")
}

func TestAssembleSummaryCarriesReason(t *testing.T) {
	a := Assembler{Region: "us-east-1"}
	report := a.Assemble(AssembleInput{
		RunID:       "rca-1",
		Status:      StatusInsufficientData,
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
		Reason:      "No resources or trace IDs identified",
	})

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(report.Summary), &summary))
	assert.Equal(t, "No resources or trace IDs identified", summary["reason"])
	assert.Equal(t, "free_text", summary["investigation_type"])
	assert.Equal(t, "us-east-1", summary["region"])

	assert.Contains(t, report.Timeline[len(report.Timeline)-1].Description, "insufficient_data")
}

func TestAssembleNegativeDurationClamped(t *testing.T) {
	a := Assembler{}
	now := time.Now()
	report := a.Assemble(AssembleInput{
		StartedAt:   now,
		CompletedAt: now.Add(-time.Second),
	})
	assert.Equal(t, 0.0, report.DurationSeconds)
}

func TestBuildAffectedResourcesHealth(t *testing.T) {
	resources := []Resource{
		{Type: "lambda", Name: "payment-processor"},
		{Type: "sqs", Name: "orders-queue"},
		{Type: "dynamodb", Name: "orders"},
		{Type: "s3", Name: "invoice-archive"},
	}
	facts := []Fact{
		NewFact("a", "Lambda payment-processor recorded 17 invocation errors", 0.9),
		NewFact("b", "SQS queue orders-queue oldest message age reached 1800s; consumers are slow", 0.9),
		NewFact("c", "DynamoDB table orders: status ACTIVE, billing PAY_PER_REQUEST", 0.85),
	}

	affected := BuildAffectedResources(resources, facts)
	require.Len(t, affected, 4)

	assert.Equal(t, HealthFailed, affected[0].HealthStatus)
	require.NotEmpty(t, affected[0].DetectedIssues)
	assert.Equal(t, HealthDegraded, affected[1].HealthStatus)
	assert.Equal(t, HealthHealthy, affected[2].HealthStatus)
	assert.Equal(t, HealthUnknown, affected[3].HealthStatus)
}

func TestBuildAffectedResourcesMetadataKeyMatch(t *testing.T) {
	resources := []Resource{{Type: "lambda", Name: "fn"}}
	facts := []Fact{
		NewFact("a", "a denied call was recorded", 0.9).WithMetadata("resource", "lambda:fn"),
	}

	affected := BuildAffectedResources(resources, facts)
	require.Len(t, affected, 1)
	assert.Equal(t, HealthFailed, affected[0].HealthStatus)
}

func TestMarshalStableRoundTrips(t *testing.T) {
	a := Assembler{Region: "us-east-1"}
	report := a.Assemble(AssembleInput{
		RunID:       "rca-1",
		Status:      StatusCompleted,
		StartedAt:   time.Now(),
		CompletedAt: time.Now(),
		Facts:       []Fact{NewFact("x", "a fact", 0.9)},
	})

	data, err := report.MarshalStable()
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.RunID, decoded.RunID)
	assert.Equal(t, report.Status, decoded.Status)
	require.Len(t, decoded.Facts, 1)
}
