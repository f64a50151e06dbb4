package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

// stubCaller replays canned tool responses; unknown tools return error
// envelopes like the real dispatcher.
type stubCaller struct {
	responses map[string]string
}

func (s *stubCaller) Call(_ context.Context, name string, _ map[string]any) string {
	if resp, ok := s.responses[name]; ok {
		return resp
	}
	return fmt.Sprintf(`{"error":"unknown tool %s"}`, name)
}

func testConfig() *config.Config {
	return &config.Config{
		Region:               "us-east-1",
		InvestigationTimeout: time.Minute,
		CollectorTimeout:     10 * time.Second,
		ToolTimeout:          time.Second,
		LLM:                  config.LLMConfig{Provider: "off"},
	}
}

// newTestEngine builds an engine whose cloud client and tool dispatch are
// stubbed out.
func newTestEngine(cfg *config.Config, caller tools.Caller) *Engine {
	e := New(cfg, zap.NewNop(), Options{})
	e.newCloudClient = func(context.Context, cloudclient.Options, *zap.Logger) (*cloudclient.Client, error) {
		return &cloudclient.Client{}, nil
	}
	e.newCaller = func(*cloudclient.Client, string) tools.Caller {
		return caller
	}
	return e
}

func TestInvestigateCompletesWithLambdaTarget(t *testing.T) {
	caller := &stubCaller{responses: map[string]string{
		"get_function_config": `{"config":{"runtime":"python3.12","timeout":3,"memory_size":128,"state":"Active"}}`,
		"get_function_metrics": `{"metrics":{
			"errors":{"total":17}
		}}`,
		"get_function_failed_invocations": `{"failure_count":1,"failed_invocations":[
			{"message":"Task timed out after 3.00 seconds"}
		]}`,
	}}
	e := newTestEngine(testConfig(), caller)

	report := e.Investigate(context.Background(), Request{
		Input:      "payment-processor is failing",
		Structured: map[string]any{"function_name": "payment-processor"},
	})

	require.NotNil(t, report)
	assert.Equal(t, investigation.StatusCompleted, report.Status)
	assert.NotEmpty(t, report.Facts)
	assert.NotEmpty(t, report.Hypotheses)
	require.NotNil(t, report.RootCauseAnalysis)
	require.NotNil(t, report.SeverityAssessment)
	assert.NotEmpty(t, report.Advice)
	require.Len(t, report.AffectedResources, 1)
	assert.Equal(t, "payment-processor", report.AffectedResources[0].ResourceName)
	assert.Equal(t, investigation.HealthFailed, report.AffectedResources[0].HealthStatus)
}

func TestInvestigateTraceBased(t *testing.T) {
	traceID := "1-68e904af-484b173354fff9607ee41871"
	caller := &stubCaller{responses: map[string]string{
		"get_all_resources_from_trace": `{"resources":[{"type":"lambda","name":"payment-processor"}]}`,
		"get_xray_trace": `{"trace":{"segments":[
			{"name":"payment-processor","fault":true,
			 "cause":{"exceptions":[{"type":"AccessDeniedException","message":"not authorized to perform dynamodb:PutItem"}]}}
		]}}`,
		"query_logs_by_trace_id":          `{"events":[]}`,
		"get_function_config":             `{"config":{"runtime":"python3.12","state":"Active"}}`,
		"get_function_metrics":            `{"metrics":{}}`,
		"get_function_failed_invocations": `{"failure_count":0,"failed_invocations":[]}`,
	}}
	e := newTestEngine(testConfig(), caller)

	report := e.Investigate(context.Background(), Request{TraceID: traceID})

	assert.Equal(t, investigation.StatusCompleted, report.Status)
	require.NotNil(t, report.RootCauseAnalysis)
	require.NotNil(t, report.RootCauseAnalysis.PrimaryRootCause)
	assert.Equal(t, investigation.HypothesisPermissionIssue, report.RootCauseAnalysis.PrimaryRootCause.Type)

	// Timeline carries the per-trace entry.
	var traceEvents int
	for _, ev := range report.Timeline {
		if ev.EventType == "trace_analysis" {
			traceEvents++
		}
	}
	assert.Equal(t, 1, traceEvents)
}

func TestInvestigateInsufficientData(t *testing.T) {
	e := newTestEngine(testConfig(), &stubCaller{})

	report := e.Investigate(context.Background(), Request{Input: "something seems wrong"})

	assert.Equal(t, investigation.StatusInsufficientData, report.Status)
	assert.Empty(t, report.Facts)
	assert.Contains(t, report.Summary, insufficientDataReason)
}

func TestInvestigateCredentialFailure(t *testing.T) {
	e := newTestEngine(testConfig(), &stubCaller{})
	e.newCloudClient = func(context.Context, cloudclient.Options, *zap.Logger) (*cloudclient.Client, error) {
		return nil, errors.New("AssumeRole denied")
	}

	report := e.Investigate(context.Background(), Request{
		Input:   "checkout down",
		RoleARN: "arn:aws:iam::123456789012:role/rca-readonly",
	})

	assert.Equal(t, investigation.StatusFailed, report.Status)
	assert.Contains(t, report.Summary, "credential acquisition failed")
}

func TestInvestigateTrackerRecordsRun(t *testing.T) {
	caller := &stubCaller{responses: map[string]string{
		"get_function_config":             `{"config":{"runtime":"python3.12","state":"Active"}}`,
		"get_function_metrics":            `{"metrics":{}}`,
		"get_function_failed_invocations": `{"failure_count":0,"failed_invocations":[]}`,
	}}
	e := newTestEngine(testConfig(), caller)

	report := e.Investigate(context.Background(), Request{
		Structured: map[string]any{"function_name": "payment-processor"},
	})

	assert.Empty(t, e.Tracker().Active())
	recent := e.Tracker().Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, report.RunID, recent[0].RunID)
	assert.Equal(t, string(investigation.StatusCompleted), recent[0].Status)
	assert.Equal(t, "resource_based", recent[0].Kind)
	assert.Equal(t, len(report.Facts), recent[0].FactCount)
}

func TestInvestigateRegionDefaultsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Region = "eu-central-1"

	var gotRegion string
	e := newTestEngine(cfg, &stubCaller{})
	e.newCloudClient = func(_ context.Context, opts cloudclient.Options, _ *zap.Logger) (*cloudclient.Client, error) {
		gotRegion = opts.Region
		return &cloudclient.Client{}, nil
	}

	e.Investigate(context.Background(), Request{
		Structured: map[string]any{"function_name": "payment-processor"},
	})

	assert.Equal(t, "eu-central-1", gotRegion)
}

func TestInvestigateToolFailuresStillComplete(t *testing.T) {
	// Every tool call fails; the report still completes with failure facts.
	e := newTestEngine(testConfig(), &stubCaller{})

	report := e.Investigate(context.Background(), Request{
		Structured: map[string]any{"function_name": "payment-processor"},
	})

	assert.Equal(t, investigation.StatusCompleted, report.Status)
	assert.NotEmpty(t, report.Facts)
	require.NotNil(t, report.SeverityAssessment)
}
