package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/engine"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

type stubCaller struct {
	responses map[string]string
}

func (s *stubCaller) Call(_ context.Context, name string, _ map[string]any) string {
	if resp, ok := s.responses[name]; ok {
		return resp
	}
	return fmt.Sprintf(`{"error":"unknown tool %s"}`, name)
}

func testMCPServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Region:               "us-east-1",
		InvestigationTimeout: time.Minute,
		CollectorTimeout:     10 * time.Second,
		ToolTimeout:          time.Second,
		LLM:                  config.LLMConfig{Provider: "off"},
	}
	caller := &stubCaller{responses: map[string]string{
		"get_function_config":             `{"config":{"runtime":"python3.12","state":"Active"}}`,
		"get_function_metrics":            `{"metrics":{"errors":{"total":3}}}`,
		"get_function_failed_invocations": `{"failure_count":0,"failed_invocations":[]}`,
	}}
	eng := engine.New(cfg, zap.NewNop(), engine.Options{
		NewCloudClient: func(context.Context, cloudclient.Options, *zap.Logger) (*cloudclient.Client, error) {
			return &cloudclient.Client{}, nil
		},
		NewCaller: func(*cloudclient.Client, string) tools.Caller {
			return caller
		},
	})
	return New(eng, cfg, nil, zap.NewNop(), "test")
}

func TestHandleInvestigateRequiresInput(t *testing.T) {
	s := testMCPServer(t)

	_, err := s.handleInvestigate(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input is required")
}

func TestHandleInvestigateReturnsReport(t *testing.T) {
	s := testMCPServer(t)

	out, err := s.handleInvestigate(context.Background(), map[string]any{
		"input":         "payment-processor failing",
		"function_name": "payment-processor",
	})
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "completed", report["status"])
	assert.NotEmpty(t, report["run_id"])
	facts, ok := report["facts"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, facts)
}

func TestHandleStatus(t *testing.T) {
	s := testMCPServer(t)

	_, err := s.handleInvestigate(context.Background(), map[string]any{
		"input":         "checkout down",
		"function_name": "payment-processor",
	})
	require.NoError(t, err)

	out, err := s.handleStatus(context.Background(), nil)
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "test", status["version"])
	assert.Equal(t, "us-east-1", status["region"])
	recent, ok := status["recent"].([]any)
	require.True(t, ok)
	assert.Len(t, recent, 1)
}

func TestHandleRunToolRequiresName(t *testing.T) {
	s := testMCPServer(t)

	_, err := s.handleRunTool(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool is required")
}
