package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
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

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Region:               "us-east-1",
		HTTPPort:             8080,
		InvestigationTimeout: time.Minute,
		CollectorTimeout:     10 * time.Second,
		ToolTimeout:          time.Second,
		LLM:                  config.LLMConfig{Provider: "off"},
	}
	caller := &stubCaller{responses: map[string]string{
		"get_function_config":             `{"config":{"runtime":"python3.12","state":"Active"}}`,
		"get_function_metrics":            `{"metrics":{"errors":{"total":5}}}`,
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

func TestInvocationsSuccess(t *testing.T) {
	s := testServer(t)

	body := `{
		"investigation": {"input": "payment-processor failing", "region": "us-east-1",
			"investigation_inputs": {"primary_targets": [{"type": "lambda", "name": "payment-processor"}]}},
		"service_config": {"role_arn": "arn:aws:iam::123456789012:role/rca-readonly"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.invocationsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])

	inv, ok := resp["investigation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", inv["status"])
	assert.NotEmpty(t, inv["run_id"])

	facts, ok := resp["facts"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, facts)
	assert.Contains(t, resp, "severity")
	assert.Contains(t, resp, "affected_resources")
	assert.Contains(t, resp, "root_cause")
	assert.Contains(t, resp, "timeline")
	assert.Contains(t, resp, "hypotheses")
	assert.Contains(t, resp, "remediation")
	assert.Contains(t, resp, "summary")
}

func TestInvocationsInsufficientData(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/invocations",
		strings.NewReader(`{"investigation": {"input": "vague feeling of doom"}}`))
	rec := httptest.NewRecorder()
	s.invocationsHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// insufficient_data is not a failure.
	assert.Equal(t, true, resp["success"])
	inv, ok := resp["investigation"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "insufficient_data", inv["status"])
}

func TestInvocationsMissingInput(t *testing.T) {
	s := testServer(t)

	for _, body := range []string{
		`{}`,
		`{"investigation": {}}`,
		`{"investigation": {"input": "   "}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(body))
		rec := httptest.NewRecorder()
		s.invocationsHandler(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
		var resp map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, false, resp["success"])
		assert.Contains(t, resp["error"], "investigation.input is required")
	}
}

func TestInvocationsBadJSON(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.invocationsHandler(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Contains(t, resp["error"], "invalid request body")
}

func TestInvocationsMethodNotAllowed(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/invocations", nil)
	rec := httptest.NewRecorder()
	s.invocationsHandler(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthHandler(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.healthHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "cloud-rca-engine", resp["service"])
	assert.Equal(t, "test", resp["version"])
	assert.Equal(t, "us-east-1", resp["region"])
	assert.Equal(t, "off", resp["llm_provider"])
}

func TestReadinessFlips(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.readyHandler(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetReady(true)
	rec = httptest.NewRecorder()
	s.readyHandler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusHandlerReportsRuns(t *testing.T) {
	s := testServer(t)

	// Run one investigation so the tracker has history.
	req := httptest.NewRequest(http.MethodPost, "/invocations",
		strings.NewReader(`{"investigation": {"input": "payment-processor failing", "investigation_inputs": {"primary_targets": [{"type": "lambda", "name": "payment-processor"}]}}}`))
	s.invocationsHandler(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	s.statusHandler(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	runs, ok := resp["runs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), runs["started"])
	recent, ok := resp["recent"].([]any)
	require.True(t, ok)
	assert.Len(t, recent, 1)
}

func TestPingHandler(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.pingHandler(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}
