// Package server exposes the investigation engine over HTTP. It serves the
// invocation endpoint plus the health, status, and metrics surfaces the
// deployment probes expect.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/engine"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/metrics"
)

// Server is the HTTP front end.
type Server struct {
	engine     *engine.Engine
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	httpServer *http.Server
	version    string
	startedAt  time.Time

	ready atomic.Bool
}

// New builds the server and its mux. bindAddr defaults to localhost; bind
// 0.0.0.0 only when the deployment needs external probes.
func New(eng *engine.Engine, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger, version string) *Server {
	s := &Server{
		engine:    eng,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		version:   version,
		startedAt: time.Now().UTC(),
	}

	bindAddr := cfg.HTTPBindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/invocations", s.invocationsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.HandleFunc("/live", s.liveHandler)
	mux.HandleFunc("/ping", s.pingHandler)
	mux.HandleFunc("/status", s.statusHandler)
	if cfg.MetricsEndpoint != "" {
		mux.Handle(cfg.MetricsEndpoint, promhttp.HandlerFor(
			metrics.GetPrometheusRegistry(),
			promhttp.HandlerOpts{},
		))
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bindAddr, cfg.HTTPPort),
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.InvestigationTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// SetReady marks the server ready for the readiness probe.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("metrics_endpoint", s.cfg.MetricsEndpoint))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// invocationPayload is the wire shape of one investigation request.
type invocationPayload struct {
	Investigation struct {
		Input       string         `json:"input"`
		XRayTraceID string         `json:"xray_trace_id"`
		Region      string         `json:"region"`
		Inputs      map[string]any `json:"investigation_inputs"`
	} `json:"investigation"`
	ServiceConfig struct {
		RoleARN    string `json:"role_arn"`
		ExternalID string `json:"external_id"`
		Region     string `json:"region"`
	} `json:"service_config"`
}

// invocationRun is the investigation section of the response: the run's
// identity and lifecycle, separated from the analysis sections.
type invocationRun struct {
	RunID           string               `json:"run_id"`
	Status          investigation.Status `json:"status"`
	StartedAt       time.Time            `json:"started_at"`
	CompletedAt     time.Time            `json:"completed_at"`
	DurationSeconds float64              `json:"duration_seconds"`
}

// invocationResponse is the wire envelope: the report split into named
// sections under the success flag callers switch on.
type invocationResponse struct {
	Success           bool                              `json:"success"`
	Investigation     invocationRun                     `json:"investigation"`
	Severity          *investigation.SeverityAssessment `json:"severity,omitempty"`
	AffectedResources []investigation.AffectedResource  `json:"affected_resources"`
	RootCause         *investigation.RootCauseAnalysis  `json:"root_cause,omitempty"`
	Timeline          []investigation.EventTimeline     `json:"timeline"`
	Facts             []investigation.Fact              `json:"facts"`
	Hypotheses        []investigation.Hypothesis        `json:"hypotheses"`
	Remediation       []investigation.Advice            `json:"remediation"`
	Summary           string                            `json:"summary"`
}

func newInvocationResponse(report *investigation.Report) invocationResponse {
	return invocationResponse{
		Success: report.Status != investigation.StatusFailed,
		Investigation: invocationRun{
			RunID:           report.RunID,
			Status:          report.Status,
			StartedAt:       report.StartedAt,
			CompletedAt:     report.CompletedAt,
			DurationSeconds: report.DurationSeconds,
		},
		Severity:          report.SeverityAssessment,
		AffectedResources: report.AffectedResources,
		RootCause:         report.RootCauseAnalysis,
		Timeline:          report.Timeline,
		Facts:             report.Facts,
		Hypotheses:        report.Hypotheses,
		Remediation:       report.Advice,
		Summary:           report.Summary,
	}
}

// invocationsHandler runs one investigation synchronously.
func (s *Server) invocationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload invocationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	if strings.TrimSpace(payload.Investigation.Input) == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "investigation.input is required",
		})
		return
	}

	region := payload.Investigation.Region
	if region == "" {
		region = payload.ServiceConfig.Region
	}

	var structured map[string]any
	if payload.Investigation.Inputs != nil {
		structured = map[string]any{"investigation_inputs": payload.Investigation.Inputs}
	}

	report := s.engine.Investigate(r.Context(), engine.Request{
		Input:      payload.Investigation.Input,
		TraceID:    payload.Investigation.XRayTraceID,
		Region:     region,
		RoleARN:    payload.ServiceConfig.RoleARN,
		ExternalID: payload.ServiceConfig.ExternalID,
		Structured: structured,
	})

	s.writeJSON(w, http.StatusOK, newInvocationResponse(report))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"service":        "cloud-rca-engine",
		"version":        s.version,
		"region":         s.cfg.Region,
		"llm_provider":   s.cfg.LLM.Provider,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.ready.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

func (s *Server) pingHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// statusHandler reports in-flight and recent runs plus engine statistics.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tracker := s.engine.Tracker()
	payload := map[string]any{
		"version":     s.version,
		"region":      s.cfg.Region,
		"uptime_secs": time.Since(s.startedAt).Seconds(),
		"runs":        tracker.Stats(),
		"active":      tracker.Active(),
		"recent":      tracker.Recent(),
	}
	if s.metrics != nil {
		payload["metrics"] = s.metrics.GetStats()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := s.encode(w, body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) encode(w http.ResponseWriter, body any) error {
	return json.NewEncoder(w).Encode(body)
}
