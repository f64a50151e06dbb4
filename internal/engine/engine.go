// Package engine orchestrates an investigation end to end: parse the
// request, assume the target account's role, discover resources, collect
// evidence, run the reasoning phases, and assemble the report. The engine
// always returns a report; failures become terminal report states rather
// than errors.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tareqmamari/cloud-rca-engine/internal/analysis"
	"github.com/tareqmamari/cloud-rca-engine/internal/audit"
	"github.com/tareqmamari/cloud-rca-engine/internal/cache"
	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
	"github.com/tareqmamari/cloud-rca-engine/internal/collector"
	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/discover"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/llm"
	"github.com/tareqmamari/cloud-rca-engine/internal/metrics"
	"github.com/tareqmamari/cloud-rca-engine/internal/parser"
	"github.com/tareqmamari/cloud-rca-engine/internal/runs"
	"github.com/tareqmamari/cloud-rca-engine/internal/security"
	"github.com/tareqmamari/cloud-rca-engine/internal/telemetry"
	"github.com/tareqmamari/cloud-rca-engine/internal/tools"
)

// insufficientDataReason is the canonical reason for the empty-input
// short circuit.
const insufficientDataReason = "No resources or trace IDs identified"

// Request is one investigation request after wire decoding.
type Request struct {
	Input      string
	TraceID    string
	Region     string
	RoleARN    string
	ExternalID string
	// Structured carries the raw request object for the parser's structured
	// and legacy key handling.
	Structured map[string]any
}

// Engine runs investigations. One Engine serves all requests; everything
// per-investigation (cloud client, dispatcher, LLM phases) is built inside
// Investigate and released when it returns.
type Engine struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger
	cache   *cache.Manager
	tracker *runs.Tracker

	// newCloudClient is swapped by tests to avoid real STS calls.
	newCloudClient func(ctx context.Context, opts cloudclient.Options, logger *zap.Logger) (*cloudclient.Client, error)
	// newCaller builds the tool dispatch seam for one investigation.
	newCaller func(client *cloudclient.Client, runID string) tools.Caller
}

// Options carries the engine's long-lived collaborators. The two factory
// fields default to the real AWS paths; tests override them to avoid STS.
type Options struct {
	Metrics *metrics.Metrics
	Audit   *audit.Logger
	Cache   *cache.Manager
	Tracker *runs.Tracker

	NewCloudClient func(ctx context.Context, opts cloudclient.Options, logger *zap.Logger) (*cloudclient.Client, error)
	NewCaller      func(client *cloudclient.Client, runID string) tools.Caller
}

func New(cfg *config.Config, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = runs.NewTracker()
	}

	e := &Engine{
		cfg:            cfg,
		logger:         logger,
		metrics:        opts.Metrics,
		audit:          opts.Audit,
		cache:          opts.Cache,
		tracker:        tracker,
		newCloudClient: cloudclient.New,
	}
	e.newCaller = e.buildDispatcher
	if opts.NewCloudClient != nil {
		e.newCloudClient = opts.NewCloudClient
	}
	if opts.NewCaller != nil {
		e.newCaller = opts.NewCaller
	}
	return e
}

// Tracker exposes the run tracker for the status surfaces.
func (e *Engine) Tracker() *runs.Tracker { return e.tracker }

// Investigate runs the full pipeline for one request.
func (e *Engine) Investigate(ctx context.Context, req Request) *investigation.Report {
	runID := investigation.NewRunID(req.Input + req.TraceID)
	startedAt := time.Now()

	region := req.Region
	if region == "" {
		region = e.cfg.Region
	}
	roleARN := req.RoleARN
	if roleARN == "" {
		roleARN = e.cfg.RoleARN
	}
	externalID := req.ExternalID
	if externalID == "" {
		externalID = e.cfg.ExternalID
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.InvestigationTimeout)
	defer cancel()

	ctx, span := telemetry.StartInvestigation(ctx, runID, region, "rca")
	defer span.End()
	telemetry.SetRole(span, roleARN, externalID)
	telemetry.RecordInput(span, req.Input)

	logger := e.logger.With(zap.String("run_id", runID), zap.String("region", region))
	logger.Info("Investigation started",
		zap.String("role_arn", security.MaskRoleARN(roleARN)),
		zap.String("trace_id", req.TraceID))

	e.tracker.Start(runID, region)
	if e.metrics != nil {
		e.metrics.InvestigationStarted()
	}

	assembler := investigation.Assembler{Region: region}
	finish := func(report *investigation.Report, reason string) *investigation.Report {
		e.tracker.Finish(runID, string(report.Status), reason, len(report.Facts))
		if e.metrics != nil {
			e.metrics.InvestigationFinished()
			e.metrics.RecordInvestigation(string(report.Status), time.Since(startedAt))
		}
		if e.audit != nil {
			e.audit.LogInvestigation(ctx, runID, string(report.Status), time.Since(startedAt))
		}
		telemetry.RecordOutput(span, string(report.Status), report.Summary,
			len(report.Facts), len(report.Hypotheses))
		logger.Info("Investigation finished",
			zap.String("status", string(report.Status)),
			zap.Int("facts", len(report.Facts)),
			zap.Int("hypotheses", len(report.Hypotheses)),
			zap.Duration("elapsed", time.Since(startedAt)))
		return report
	}

	// Credentials first: without a working client nothing else can run.
	client, err := e.newCloudClient(ctx, cloudclient.Options{
		Region:     region,
		RoleARN:    roleARN,
		ExternalID: externalID,
	}, logger)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Error("Credential acquisition failed", zap.Error(err))
		return finish(assembler.Assemble(investigation.AssembleInput{
			RunID:       runID,
			Status:      investigation.StatusFailed,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
			Reason:      fmt.Sprintf("credential acquisition failed: %v", err),
		}), "credential_error")
	}

	caller := e.newCaller(client, runID)
	phases := e.buildPhases(client, logger)

	// Phase: parse.
	parseCtx, parseSpan := telemetry.PhaseSpan(ctx, "parse")
	parsed := parser.New(phases, logger.Named("parser")).Parse(parseCtx, parser.Request{
		FreeText:   req.Input,
		TraceID:    req.TraceID,
		Region:     region,
		Structured: req.Structured,
	})
	parseSpan.End()
	e.tracker.SetKind(runID, parsed.Kind())

	if parsed.Empty() {
		return finish(assembler.Assemble(investigation.AssembleInput{
			RunID:       runID,
			Status:      investigation.StatusInsufficientData,
			StartedAt:   startedAt,
			CompletedAt: time.Now(),
			Parsed:      parsed,
			Reason:      insufficientDataReason,
		}), insufficientDataReason)
	}

	// Phase: discover.
	discoverCtx, discoverSpan := telemetry.PhaseSpan(ctx, "discover")
	resources := discover.New(caller, logger.Named("discover")).Discover(discoverCtx, parsed)
	discoverSpan.End()

	// Phase: collect.
	collectCtx, collectSpan := telemetry.PhaseSpan(ctx, "collect")
	facts := collector.New(caller, collector.Options{
		Timeout:            e.cfg.CollectorTimeout,
		EnableHealthChecks: e.cfg.EnableHealthChecks,
		Metrics:            e.metrics,
		Logger:             logger.Named("collector"),
	}).Collect(collectCtx, resources, parsed.TraceIDs)
	collectSpan.End()

	// Reasoning phases.
	analyzer := analysis.NewAnalyzer(phases, logger.Named("analysis"))

	hypCtx, hypSpan := telemetry.PhaseSpan(ctx, "hypothesize")
	hypotheses := analyzer.Hypotheses(hypCtx, facts)
	hypSpan.End()

	rcCtx, rcSpan := telemetry.PhaseSpan(ctx, "rootcause")
	rootCause := analyzer.RootCause(rcCtx, hypotheses, facts)
	rcSpan.End()

	affected := investigation.BuildAffectedResources(resources, facts)

	sevCtx, sevSpan := telemetry.PhaseSpan(ctx, "severity")
	severity := analyzer.Severity(sevCtx, facts, hypotheses, affected)
	sevSpan.End()

	if e.metrics != nil {
		e.metrics.RecordEvidence(len(facts), len(hypotheses))
	}

	status := investigation.StatusCompleted
	reason := ""
	if ctx.Err() != nil {
		status = investigation.StatusFailed
		reason = "investigation deadline exceeded"
	}

	return finish(assembler.Assemble(investigation.AssembleInput{
		RunID:       runID,
		Status:      status,
		StartedAt:   startedAt,
		CompletedAt: time.Now(),
		Parsed:      parsed,
		Affected:    affected,
		Facts:       facts,
		Hypotheses:  hypotheses,
		RootCause:   rootCause,
		Severity:    severity,
		Advice:      analysis.BuildAdvice(rootCause),
		Reason:      reason,
	}), reason)
}

// buildDispatcher wires the per-investigation tool surface: the registry for
// the assumed-role client wrapped with rate limiting, caching, metrics,
// auditing, and the per-call timeout.
func (e *Engine) buildDispatcher(client *cloudclient.Client, runID string) tools.Caller {
	registry := tools.NewRegistryForClient(client, e.logger.Named("tools"))

	var limiter *rate.Limiter
	if e.cfg.EnableRateLimit {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.RateLimit), e.cfg.RateLimitBurst)
	}
	var cacheManager *cache.Manager
	if e.cfg.EnableToolCache {
		cacheManager = e.cache
	}

	return tools.NewDispatcher(registry, tools.DispatcherOptions{
		Logger:          e.logger.Named("dispatcher"),
		Metrics:         e.metrics,
		Audit:           e.audit,
		Cache:           cacheManager,
		Limiter:         limiter,
		Timeout:         e.cfg.ToolTimeout,
		Region:          client.Region(),
		RoleARN:         client.RoleARN(),
		InvestigationID: runID,
	})
}

// buildPhases constructs the LLM layer for this investigation. Bedrock
// shares the investigation's assumed-role credentials. A broken LLM setup
// degrades to deterministic fallbacks instead of failing the run.
func (e *Engine) buildPhases(client *cloudclient.Client, logger *zap.Logger) *llm.Phases {
	var limiter *rate.Limiter
	if e.cfg.EnableRateLimit {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.RateLimit), e.cfg.RateLimitBurst)
	}

	phases, err := llm.NewPhases(e.cfg.LLM, llm.PhasesOptions{
		Limiter: limiter,
		Metrics: e.metrics,
		Logger:  logger.Named("llm"),
		BedrockFactory: func(modelID string) llm.Model {
			return llm.NewBedrock(client.Config(), modelID)
		},
	})
	if err != nil {
		logger.Warn("LLM setup failed, continuing with deterministic fallbacks", zap.Error(err))
		disabled, _ := llm.NewPhases(config.LLMConfig{Provider: "off"}, llm.PhasesOptions{Logger: logger})
		return disabled
	}
	return phases
}
