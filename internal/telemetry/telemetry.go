// Package telemetry provides distributed tracing for investigations using
// OpenTelemetry. Spans are exported over OTLP gRPC when an endpoint is
// configured, to stderr when console export is enabled, and dropped
// otherwise.
package telemetry

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/security"
)

// Config holds telemetry configuration
type Config struct {
	Endpoint       string // OTLP gRPC endpoint (e.g., "collector:4317")
	ServiceName    string
	ServiceVersion string
	Headers        string // comma-separated k=v pairs forwarded to the exporter
	Username       string // optional basic auth for the collector
	Password       string
	ConsoleExport  bool
}

// Attribute and event names attached to investigation spans.
const (
	AttrInvestigationID     = "investigation.id"
	AttrInvestigationRegion = "investigation.region"
	AttrInvestigationType   = "investigation.type"
	AttrInvestigationRole   = "investigation.role_arn"
	AttrExternalIDSet       = "investigation.external_id_set"
	AttrInput               = "investigation.input"
	AttrOutput              = "investigation.output"
	EventInput              = "investigation.input"
	EventOutput             = "investigation.output"
)

// Long inputs and reports are truncated before they become span payload.
const maxAttrLen = 4096

var (
	mu          sync.Mutex
	initialized bool
	shutdownFn  func(context.Context) error
	tracer      trace.Tracer
)

// Init initializes the tracer provider exactly once. Subsequent calls return
// the shutdown function from the first initialization, so concurrent servers
// and repeated engine construction are safe.
func Init(cfg Config, logger *zap.Logger) (func(context.Context) error, error) {
	mu.Lock()
	defer mu.Unlock()

	if initialized {
		logger.Debug("Telemetry already initialized, reusing provider")
		return shutdownFn, nil
	}

	exporter, err := buildExporter(cfg, logger)
	if err != nil {
		return nil, err
	}

	if exporter == nil {
		// No endpoint and no console export: tracing stays a no-op.
		initialized = true
		tracer = otel.Tracer(cfg.ServiceName)
		shutdownFn = func(context.Context) error { return nil }
		logger.Debug("Telemetry disabled, spans will not be exported")
		return shutdownFn, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	initialized = true
	tracer = tp.Tracer(cfg.ServiceName)
	shutdownFn = func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}

	logger.Info("Telemetry initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("console_export", cfg.ConsoleExport))

	return shutdownFn, nil
}

func buildExporter(cfg Config, logger *zap.Logger) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(strings.TrimPrefix(cfg.Endpoint, "http://")),
		}
		if !strings.HasPrefix(cfg.Endpoint, "https://") {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if headers := exporterHeaders(cfg); len(headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(headers))
		}

		return otlptracegrpc.New(ctx, opts...)
	}

	if cfg.ConsoleExport {
		return stdouttrace.New(
			stdouttrace.WithWriter(os.Stderr),
			stdouttrace.WithPrettyPrint(),
		)
	}

	return nil, nil
}

func exporterHeaders(cfg Config) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(cfg.Headers, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if cfg.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers["authorization"] = "Basic " + auth
	}
	return headers
}

// ResetForTest clears the one-shot guard. Tests only.
func ResetForTest() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	shutdownFn = nil
	tracer = nil
}

// GetTracer returns the tracer configured by Init, or a tracer from the
// global provider when Init has not run.
func GetTracer() trace.Tracer {
	mu.Lock()
	defer mu.Unlock()
	if tracer == nil {
		return otel.Tracer("cloud-rca-engine")
	}
	return tracer
}

// StartInvestigation begins the root span for an investigation run.
func StartInvestigation(ctx context.Context, runID, region, investigationType string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "rca.investigation",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrInvestigationID, runID),
			attribute.String(AttrInvestigationRegion, region),
			attribute.String(AttrInvestigationType, investigationType),
		),
	)
}

// PhaseSpan starts a child span for one pipeline phase.
func PhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "rca.phase."+phase,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("rca.phase", phase)),
	)
}

// ToolSpan starts a child span for a diagnostic tool call.
func ToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "rca.tool."+toolName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rca.tool.name", toolName)),
	)
}

// SetRole records the assumed role on the span. The ARN keeps account and
// role name, the external ID is reduced to a presence flag.
func SetRole(span trace.Span, roleARN, externalID string) {
	if roleARN == "" {
		return
	}
	span.SetAttributes(
		attribute.String(AttrInvestigationRole, security.MaskRoleARN(roleARN)),
		attribute.Bool(AttrExternalIDSet, externalID != ""),
	)
}

// RecordInput attaches the raw investigation input as both an attribute and
// a span event.
func RecordInput(span trace.Span, input string) {
	input = truncate(input)
	span.SetAttributes(attribute.String(AttrInput, input))
	span.AddEvent(EventInput, trace.WithAttributes(attribute.String("payload", input)))
}

// RecordOutput attaches the investigation outcome as both attributes and a
// span event.
func RecordOutput(span trace.Span, status, summary string, facts, hypotheses int) {
	summary = truncate(summary)
	span.SetAttributes(
		attribute.String(AttrOutput, summary),
		attribute.String("investigation.status", status),
		attribute.Int("investigation.facts", facts),
		attribute.Int("investigation.hypotheses", hypotheses),
	)
	span.AddEvent(EventOutput, trace.WithAttributes(
		attribute.String("status", status),
		attribute.String("payload", summary),
	))
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
}

// TraceInfo provides trace and span IDs for audit logging
type TraceInfo struct {
	TraceID string
	SpanID  string
}

// FromContext extracts trace information from context for audit logging
func FromContext(ctx context.Context) *TraceInfo {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.SpanContext().IsValid() {
		return &TraceInfo{}
	}

	sc := span.SpanContext()
	return &TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

func truncate(s string) string {
	if len(s) > maxAttrLen {
		return s[:maxAttrLen]
	}
	return s
}
