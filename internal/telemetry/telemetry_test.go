package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

func TestInitIsIdempotent(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	logger := zap.NewNop()

	shutdown1, err := Init(Config{ServiceName: "rca-test"}, logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown1)

	shutdown2, err := Init(Config{ServiceName: "rca-test", Endpoint: "ignored:4317"}, logger)
	require.NoError(t, err)
	require.NotNil(t, shutdown2)

	// Second call must not build a second provider.
	assert.NoError(t, shutdown1(context.Background()))
	assert.NoError(t, shutdown2(context.Background()))
}

func TestResetForTestAllowsReinit(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	logger := zap.NewNop()

	_, err := Init(Config{ServiceName: "first"}, logger)
	require.NoError(t, err)

	ResetForTest()

	_, err = Init(Config{ServiceName: "second"}, logger)
	require.NoError(t, err)
}

func TestExporterHeaders(t *testing.T) {
	headers := exporterHeaders(Config{
		Headers:  "x-scope-orgid=tenant1, x-custom=v",
		Username: "collector",
		Password: "secret",
	})

	assert.Equal(t, "tenant1", headers["x-scope-orgid"])
	assert.Equal(t, "v", headers["x-custom"])
	// base64("collector:secret")
	assert.Equal(t, "Basic Y29sbGVjdG9yOnNlY3JldA==", headers["authorization"])

	assert.Empty(t, exporterHeaders(Config{}))
}

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return recorder
}

func attrMap(attrs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(attrs))
	for _, kv := range attrs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestInvestigationSpanAttributes(t *testing.T) {
	ResetForTest()
	defer ResetForTest()
	recorder := withSpanRecorder(t)

	ctx, span := StartInvestigation(context.Background(), "rca-1700000000-0000abcd", "us-east-1", "trace_based")
	SetRole(span, "arn:aws:iam::123456789012:role/teams/payments/investigator", "ext-id")
	RecordInput(span, "investigate trace 1-68e915e7-7a2c7c6d1427db5e5b97c431")
	RecordOutput(span, "completed", "permission denied on downstream call", 12, 3)
	span.End()

	_ = ctx
	spans := recorder.Ended()
	require.Len(t, spans, 1)

	got := attrMap(spans[0].Attributes())
	assert.Equal(t, "rca-1700000000-0000abcd", got[AttrInvestigationID].AsString())
	assert.Equal(t, "us-east-1", got[AttrInvestigationRegion].AsString())
	assert.Equal(t, "trace_based", got[AttrInvestigationType].AsString())

	// Role is masked to account + role name, external ID reduced to a flag.
	assert.Equal(t, "arn:aws:iam::123456789012:role/.../investigator", got[AttrInvestigationRole].AsString())
	assert.True(t, got[AttrExternalIDSet].AsBool())

	assert.Contains(t, got[AttrInput].AsString(), "1-68e915e7-7a2c7c6d1427db5e5b97c431")
	assert.Equal(t, "completed", got["investigation.status"].AsString())
	assert.Equal(t, int64(12), got["investigation.facts"].AsInt64())

	// Input and output also appear as events.
	var events []string
	for _, ev := range spans[0].Events() {
		events = append(events, ev.Name)
	}
	assert.Contains(t, events, EventInput)
	assert.Contains(t, events, EventOutput)
}

func TestFromContext(t *testing.T) {
	ResetForTest()
	defer ResetForTest()

	info := FromContext(context.Background())
	assert.Empty(t, info.TraceID)

	withSpanRecorder(t)
	ctx, span := StartInvestigation(context.Background(), "rca-1", "us-east-1", "free_text")
	defer span.End()

	info = FromContext(ctx)
	assert.NotEmpty(t, info.TraceID)
	assert.NotEmpty(t, info.SpanID)
}

func TestTruncateLongPayloads(t *testing.T) {
	long := make([]byte, maxAttrLen*2)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, truncate(string(long)), maxAttrLen)
	assert.Equal(t, "short", truncate("short"))
}
