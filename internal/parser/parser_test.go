package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/llm"
)

func newTestParser(t *testing.T, model llm.Model) *Parser {
	t.Helper()
	cfg := config.LLMConfig{Provider: "off"}
	opts := llm.PhasesOptions{Logger: zap.NewNop()}
	if model != nil {
		cfg = config.LLMConfig{
			Provider:    "bedrock",
			Model:       "test-model",
			Temperature: 0.2,
			MaxTokens:   1024,
		}
		opts.BedrockFactory = func(string) llm.Model { return model }
	}
	phases, err := llm.NewPhases(cfg, opts)
	require.NoError(t, err)
	return New(phases, zap.NewNop())
}

type scriptedModel struct {
	reply string
	err   error
}

func (m *scriptedModel) Complete(context.Context, string, float64, int) (string, error) {
	return m.reply, m.err
}

func TestParseExtractsTraceIDsFromText(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		FreeText: "Request failed, trace Root=1-68e904af-484b173354fff9607ee41871 shows a 502",
	})

	require.Len(t, parsed.TraceIDs, 1)
	assert.Equal(t, "1-68e904af-484b173354fff9607ee41871", parsed.TraceIDs[0])
	assert.Equal(t, "trace_based", parsed.Kind())
}

func TestParseDeduplicatesTraceIDs(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		FreeText: "saw 1-68e904af-484b173354fff9607ee41871 and again Root=1-68e904af-484b173354fff9607ee41871",
		TraceID:  "Root=1-68e904af-484b173354fff9607ee41871",
	})

	assert.Len(t, parsed.TraceIDs, 1)
}

func TestParseExtractsResourcesFromARNs(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		FreeText: "arn:aws:lambda:eu-west-1:123456789012:function:payment-processor is failing, " +
			"downstream arn:aws:states:eu-west-1:123456789012:stateMachine:order-flow stalled",
	})

	require.Len(t, parsed.PrimaryTargets, 2)
	assert.Equal(t, "lambda", parsed.PrimaryTargets[0].Type)
	assert.Equal(t, "payment-processor", parsed.PrimaryTargets[0].Name)
	assert.Equal(t, "eu-west-1", parsed.PrimaryTargets[0].Region)
	assert.Equal(t, "stepfunctions", parsed.PrimaryTargets[1].Type)
	assert.Equal(t, "order-flow", parsed.PrimaryTargets[1].Name)
}

func TestParseCollectsErrorLines(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		FreeText: "checkout is broken\n" +
			"ERROR: upstream returned 503\n" +
			"\n" +
			"java.lang.NullPointerException at OrderService\n" +
			"everything else looks fine",
	})

	require.Len(t, parsed.ErrorMessages, 2)
	assert.Contains(t, parsed.ErrorMessages[0], "503")
	assert.Contains(t, parsed.ErrorMessages[1], "NullPointerException")
}

func TestParseCapsErrorMessages(t *testing.T) {
	p := newTestParser(t, nil)

	text := ""
	for i := 0; i < 25; i++ {
		text += "ERROR: something broke\n"
	}
	parsed := p.Parse(context.Background(), Request{FreeText: text})

	assert.Len(t, parsed.ErrorMessages, maxErrorMessages)
}

func TestParseLegacyKeys(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		Region: "us-east-1",
		Structured: map[string]any{
			"function_name": "payment-processor",
			"xray_trace_id": "Root=1-68e904af-484b173354fff9607ee41871",
		},
	})

	require.Len(t, parsed.PrimaryTargets, 1)
	assert.Equal(t, "lambda", parsed.PrimaryTargets[0].Type)
	assert.Equal(t, "payment-processor", parsed.PrimaryTargets[0].Name)
	assert.Equal(t, "us-east-1", parsed.PrimaryTargets[0].Region)
	require.Len(t, parsed.TraceIDs, 1)
	assert.Equal(t, "1-68e904af-484b173354fff9607ee41871", parsed.TraceIDs[0])
}

func TestParseLegacyInvestigationTarget(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		Structured: map[string]any{
			"investigation_target": "arn:aws:sqs:us-east-1:123456789012:orders-dlq",
		},
	})

	require.Len(t, parsed.PrimaryTargets, 1)
	assert.Equal(t, "sqs", parsed.PrimaryTargets[0].Type)
	assert.Equal(t, "orders-dlq", parsed.PrimaryTargets[0].Name)
}

func TestParseLegacyTargetWithoutARNIsUnknown(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		Structured: map[string]any{"investigation_target": "payment-service"},
	})

	require.Len(t, parsed.PrimaryTargets, 1)
	assert.Equal(t, "unknown", parsed.PrimaryTargets[0].Type)
	assert.Equal(t, "payment-service", parsed.PrimaryTargets[0].Name)
}

func TestParseStructuredInputs(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		Structured: map[string]any{
			"investigation_inputs": map[string]any{
				"primary_targets": []any{
					map[string]any{"type": "Lambda", "name": "payment-processor", "region": "eu-west-1"},
				},
				"trace_ids":      []any{"1-68e904af-484b173354fff9607ee41871"},
				"error_messages": []any{"Task timed out after 3.00 seconds"},
				"business_context": map[string]any{
					"service": "checkout",
				},
				"time_range": map[string]any{
					"start": "2026-08-25T10:00:00Z",
					"end":   "2026-08-25T11:00:00Z",
				},
			},
		},
	})

	require.Len(t, parsed.PrimaryTargets, 1)
	assert.Equal(t, "lambda", parsed.PrimaryTargets[0].Type)
	assert.Len(t, parsed.TraceIDs, 1)
	assert.Len(t, parsed.ErrorMessages, 1)
	assert.Equal(t, "checkout", parsed.BusinessContext["service"])
	require.NotNil(t, parsed.TimeRange)
	assert.Equal(t, 10, parsed.TimeRange.Start.Hour())
}

func TestParseMalformedStructuredInputsIgnored(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		Structured: map[string]any{
			"investigation_inputs": map[string]any{
				"primary_targets": "not-a-list",
			},
		},
	})

	assert.True(t, parsed.Empty())
}

func TestParseLLMClassificationWhenDeterministicPassFindsNothing(t *testing.T) {
	p := newTestParser(t, &scriptedModel{
		reply: "```json\n[{\"type\": \"lambda\", \"name\": \"payment-processor\"}]\n```",
	})

	parsed := p.Parse(context.Background(), Request{
		FreeText: "checkout is slow and customers are complaining",
		Region:   "us-east-1",
	})

	require.Len(t, parsed.PrimaryTargets, 1)
	assert.Equal(t, "lambda", parsed.PrimaryTargets[0].Type)
	assert.Equal(t, "payment-processor", parsed.PrimaryTargets[0].Name)
	assert.Equal(t, "us-east-1", parsed.PrimaryTargets[0].Region)
	assert.Equal(t, true, parsed.PrimaryTargets[0].Metadata["llm_classified"])
}

func TestParseLLMNotConsultedWhenTargetsFound(t *testing.T) {
	model := &scriptedModel{reply: `[{"type":"lambda","name":"should-not-appear"}]`}
	p := newTestParser(t, model)

	parsed := p.Parse(context.Background(), Request{
		FreeText: "arn:aws:lambda:us-east-1:123456789012:function:payment-processor failed",
	})

	require.Len(t, parsed.PrimaryTargets, 1)
	assert.Equal(t, "payment-processor", parsed.PrimaryTargets[0].Name)
}

func TestParseEmptyWithDisabledLLMStaysEmpty(t *testing.T) {
	p := newTestParser(t, nil)

	parsed := p.Parse(context.Background(), Request{
		FreeText: "something feels off with checkout",
	})

	assert.True(t, parsed.Empty())
}

func TestResourceFromARN(t *testing.T) {
	tests := []struct {
		arn      string
		wantType string
		wantName string
	}{
		{"arn:aws:lambda:us-east-1:123456789012:function:payment-processor", "lambda", "payment-processor"},
		{"arn:aws:sqs:us-east-1:123456789012:orders-queue", "sqs", "orders-queue"},
		{"arn:aws:s3:::invoice-archive", "s3", "invoice-archive"},
		{"arn:aws:dynamodb:us-east-1:123456789012:table/orders", "dynamodb", "orders"},
		{"arn:aws:execute-api:us-east-1:123456789012:a1b2c3d4e5", "apigateway", "a1b2c3d4e5"},
	}
	for _, tt := range tests {
		r, ok := resourceFromARN(tt.arn)
		require.True(t, ok, tt.arn)
		assert.Equal(t, tt.wantType, r.Type, tt.arn)
		assert.Equal(t, tt.wantName, r.Name, tt.arn)
		assert.Equal(t, tt.arn, r.ARN)
	}

	_, ok := resourceFromARN("arn:aws:kinesis:us-east-1:123456789012:stream/clicks")
	assert.False(t, ok)
	_, ok = resourceFromARN("not-an-arn")
	assert.False(t, ok)
}
