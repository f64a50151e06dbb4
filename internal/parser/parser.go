// Package parser turns investigation requests into typed ParsedInputs.
// Extraction is deterministic first: trace IDs, ARNs and error lines come
// from fixed patterns; the LLM is only consulted when the deterministic pass
// found nothing to investigate, on a tight budget.
package parser

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/analysis"
	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/llm"
	"github.com/tareqmamari/cloud-rca-engine/internal/prompts"
)

// TraceIDPattern matches X-Ray trace identifiers, with or without the
// "Root=" prefix a trace header carries.
var TraceIDPattern = regexp.MustCompile(`(?:Root=)?(1-[0-9a-f]{8}-[0-9a-f]{24})`)

// arnPattern matches ARNs of the services the engine investigates.
var arnPattern = regexp.MustCompile(`arn:aws[a-z0-9-]*:(lambda|states|sqs|sns|s3|dynamodb|execute-api|apigateway|events|ec2|iam):[a-z0-9-]*:[0-9]*:[^\s"',]+`)

// errorLinePatterns identify error-looking lines in free text.
var errorLinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berror\b`),
	regexp.MustCompile(`Exception`),
	regexp.MustCompile(`AccessDenied`),
	regexp.MustCompile(`(?i)\btimed out\b`),
	regexp.MustCompile(`\b[45]\d\d\b`),
}

const (
	maxErrorMessages = 10
	llmTokenBudget   = 256
)

// Parser builds ParsedInputs from request payloads. The LLM is optional;
// without it parsing is fully deterministic.
type Parser struct {
	phases *llm.Phases
	logger *zap.Logger
}

func New(phases *llm.Phases, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{phases: phases, logger: logger}
}

// Request is the parser's input: the free text plus the structured hints
// the wire payload may carry.
type Request struct {
	FreeText string
	TraceID  string
	Region   string
	// Structured is the raw request object, scanned for the structured
	// investigation_inputs shape and the legacy key set.
	Structured map[string]any
}

// Parse resolves a request into ParsedInputs. Structured inputs win over
// free-text extraction; both contribute when present.
func (p *Parser) Parse(ctx context.Context, req Request) investigation.ParsedInputs {
	parsed := investigation.ParsedInputs{}

	if req.Structured != nil {
		p.applyStructured(&parsed, req.Structured)
		p.applyLegacy(&parsed, req.Structured)
	}

	if req.TraceID != "" {
		appendTraceID(&parsed, req.TraceID)
	}

	if req.FreeText != "" {
		p.extractFromText(&parsed, req.FreeText)
	}

	for i := range parsed.PrimaryTargets {
		if parsed.PrimaryTargets[i].Region == "" {
			parsed.PrimaryTargets[i].Region = req.Region
		}
	}

	if parsed.Empty() && strings.TrimSpace(req.FreeText) != "" {
		p.classifyWithLLM(ctx, &parsed, req.FreeText, req.Region)
	}

	return parsed
}

// structuredInputs is the modern request shape under "investigation_inputs".
type structuredInputs struct {
	PrimaryTargets []struct {
		Type     string         `json:"type"`
		Name     string         `json:"name"`
		ARN      string         `json:"arn"`
		Region   string         `json:"region"`
		Metadata map[string]any `json:"metadata"`
	} `json:"primary_targets"`
	TraceIDs        []string       `json:"trace_ids"`
	ErrorMessages   []string       `json:"error_messages"`
	BusinessContext map[string]any `json:"business_context"`
	TimeRange       *struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"time_range"`
}

func (p *Parser) applyStructured(parsed *investigation.ParsedInputs, raw map[string]any) {
	rawInputs, ok := raw["investigation_inputs"]
	if !ok {
		return
	}
	// Round-trip through JSON: the payload arrives as map[string]any and
	// the tolerant decode drops unknown fields.
	data, err := json.Marshal(rawInputs)
	if err != nil {
		return
	}
	var in structuredInputs
	if err := json.Unmarshal(data, &in); err != nil {
		p.logger.Debug("Ignoring malformed investigation_inputs", zap.Error(err))
		return
	}

	for _, t := range in.PrimaryTargets {
		parsed.PrimaryTargets = append(parsed.PrimaryTargets, investigation.Resource{
			Type:     normalizeType(t.Type),
			Name:     t.Name,
			ARN:      t.ARN,
			Region:   t.Region,
			Metadata: t.Metadata,
		})
	}
	for _, id := range in.TraceIDs {
		appendTraceID(parsed, id)
	}
	parsed.ErrorMessages = append(parsed.ErrorMessages, in.ErrorMessages...)
	if len(in.BusinessContext) > 0 {
		parsed.BusinessContext = in.BusinessContext
	}
	if in.TimeRange != nil {
		if tr := parseTimeRange(in.TimeRange.Start, in.TimeRange.End); tr != nil {
			parsed.TimeRange = tr
		}
	}
}

// applyLegacy handles the original flat key set: function_name,
// xray_trace_id, investigation_target.
func (p *Parser) applyLegacy(parsed *investigation.ParsedInputs, raw map[string]any) {
	if name, ok := raw["function_name"].(string); ok && name != "" {
		parsed.PrimaryTargets = append(parsed.PrimaryTargets, investigation.Resource{
			Type: "lambda",
			Name: name,
		})
	}
	if id, ok := raw["xray_trace_id"].(string); ok && id != "" {
		appendTraceID(parsed, id)
	}
	if target, ok := raw["investigation_target"].(string); ok && target != "" {
		if r, ok := resourceFromARN(target); ok {
			parsed.PrimaryTargets = append(parsed.PrimaryTargets, r)
		} else {
			parsed.PrimaryTargets = append(parsed.PrimaryTargets, investigation.Resource{
				Type: "unknown",
				Name: target,
			})
		}
	}
}

// extractFromText runs the deterministic free-text pass: trace IDs, ARNs,
// and error-looking lines.
func (p *Parser) extractFromText(parsed *investigation.ParsedInputs, text string) {
	for _, m := range TraceIDPattern.FindAllStringSubmatch(text, -1) {
		appendTraceID(parsed, m[1])
	}

	for _, arn := range arnPattern.FindAllString(text, -1) {
		if r, ok := resourceFromARN(arn); ok {
			parsed.PrimaryTargets = append(parsed.PrimaryTargets, r)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if len(parsed.ErrorMessages) >= maxErrorMessages {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, pattern := range errorLinePatterns {
			if pattern.MatchString(line) {
				parsed.ErrorMessages = append(parsed.ErrorMessages, line)
				break
			}
		}
	}
}

// classifyWithLLM asks the model to extract targets when the deterministic
// pass produced nothing. Failures leave the inputs empty; the engine then
// short-circuits to insufficient_data.
func (p *Parser) classifyWithLLM(ctx context.Context, parsed *investigation.ParsedInputs, text, region string) {
	if p.phases == nil || !p.phases.Enabled() {
		return
	}

	out, err := p.phases.CompleteWith(ctx, config.PhaseParser, prompts.ClassifyTargets(text), llmTokenBudget)
	if err != nil {
		p.logger.Info("Parser LLM classification unavailable, continuing with deterministic result",
			zap.Error(err))
		return
	}

	doc := analysis.ExtractJSON(out)
	if doc == "" {
		return
	}
	var targets []struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(doc), &targets); err != nil {
		p.logger.Debug("Parser LLM returned unparseable targets", zap.Error(err))
		return
	}
	for _, t := range targets {
		if t.Name == "" {
			continue
		}
		parsed.PrimaryTargets = append(parsed.PrimaryTargets, investigation.Resource{
			Type:     normalizeType(t.Type),
			Name:     t.Name,
			Region:   region,
			Metadata: map[string]any{"llm_classified": true},
		})
	}
}

// arnServiceTypes maps ARN service fields to resource types.
var arnServiceTypes = map[string]string{
	"lambda":      "lambda",
	"states":      "stepfunctions",
	"sqs":         "sqs",
	"sns":         "sns",
	"s3":          "s3",
	"dynamodb":    "dynamodb",
	"execute-api": "apigateway",
	"apigateway":  "apigateway",
	"events":      "eventbridge",
	"ec2":         "ec2",
	"iam":         "iam",
}

// resourceFromARN derives a typed resource from an ARN. The name is the
// final path or colon segment.
func resourceFromARN(arn string) (investigation.Resource, bool) {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 || parts[0] != "arn" {
		return investigation.Resource{}, false
	}
	resType, ok := arnServiceTypes[parts[2]]
	if !ok {
		return investigation.Resource{}, false
	}

	tail := parts[5]
	if idx := strings.LastIndexAny(tail, ":/"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return investigation.Resource{
		Type:   resType,
		Name:   tail,
		ARN:    arn,
		Region: parts[3],
	}, true
}

func appendTraceID(parsed *investigation.ParsedInputs, id string) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "Root=")
	if id == "" {
		return
	}
	for _, existing := range parsed.TraceIDs {
		if existing == id {
			return
		}
	}
	parsed.TraceIDs = append(parsed.TraceIDs, id)
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return "unknown"
	}
	return t
}

func parseTimeRange(start, end string) *investigation.TimeRange {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return nil
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return nil
	}
	return &investigation.TimeRange{Start: s.UTC(), End: e.UTC()}
}
