package analysis

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/prompts"
)

// minHypothesisConfidence is the floor below which hypotheses are dropped
// during validation.
const minHypothesisConfidence = 0.5

// Hypotheses generates cause hypotheses from the evidence. The LLM path is
// tried first; any failure falls back to keyword heuristics so the phase
// never returns an error.
func (a *Analyzer) Hypotheses(ctx context.Context, facts []investigation.Fact) []investigation.Hypothesis {
	if len(facts) == 0 {
		return nil
	}

	if a.llmEnabled() {
		out, err := a.phases.Complete(ctx, config.PhaseHypothesis, prompts.Hypothesis(facts))
		if err == nil {
			if hyps := parseHypotheses(out); hyps != nil {
				if validated := ValidateHypotheses(hyps, facts); len(validated) > 0 {
					return validated
				}
			}
			a.logger.Warn("LLM hypothesis output failed validation, using heuristics")
		} else {
			a.logger.Warn("LLM hypothesis generation failed, using heuristics", zap.Error(err))
		}
	}

	return ValidateHypotheses(heuristicHypotheses(facts), facts)
}

func parseHypotheses(out string) []investigation.Hypothesis {
	doc := ExtractJSON(out)
	if doc == "" {
		return nil
	}
	var hyps []investigation.Hypothesis
	if err := json.Unmarshal([]byte(doc), &hyps); err != nil {
		return nil
	}
	return hyps
}

// ValidateHypotheses enforces the hypothesis contract: every entry needs a
// description and at least one evidence string that actually appears in the
// facts, confidence is clamped and floored, types are normalized. Output is
// sorted by confidence, descending and stable.
func ValidateHypotheses(hyps []investigation.Hypothesis, facts []investigation.Fact) []investigation.Hypothesis {
	out := make([]investigation.Hypothesis, 0, len(hyps))
	for _, h := range hyps {
		if strings.TrimSpace(h.Description) == "" {
			continue
		}
		var evidence []string
		for _, ev := range h.Evidence {
			if ev = strings.TrimSpace(ev); ev == "" {
				continue
			}
			if evidenceMatches(ev, facts) {
				evidence = append(evidence, ev)
			}
		}
		if len(evidence) == 0 {
			continue
		}
		h.Evidence = evidence
		h.Confidence = investigation.ClampConfidence(h.Confidence)
		if h.Confidence < minHypothesisConfidence {
			continue
		}
		h.Type = investigation.NormalizeHypothesisType(h.Type)
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// evidenceMatches accepts an evidence string only when it occurs verbatim
// inside some fact's content, so the model cannot pad real evidence with
// invented context.
func evidenceMatches(ev string, facts []investigation.Fact) bool {
	for _, f := range facts {
		if strings.Contains(f.Content, ev) {
			return true
		}
	}
	return false
}

// hypothesisPattern is one keyword heuristic: any fact containing a marker
// produces the described hypothesis with that fact as evidence.
type hypothesisPattern struct {
	markers     []string
	typ         string
	description string
	confidence  float64
}

var hypothesisPatterns = []hypothesisPattern{
	{
		markers:     []string{"AccessDenied", "is explicitly denied", "not authorized", "AccessDeniedException"},
		typ:         investigation.HypothesisPermissionIssue,
		description: "A required permission is denied; the caller's IAM policy does not allow the operation",
		confidence:  0.9,
	},
	{
		markers:     []string{"Task timed out", "timed out", "TimedOut"},
		typ:         investigation.HypothesisTimeout,
		description: "An operation exceeded its configured timeout",
		confidence:  0.85,
	},
	{
		markers:     []string{"throttled", "Throttling", "ThrottlingException", "TooManyRequests"},
		typ:         investigation.HypothesisThrottling,
		description: "Requests are being throttled; the workload exceeds provisioned or service limits",
		confidence:  0.85,
	},
	{
		markers:     []string{"out of memory", "Runtime exited", "MemoryError"},
		typ:         investigation.HypothesisResourceConstraint,
		description: "The runtime hit a resource limit, most likely memory",
		confidence:  0.8,
	},
	{
		markers:     []string{"division by zero", "ZeroDivisionError"},
		typ:         investigation.HypothesisCodeBug,
		description: "A division-by-zero error in application code",
		confidence:  0.95,
	},
	{
		markers:     []string{"IndexError", "list index out of range", "NullPointerException", "TypeError"},
		typ:         investigation.HypothesisCodeBug,
		description: "An unhandled runtime exception in application code, likely on an empty or missing value",
		confidence:  0.85,
	},
	{
		markers:     []string{"HTTP 5", "5XX", "invocation errors", "system errors"},
		typ:         investigation.HypothesisErrorRate,
		description: "Elevated server-side error rate observed",
		confidence:  0.75,
	},
	{
		markers:     []string{"failed invocation", "executions failed", "failed executions", "failed to deliver"},
		typ:         investigation.HypothesisIntegrationFailure,
		description: "Invocations of a downstream integration are failing",
		confidence:  0.7,
	},
}

// heuristicHypotheses scans fact contents for known failure signatures.
// Results carry a heuristic marker so report consumers can tell them from
// model output.
func heuristicHypotheses(facts []investigation.Fact) []investigation.Hypothesis {
	var out []investigation.Hypothesis
	for _, p := range hypothesisPatterns {
		var evidence []string
		for _, f := range facts {
			if containsAny(f.Content, p.markers) {
				evidence = append(evidence, f.Content)
			}
		}
		if len(evidence) == 0 {
			continue
		}
		out = append(out, investigation.Hypothesis{
			Type:        p.typ,
			Description: p.description,
			Confidence:  p.confidence,
			Evidence:    evidence,
			Metadata:    map[string]any{"heuristic": true},
		})
	}
	return out
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
