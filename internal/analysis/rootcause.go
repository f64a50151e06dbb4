package analysis

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/prompts"
)

// trueCauseTypes are hypothesis types that can stand as a primary root
// cause. Everything else is a symptom.
var trueCauseTypes = map[string]bool{
	investigation.HypothesisPermissionIssue:     true,
	investigation.HypothesisConfigurationError:  true,
	investigation.HypothesisCodeBug:             true,
	investigation.HypothesisInfrastructureIssue: true,
	investigation.HypothesisIntegrationFailure:  true,
	investigation.HypothesisNetworkIssue:        true,
}

// symptomTypes are effect-level hypotheses that may only become primary when
// no true cause exists, at reduced confidence.
var symptomTypes = map[string]bool{
	investigation.HypothesisTimeout:            true,
	investigation.HypothesisErrorRate:          true,
	investigation.HypothesisThrottling:         true,
	investigation.HypothesisHighLatency:        true,
	investigation.HypothesisResourceConstraint: true,
}

// symptomConfidencePenalty scales confidence when a symptom has to serve as
// the primary cause.
const symptomConfidencePenalty = 0.7

// RootCause selects the primary root cause and contributing factors from
// the hypotheses. The LLM classifies by index; a bad reply falls back to
// the deterministic cause-versus-symptom classification.
func (a *Analyzer) RootCause(ctx context.Context, hypotheses []investigation.Hypothesis, facts []investigation.Fact) *investigation.RootCauseAnalysis {
	if len(hypotheses) == 0 {
		return &investigation.RootCauseAnalysis{
			AnalysisSummary: "No hypotheses could be formed from the available evidence",
		}
	}

	if a.llmEnabled() {
		out, err := a.phases.Complete(ctx, config.PhaseRootCause, prompts.RootCause(hypotheses, facts))
		if err == nil {
			if rca := parseRootCause(out, hypotheses); rca != nil {
				return rca
			}
			a.logger.Warn("LLM root-cause output failed validation, using classification fallback")
		} else {
			a.logger.Warn("LLM root-cause analysis failed, using classification fallback", zap.Error(err))
		}
	}

	return classifyRootCause(hypotheses)
}

type rootCauseReply struct {
	PrimaryRootCauseIndex     int    `json:"primary_root_cause_index"`
	ContributingFactorIndices []int  `json:"contributing_factor_indices"`
	AnalysisSummary           string `json:"analysis_summary"`
}

func parseRootCause(out string, hypotheses []investigation.Hypothesis) *investigation.RootCauseAnalysis {
	doc := ExtractJSON(out)
	if doc == "" {
		return nil
	}
	var reply rootCauseReply
	if err := json.Unmarshal([]byte(doc), &reply); err != nil {
		return nil
	}
	if reply.PrimaryRootCauseIndex < 0 || reply.PrimaryRootCauseIndex >= len(hypotheses) {
		return nil
	}

	primary := hypotheses[reply.PrimaryRootCauseIndex]
	var contributing []investigation.Hypothesis
	for _, idx := range reply.ContributingFactorIndices {
		if idx < 0 || idx >= len(hypotheses) || idx == reply.PrimaryRootCauseIndex {
			continue
		}
		contributing = append(contributing, hypotheses[idx])
	}

	summary := reply.AnalysisSummary
	if summary == "" {
		summary = primary.Description
	}
	return &investigation.RootCauseAnalysis{
		PrimaryRootCause:    &primary,
		ContributingFactors: contributing,
		ConfidenceScore:     primary.Confidence,
		AnalysisSummary:     summary,
	}
}

// classifyRootCause is the deterministic path. Hypotheses split into true
// causes, symptoms, and everything else; the input is sorted by confidence,
// so the first entry of each bucket is its strongest.
func classifyRootCause(hypotheses []investigation.Hypothesis) *investigation.RootCauseAnalysis {
	var causes, symptoms, others []investigation.Hypothesis
	for _, h := range hypotheses {
		switch {
		case trueCauseTypes[h.Type]:
			causes = append(causes, h)
		case symptomTypes[h.Type]:
			symptoms = append(symptoms, h)
		default:
			others = append(others, h)
		}
	}

	switch {
	case len(causes) > 0:
		primary := causes[0]
		// Contributing factors: up to two further true causes plus the
		// strongest symptom, three at most.
		var contributing []investigation.Hypothesis
		for _, h := range causes[1:] {
			if len(contributing) == 2 {
				break
			}
			contributing = append(contributing, h)
		}
		if len(symptoms) > 0 {
			contributing = append(contributing, symptoms[0])
		}
		return &investigation.RootCauseAnalysis{
			PrimaryRootCause:    &primary,
			ContributingFactors: contributing,
			ConfidenceScore:     primary.Confidence,
			AnalysisSummary:     fmt.Sprintf("Classified %s as the primary root cause based on hypothesis confidence", primary.Type),
		}
	case len(symptoms) > 0:
		primary := symptoms[0]
		primary.Confidence = investigation.ClampConfidence(primary.Confidence * symptomConfidencePenalty)
		primary.Description += " (symptom - root cause unclear)"
		return &investigation.RootCauseAnalysis{
			PrimaryRootCause: &primary,
			ConfidenceScore:  primary.Confidence,
			AnalysisSummary:  fmt.Sprintf("Only symptom-level hypotheses available; %s is the strongest signal", primary.Type),
		}
	default:
		primary := others[0]
		return &investigation.RootCauseAnalysis{
			PrimaryRootCause: &primary,
			ConfidenceScore:  primary.Confidence,
			AnalysisSummary:  fmt.Sprintf("Classified %s as the primary root cause based on hypothesis confidence", primary.Type),
		}
	}
}
