// Package prompts builds the closed prompts for the LLM phases. Each prompt
// states its output contract inline; the analysis package parses replies
// defensively, so the contracts here and the validators there move together.
package prompts

import (
	"fmt"
	"strings"

	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
)

// FactList renders facts as the bulleted list every reasoning prompt shares.
func FactList(facts []investigation.Fact) string {
	var b strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&b, "- [%s] %s (confidence: %.2f)\n", f.Source, f.Content, f.Confidence)
	}
	return b.String()
}

// Hypothesis builds the hypothesis-generation prompt.
func Hypothesis(facts []investigation.Fact) string {
	var b strings.Builder
	b.WriteString("You are a cloud infrastructure root-cause analyst. Based only on the evidence below, produce hypotheses about what caused the incident.\n\n")
	b.WriteString("Evidence:\n")
	b.WriteString(FactList(facts))
	b.WriteString("\nAllowed hypothesis types: permission_issue, configuration_error, code_bug, timeout, resource_constraint, integration_failure, infrastructure_issue, error_rate, throttling, network_issue.\n\n")
	b.WriteString("Confidence calibration:\n")
	b.WriteString("- 0.95+: an explicit error message in the evidence states the cause\n")
	b.WriteString("- 0.85-0.94: a configuration mismatch plus a supporting observation\n")
	b.WriteString("- 0.70-0.84: a correlation across multiple facts\n")
	b.WriteString("- below 0.70: do not include the hypothesis\n\n")
	b.WriteString("Every hypothesis must cite evidence: copy exact substrings from the fact contents above into its evidence array. Do not invent evidence.\n\n")
	b.WriteString("Respond with a JSON array only, no prose:\n")
	b.WriteString(`[{"type": "...", "description": "...", "confidence": 0.0, "evidence": ["..."]}]`)
	return b.String()
}

// RootCause builds the root-cause classification prompt. Hypotheses are
// enumerated with 0-based indices; the reply references them by index.
func RootCause(hypotheses []investigation.Hypothesis, facts []investigation.Fact) string {
	var b strings.Builder
	b.WriteString("You are classifying incident hypotheses into a primary root cause and contributing factors. Symptoms (timeouts, error rates, throttling) are effects; prefer an underlying cause (permissions, configuration, code, infrastructure) as primary when one exists.\n\n")
	b.WriteString("Hypotheses:\n")
	for i, h := range hypotheses {
		fmt.Fprintf(&b, "%d. [%s] %s (confidence: %.2f)\n", i, h.Type, h.Description, h.Confidence)
	}
	b.WriteString("\nSupporting evidence:\n")
	b.WriteString(FactList(facts))
	b.WriteString("\nRespond with a JSON object only, no prose:\n")
	b.WriteString(`{"primary_root_cause_index": 0, "contributing_factor_indices": [], "analysis_summary": "..."}`)
	return b.String()
}

// Severity builds the severity-assessment prompt.
func Severity(score int, affectedCount int, facts []investigation.Fact, hypotheses []investigation.Hypothesis) string {
	var b strings.Builder
	b.WriteString("Assess the severity of a cloud infrastructure incident.\n\n")
	fmt.Fprintf(&b, "Heuristic severity score: %d\n", score)
	fmt.Fprintf(&b, "Affected resources: %d\n\n", affectedCount)
	b.WriteString("Sampled evidence:\n")
	b.WriteString(FactList(sampleFacts(facts, 10)))
	if len(hypotheses) > 0 {
		b.WriteString("\nTop hypotheses:\n")
		for i, h := range hypotheses {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "- [%s] %s (confidence: %.2f)\n", h.Type, h.Description, h.Confidence)
		}
	}
	b.WriteString("\nSeverity must be one of: low, medium, high, critical.\n")
	b.WriteString("Respond with a JSON object only, no prose:\n")
	b.WriteString(`{"severity": "...", "confidence": 0.0, "reasoning": "..."}`)
	return b.String()
}

// ClassifyTargets builds the tight parser-phase prompt used only when
// deterministic extraction found nothing concrete.
func ClassifyTargets(text string) string {
	var b strings.Builder
	b.WriteString("Extract cloud resources to investigate from this incident description. Known types: lambda, apigateway, stepfunctions, s3, sqs, sns, eventbridge, dynamodb, ec2, iam. Use type \"unknown\" if unclear.\n\n")
	b.WriteString("Description:\n")
	b.WriteString(text)
	b.WriteString("\n\nRespond with a JSON array only, no prose:\n")
	b.WriteString(`[{"type": "...", "name": "..."}]`)
	return b.String()
}

func sampleFacts(facts []investigation.Fact, n int) []investigation.Fact {
	if len(facts) <= n {
		return facts
	}
	return facts[:n]
}
