package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
)

func TestHypothesisPromptCarriesEvidence(t *testing.T) {
	facts := []investigation.Fact{
		investigation.NewFact("xray:1-abc", "payment-processor raised AccessDeniedException", 0.95),
	}
	prompt := Hypothesis(facts)

	assert.Contains(t, prompt, "[xray:1-abc] payment-processor raised AccessDeniedException (confidence: 0.95)")
	assert.Contains(t, prompt, "permission_issue")
	assert.Contains(t, prompt, "JSON array only")
}

func TestRootCausePromptIndexesHypotheses(t *testing.T) {
	prompt := RootCause([]investigation.Hypothesis{
		{Type: "timeout", Description: "slow downstream", Confidence: 0.9},
		{Type: "permission_issue", Description: "denied write", Confidence: 0.8},
	}, nil)

	assert.Contains(t, prompt, "0. [timeout] slow downstream (confidence: 0.90)")
	assert.Contains(t, prompt, "1. [permission_issue] denied write (confidence: 0.80)")
	assert.Contains(t, prompt, "primary_root_cause_index")
}

func TestSeverityPromptSamplesFacts(t *testing.T) {
	var facts []investigation.Fact
	for i := 0; i < 30; i++ {
		facts = append(facts, investigation.NewFact("src", "an error fact", 0.9))
	}
	prompt := Severity(12, 3, facts, nil)

	assert.Contains(t, prompt, "Heuristic severity score: 12")
	assert.Contains(t, prompt, "Affected resources: 3")
	assert.Equal(t, 10, strings.Count(prompt, "an error fact"))
}

func TestClassifyTargetsPrompt(t *testing.T) {
	prompt := ClassifyTargets("the checkout lambda keeps failing")
	assert.Contains(t, prompt, "the checkout lambda keeps failing")
	assert.Contains(t, prompt, `"unknown"`)
}
