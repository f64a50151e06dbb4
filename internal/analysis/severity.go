package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/config"
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
	"github.com/tareqmamari/cloud-rca-engine/internal/prompts"
)

// Heuristic severity scoring weights.
const (
	scoreErrorFact        = 3
	scoreWarningFact      = 1
	scoreFailedResource   = 4
	scoreDegradedResource = 2
)

// Score-to-severity thresholds for the deterministic mapping.
const (
	criticalScore = 15
	highScore     = 10
	mediumScore   = 5
)

var errorKeywords = []string{"error", "failed", "exception", "timeout", "denied", "unauthorized"}
var warningKeywords = []string{"warning", "degraded", "slow", "latency"}

// systemScopeKeywords widen the blast radius to system_wide when enough
// resources are affected.
var systemScopeKeywords = []string{"system", "platform", "infrastructure", "network", "database"}

// User-impact keyword tiers; the highest matching tier wins.
var severeImpactKeywords = []string{"outage", "down", "unavailable", "data loss"}
var moderateImpactKeywords = []string{"failed", "error", "denied", "unauthorized", "exception", "timeout"}
var minimalImpactKeywords = []string{"slow", "latency", "degraded", "warning"}

// Severity assesses incident severity. The heuristic score anchors the
// assessment; when the LLM is available its verdict replaces the mapped
// severity but the scope, user impact, and resource counts stay
// deterministic.
func (a *Analyzer) Severity(ctx context.Context, facts []investigation.Fact, hypotheses []investigation.Hypothesis, affected []investigation.AffectedResource) *investigation.SeverityAssessment {
	score := severityScore(facts, affected)

	scope := impactScope(facts, len(affected))
	assessment := &investigation.SeverityAssessment{
		ImpactScope:           scope,
		AffectedResourceCount: len(affected),
		UserImpact:            userImpact(facts, scope),
	}

	switch {
	case score >= criticalScore:
		assessment.Severity = investigation.SeverityCritical
		assessment.Confidence = 0.80
	case score >= highScore:
		assessment.Severity = investigation.SeverityHigh
		assessment.Confidence = 0.75
	case score >= mediumScore:
		assessment.Severity = investigation.SeverityMedium
		assessment.Confidence = 0.70
	default:
		assessment.Severity = investigation.SeverityLow
		assessment.Confidence = 0.65
	}
	assessment.Reasoning = fmt.Sprintf(
		"Heuristic severity score %d from %d facts and %d affected resources",
		score, len(facts), len(affected))

	if a.llmEnabled() {
		out, err := a.phases.Complete(ctx, config.PhaseSeverity, prompts.Severity(score, len(affected), facts, hypotheses))
		if err == nil {
			if applySeverityReply(assessment, out) {
				return assessment
			}
			a.logger.Warn("LLM severity output failed validation, keeping heuristic assessment")
		} else {
			a.logger.Warn("LLM severity assessment failed, keeping heuristic assessment", zap.Error(err))
		}
	}

	return assessment
}

type severityReply struct {
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func applySeverityReply(assessment *investigation.SeverityAssessment, out string) bool {
	doc := ExtractJSON(out)
	if doc == "" {
		return false
	}
	var reply severityReply
	if err := json.Unmarshal([]byte(doc), &reply); err != nil {
		return false
	}

	severity := strings.ToLower(strings.TrimSpace(reply.Severity))
	switch severity {
	case investigation.SeverityLow, investigation.SeverityMedium,
		investigation.SeverityHigh, investigation.SeverityCritical:
	default:
		return false
	}

	assessment.Severity = severity
	if reply.Confidence > 0 {
		assessment.Confidence = investigation.ClampConfidence(reply.Confidence)
	}
	if reply.Reasoning != "" {
		assessment.Reasoning = reply.Reasoning
	}
	return true
}

// severityScore weighs error and warning facts plus resource health.
func severityScore(facts []investigation.Fact, affected []investigation.AffectedResource) int {
	score := 0
	for _, f := range facts {
		content := strings.ToLower(f.Content)
		switch {
		case containsAny(content, errorKeywords):
			score += scoreErrorFact
		case containsAny(content, warningKeywords):
			score += scoreWarningFact
		}
	}
	for _, r := range affected {
		switch r.HealthStatus {
		case investigation.HealthFailed:
			score += scoreFailedResource
		case investigation.HealthDegraded:
			score += scoreDegradedResource
		}
	}
	switch {
	case len(affected) > 5:
		score += 3
	case len(affected) > 2:
		score += 2
	case len(affected) > 0:
		score += 1
	}
	return score
}

// impactScope derives the blast radius from the affected-resource count,
// widened to system_wide when the evidence mentions shared infrastructure.
func impactScope(facts []investigation.Fact, affectedCount int) string {
	switch {
	case affectedCount == 0:
		return investigation.ScopeUnknown
	case affectedCount > 5:
		return investigation.ScopeSystemWide
	case affectedCount > 3 && anyFactContains(facts, systemScopeKeywords):
		return investigation.ScopeSystemWide
	case affectedCount > 2:
		return investigation.ScopeService
	default:
		return investigation.ScopeSingleResource
	}
}

// userImpact scans the evidence for impact keywords; the scope floors the
// result when no keyword matched.
func userImpact(facts []investigation.Fact, scope string) string {
	impact := investigation.ImpactNone
	for _, f := range facts {
		content := strings.ToLower(f.Content)
		switch {
		case containsAny(content, severeImpactKeywords):
			return investigation.ImpactSevere
		case containsAny(content, moderateImpactKeywords):
			impact = investigation.ImpactModerate
		case containsAny(content, minimalImpactKeywords) && impact == investigation.ImpactNone:
			impact = investigation.ImpactMinimal
		}
	}
	if impact == investigation.ImpactNone {
		switch scope {
		case investigation.ScopeSystemWide:
			impact = investigation.ImpactModerate
		case investigation.ScopeService:
			impact = investigation.ImpactMinimal
		}
	}
	return impact
}

func anyFactContains(facts []investigation.Fact, keywords []string) bool {
	for _, f := range facts {
		if containsAny(strings.ToLower(f.Content), keywords) {
			return true
		}
	}
	return false
}
