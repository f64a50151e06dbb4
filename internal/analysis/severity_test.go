package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
)

func errorFacts(n int) []investigation.Fact {
	facts := make([]investigation.Fact, 0, n)
	for i := 0; i < n; i++ {
		facts = append(facts, fact("an error occurred in the payment flow", 0.9))
	}
	return facts
}

func TestSeverityLowWithNoEvidence(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	s := a.Severity(context.Background(), nil, nil, nil)

	require.NotNil(t, s)
	assert.Equal(t, investigation.SeverityLow, s.Severity)
	assert.Equal(t, investigation.ScopeUnknown, s.ImpactScope)
	assert.Equal(t, investigation.ImpactNone, s.UserImpact)
	assert.InDelta(t, 0.65, s.Confidence, 0.001)
}

func TestSeverityThresholds(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	tests := []struct {
		name       string
		facts      []investigation.Fact
		affected   []investigation.AffectedResource
		want       string
		confidence float64
	}{
		{
			// 2 error facts = 6 points.
			name:       "medium",
			facts:      errorFacts(2),
			want:       investigation.SeverityMedium,
			confidence: 0.70,
		},
		{
			// 3 error facts + 1 affected = 10 points.
			name:  "high",
			facts: errorFacts(3),
			affected: []investigation.AffectedResource{
				{ResourceName: "a"},
			},
			want:       investigation.SeverityHigh,
			confidence: 0.75,
		},
		{
			// 4 error facts + failed resource + 1 affected = 17 points.
			name:  "critical",
			facts: errorFacts(4),
			affected: []investigation.AffectedResource{
				{ResourceName: "a", HealthStatus: investigation.HealthFailed},
			},
			want:       investigation.SeverityCritical,
			confidence: 0.80,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := a.Severity(context.Background(), tt.facts, nil, tt.affected)
			assert.Equal(t, tt.want, s.Severity)
			assert.InDelta(t, tt.confidence, s.Confidence, 0.001)
		})
	}
}

func TestSeverityImpactScope(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	affected := func(n int) []investigation.AffectedResource {
		out := make([]investigation.AffectedResource, n)
		for i := range out {
			out[i] = investigation.AffectedResource{ResourceName: "r"}
		}
		return out
	}

	assert.Equal(t, investigation.ScopeSingleResource,
		a.Severity(context.Background(), nil, nil, affected(1)).ImpactScope)
	assert.Equal(t, investigation.ScopeSingleResource,
		a.Severity(context.Background(), nil, nil, affected(2)).ImpactScope)
	assert.Equal(t, investigation.ScopeService,
		a.Severity(context.Background(), nil, nil, affected(3)).ImpactScope)
	assert.Equal(t, investigation.ScopeSystemWide,
		a.Severity(context.Background(), nil, nil, affected(6)).ImpactScope)
}

func TestSeverityScopeWidensOnlyWithInfrastructureEvidence(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	affected := make([]investigation.AffectedResource, 4)
	for i := range affected {
		affected[i] = investigation.AffectedResource{ResourceName: "r"}
	}

	// Four resources with unrelated evidence stay at service scope.
	plain := []investigation.Fact{fact("an error occurred in the payment flow", 0.9)}
	assert.Equal(t, investigation.ScopeService,
		a.Severity(context.Background(), plain, nil, affected).ImpactScope)

	// The same count widens once the evidence implicates shared infrastructure.
	infra := []investigation.Fact{fact("database connections exhausted", 0.9)}
	assert.Equal(t, investigation.ScopeSystemWide,
		a.Severity(context.Background(), infra, nil, affected).ImpactScope)
}

func TestSeverityUserImpactFromEvidence(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	one := []investigation.AffectedResource{{ResourceName: "r"}}

	s := a.Severity(context.Background(),
		[]investigation.Fact{fact("checkout is down for all users", 0.9)}, nil, one)
	assert.Equal(t, investigation.ImpactSevere, s.UserImpact)

	s = a.Severity(context.Background(),
		[]investigation.Fact{fact("an error occurred in the payment flow", 0.9)}, nil, one)
	assert.Equal(t, investigation.ImpactModerate, s.UserImpact)

	s = a.Severity(context.Background(),
		[]investigation.Fact{fact("p99 latency is elevated", 0.8)}, nil, one)
	assert.Equal(t, investigation.ImpactMinimal, s.UserImpact)
}

func TestSeverityUserImpactFlooredByScope(t *testing.T) {
	a := newTestAnalyzer(t, nil)

	affected := func(n int) []investigation.AffectedResource {
		out := make([]investigation.AffectedResource, n)
		for i := range out {
			out[i] = investigation.AffectedResource{ResourceName: "r"}
		}
		return out
	}

	// No impact keywords: service scope floors at minimal, system_wide at
	// moderate.
	assert.Equal(t, investigation.ImpactMinimal,
		a.Severity(context.Background(), nil, nil, affected(3)).UserImpact)
	assert.Equal(t, investigation.ImpactModerate,
		a.Severity(context.Background(), nil, nil, affected(6)).UserImpact)
	assert.Equal(t, investigation.ImpactNone,
		a.Severity(context.Background(), nil, nil, affected(1)).UserImpact)
}

func TestSeverityLLMOverridesVerdictOnly(t *testing.T) {
	model := &scriptedModel{reply: `{"severity": "critical", "confidence": 0.9, "reasoning": "Checkout is fully down"}`}
	a := newTestAnalyzer(t, model)

	s := a.Severity(context.Background(), errorFacts(1), nil, []investigation.AffectedResource{
		{ResourceName: "a"},
	})

	assert.Equal(t, investigation.SeverityCritical, s.Severity)
	assert.InDelta(t, 0.9, s.Confidence, 0.001)
	assert.Equal(t, "Checkout is fully down", s.Reasoning)
	// Scope, user impact, and counts stay deterministic.
	assert.Equal(t, 1, s.AffectedResourceCount)
	assert.Equal(t, investigation.ScopeSingleResource, s.ImpactScope)
	assert.Equal(t, investigation.ImpactModerate, s.UserImpact)
}

func TestSeverityLLMInvalidEnumKeepsHeuristic(t *testing.T) {
	model := &scriptedModel{reply: `{"severity": "catastrophic"}`}
	a := newTestAnalyzer(t, model)

	s := a.Severity(context.Background(), errorFacts(2), nil, nil)

	assert.Equal(t, investigation.SeverityMedium, s.Severity)
	assert.Contains(t, s.Reasoning, "Heuristic severity score")
}

func TestBuildAdviceForPrimaryAndContributing(t *testing.T) {
	rca := &investigation.RootCauseAnalysis{
		PrimaryRootCause: &investigation.Hypothesis{Type: investigation.HypothesisPermissionIssue},
		ContributingFactors: []investigation.Hypothesis{
			{Type: investigation.HypothesisTimeout},
			{Type: investigation.HypothesisPermissionIssue},
		},
	}

	advice := BuildAdvice(rca)

	require.NotEmpty(t, advice)
	assert.Equal(t, "Grant the missing permission", advice[0].Title)

	titles := map[string]int{}
	for _, a := range advice {
		titles[a.Title]++
	}
	// Duplicate contributing type does not duplicate advice.
	assert.Equal(t, 1, titles["Grant the missing permission"])
	assert.Equal(t, 1, titles["Raise the timeout or shorten the work"])
}

func TestBuildAdviceDefaults(t *testing.T) {
	advice := BuildAdvice(nil)
	require.Len(t, advice, 1)
	assert.Equal(t, "Broaden the evidence window", advice[0].Title)

	advice = BuildAdvice(&investigation.RootCauseAnalysis{})
	require.Len(t, advice, 1)

	advice = BuildAdvice(&investigation.RootCauseAnalysis{
		PrimaryRootCause: &investigation.Hypothesis{Type: "unmapped_type"},
	})
	require.Len(t, advice, 1)
	assert.Equal(t, "Broaden the evidence window", advice[0].Title)
}
