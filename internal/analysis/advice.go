package analysis

import (
	"github.com/tareqmamari/cloud-rca-engine/internal/investigation"
)

// adviceByType maps a primary root-cause type to remediation guidance. The
// mapping is deterministic; advice never comes from the LLM.
var adviceByType = map[string][]investigation.Advice{
	investigation.HypothesisPermissionIssue: {
		{
			Title:       "Grant the missing permission",
			Description: "Add the denied action to the execution role's policy, scoped to the specific resource, and redeploy",
			Priority:    "high",
			Category:    "security",
		},
		{
			Title:       "Check for explicit denies",
			Description: "Review SCPs, permission boundaries, and resource policies for explicit Deny statements that override the allow",
			Priority:    "medium",
			Category:    "security",
		},
	},
	investigation.HypothesisConfigurationError: {
		{
			Title:       "Revert the last configuration change",
			Description: "Compare the current configuration against the last known-good deployment and roll back the diverging settings",
			Priority:    "high",
			Category:    "configuration",
		},
		{
			Title:       "Validate configuration in CI",
			Description: "Add a pre-deploy validation step so malformed configuration is caught before it reaches production",
			Priority:    "low",
			Category:    "process",
		},
	},
	investigation.HypothesisCodeBug: {
		{
			Title:       "Fix the failing code path",
			Description: "Reproduce the recorded exception locally, add a guard for the failing input, and cover it with a regression test",
			Priority:    "high",
			Category:    "code",
		},
		{
			Title:       "Roll back to the previous version",
			Description: "If a recent deployment introduced the failure, shift traffic back to the prior version while the fix is prepared",
			Priority:    "high",
			Category:    "deployment",
		},
	},
	investigation.HypothesisTimeout: {
		{
			Title:       "Raise the timeout or shorten the work",
			Description: "Increase the configured timeout if the workload legitimately needs longer, or break the operation into smaller units",
			Priority:    "high",
			Category:    "configuration",
		},
		{
			Title:       "Inspect downstream latency",
			Description: "Check whether a dependency slowed down; timeouts are often a symptom of a slow downstream call",
			Priority:    "medium",
			Category:    "investigation",
		},
	},
	investigation.HypothesisResourceConstraint: {
		{
			Title:       "Increase the resource allocation",
			Description: "Raise memory or provisioned capacity for the constrained resource and monitor whether errors subside",
			Priority:    "high",
			Category:    "capacity",
		},
	},
	investigation.HypothesisThrottling: {
		{
			Title:       "Request a limit increase or add backoff",
			Description: "Raise the service quota if the traffic is legitimate, and make clients retry with exponential backoff and jitter",
			Priority:    "high",
			Category:    "capacity",
		},
	},
	investigation.HypothesisIntegrationFailure: {
		{
			Title:       "Verify the integration contract",
			Description: "Check the downstream service's availability, the event shape it expects, and any recent changes on either side",
			Priority:    "high",
			Category:    "integration",
		},
		{
			Title:       "Add a dead-letter queue",
			Description: "Route failed deliveries to a DLQ so events are not lost while the integration is unhealthy",
			Priority:    "medium",
			Category:    "resilience",
		},
	},
	investigation.HypothesisInfrastructureIssue: {
		{
			Title:       "Check AWS service health",
			Description: "Confirm whether an ongoing AWS incident affects the region, and fail over if a standby region exists",
			Priority:    "high",
			Category:    "infrastructure",
		},
	},
	investigation.HypothesisNetworkIssue: {
		{
			Title:       "Verify network path and security groups",
			Description: "Check route tables, NAT gateways, security group rules, and VPC endpoints along the failing path",
			Priority:    "high",
			Category:    "network",
		},
	},
	investigation.HypothesisErrorRate: {
		{
			Title:       "Drill into the dominant error",
			Description: "Group recent errors by type and message; the largest bucket usually points at the underlying cause",
			Priority:    "high",
			Category:    "investigation",
		},
	},
	investigation.HypothesisHighLatency: {
		{
			Title:       "Profile the slow path",
			Description: "Use the trace's segment timings to find where the latency accumulates and optimize or cache that step",
			Priority:    "medium",
			Category:    "performance",
		},
	},
}

var defaultAdvice = []investigation.Advice{
	{
		Title:       "Broaden the evidence window",
		Description: "Re-run the investigation with a wider time range or additional trace IDs to gather more signal",
		Priority:    "medium",
		Category:    "investigation",
	},
}

// BuildAdvice derives remediation advice from the root-cause analysis.
// Contributing factors add their first advice entry after the primary's.
func BuildAdvice(rca *investigation.RootCauseAnalysis) []investigation.Advice {
	if rca == nil || rca.PrimaryRootCause == nil {
		return defaultAdvice
	}

	out := append([]investigation.Advice{}, adviceByType[rca.PrimaryRootCause.Type]...)
	seen := map[string]bool{}
	for _, a := range out {
		seen[a.Title] = true
	}
	for _, h := range rca.ContributingFactors {
		extra := adviceByType[h.Type]
		if len(extra) == 0 || seen[extra[0].Title] {
			continue
		}
		seen[extra[0].Title] = true
		out = append(out, extra[0])
	}

	if len(out) == 0 {
		return defaultAdvice
	}
	return out
}
