package investigation

import "strings"

// Keyword sets used to derive a resource's health from the facts that
// mention it. A failure keyword wins over a degradation keyword.
var (
	failureKeywords = []string{
		"error", "failed", "exception", "denied", "unauthorized", "timed out", "fault",
	}
	degradationKeywords = []string{
		"warning", "degraded", "slow", "latency", "throttl", "retry",
	}
)

const maxDetectedIssues = 3

// BuildAffectedResources derives one AffectedResource per discovered
// resource. A fact contributes to a resource when its metadata carries the
// resource key or its content mentions the resource name. Health is failed
// when any contributing fact contains a failure keyword, degraded on a
// degradation keyword, healthy when facts exist but none match, and unknown
// when no fact touches the resource at all.
func BuildAffectedResources(resources []Resource, facts []Fact) []AffectedResource {
	affected := make([]AffectedResource, 0, len(resources))

	for _, r := range resources {
		key := r.Key()
		health := HealthUnknown
		var issues []string
		touched := false

		for _, f := range facts {
			if !factTouchesResource(f, key, r.Name) {
				continue
			}
			touched = true
			content := strings.ToLower(f.Content)
			if containsAny(content, failureKeywords) {
				health = HealthFailed
				if len(issues) < maxDetectedIssues {
					issues = append(issues, issueSnippet(f.Content))
				}
			} else if containsAny(content, degradationKeywords) && health != HealthFailed {
				health = HealthDegraded
				if len(issues) < maxDetectedIssues {
					issues = append(issues, issueSnippet(f.Content))
				}
			}
		}
		if touched && health == HealthUnknown {
			health = HealthHealthy
		}

		id := r.ARN
		if id == "" {
			id = r.Name
		}
		affected = append(affected, AffectedResource{
			ResourceType:   r.Type,
			ResourceID:     id,
			ResourceName:   r.Name,
			HealthStatus:   health,
			DetectedIssues: emptyIfNil(issues),
			Metadata:       r.Metadata,
		})
	}

	return affected
}

func factTouchesResource(f Fact, key, name string) bool {
	if f.Metadata != nil {
		if v, ok := f.Metadata["resource"].(string); ok && v == key {
			return true
		}
	}
	return name != "" && strings.Contains(f.Content, name)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// issueSnippet bounds a fact content for the detected-issues list.
func issueSnippet(content string) string {
	const limit = 160
	if len(content) > limit {
		return content[:limit]
	}
	return content
}
