package tools

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	cloudtrailtypes "github.com/aws/aws-sdk-go-v2/service/cloudtrail/types"
	"github.com/aws/aws-sdk-go-v2/service/health"
	healthtypes "github.com/aws/aws-sdk-go-v2/service/health/types"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// EnrichmentTools are the optional service-health and audit-trail checks.
// Both degrade to error envelopes on the common failure modes (Health needs
// a support plan, CloudTrail lookup needs its own permission); callers skip
// them without emitting facts.
type EnrichmentTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewEnrichmentTools(client *cloudclient.Client, logger *zap.Logger) *EnrichmentTools {
	return &EnrichmentTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *EnrichmentTools) Register(reg *Registry) {
	reg.Set("check_service_health",
		"Check AWS Health for open events affecting a service in a region",
		t.CheckServiceHealth)
	reg.Set("get_recent_audit_events",
		"Fetch recent CloudTrail management events touching a resource",
		t.GetRecentAuditEvents)
}

// CheckServiceHealth reports open AWS Health events for one service.
func (t *EnrichmentTools) CheckServiceHealth(ctx context.Context, args map[string]any) string {
	service := stringArg(args, "service")
	if service == "" {
		return Failure("service is required", args)
	}
	region := stringArg(args, "region")
	if region == "" {
		region = t.client.Region()
	}

	out, err := t.client.Health().DescribeEvents(ctx, &health.DescribeEventsInput{
		Filter: &healthtypes.EventFilter{
			Services:            []string{strings.ToUpper(service)},
			Regions:             []string{region},
			EventStatusCodes:    []healthtypes.EventStatusCode{healthtypes.EventStatusCodeOpen},
			EventTypeCategories: []healthtypes.EventTypeCategory{healthtypes.EventTypeCategoryIssue},
		},
		MaxResults: aws.Int32(10),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	events := make([]map[string]any, 0, len(out.Events))
	for _, ev := range out.Events {
		events = append(events, map[string]any{
			"event_type": aws.ToString(ev.EventTypeCode),
			"region":     aws.ToString(ev.Region),
			"status":     string(ev.StatusCode),
			"start_time": fmtTime(ev.StartTime),
		})
	}

	return Success(args, map[string]any{
		"service":     service,
		"region":      region,
		"open_events": events,
		"event_count": len(events),
		"healthy":     len(events) == 0,
	})
}

// GetRecentAuditEvents looks up recent CloudTrail management events for a
// resource, surfacing configuration changes that may explain a regression.
func (t *EnrichmentTools) GetRecentAuditEvents(ctx context.Context, args map[string]any) string {
	resourceName := stringArg(args, "resource_name")
	if resourceName == "" {
		return Failure("resource_name is required", args)
	}
	window := windowArg(args)
	limit := clampLimit(intArg(args, "limit", 10), 50)

	out, err := t.client.CloudTrail().LookupEvents(ctx, &cloudtrail.LookupEventsInput{
		LookupAttributes: []cloudtrailtypes.LookupAttribute{{
			AttributeKey:   cloudtrailtypes.LookupAttributeKeyResourceName,
			AttributeValue: aws.String(resourceName),
		}},
		StartTime:  aws.Time(window.Start),
		EndTime:    aws.Time(window.End),
		MaxResults: aws.Int32(int32(limit)),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	events := make([]map[string]any, 0, len(out.Events))
	for _, ev := range out.Events {
		entry := map[string]any{
			"event_name": aws.ToString(ev.EventName),
			"event_time": fmtTime(ev.EventTime),
			"username":   aws.ToString(ev.Username),
		}
		if src := aws.ToString(ev.EventSource); src != "" {
			entry["event_source"] = src
		}
		events = append(events, entry)
	}

	return Success(args, map[string]any{
		"resource_name": resourceName,
		"events":        events,
		"event_count":   len(events),
		"window_hours":  window.Duration().Hours(),
	})
}
