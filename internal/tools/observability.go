package tools

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// ObservabilityTools are the generic log and metric lookups used when no
// service-specific tool fits.
type ObservabilityTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewObservabilityTools(client *cloudclient.Client, logger *zap.Logger) *ObservabilityTools {
	return &ObservabilityTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *ObservabilityTools) Register(reg *Registry) {
	reg.Set("get_log_events",
		"Fetch recent events from an arbitrary CloudWatch log group",
		t.GetLogEvents)
	reg.Set("get_metric_statistics",
		"Fetch statistics for an arbitrary CloudWatch metric",
		t.GetMetricStatistics)
}

// GetLogEvents reads events from any log group within the window.
func (t *ObservabilityTools) GetLogEvents(ctx context.Context, args map[string]any) string {
	group := stringArg(args, "log_group")
	if group == "" {
		return Failure("log_group is required", args)
	}
	window := windowArg(args)
	limit := clampLimit(intArg(args, "limit", 50), 200)

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(group),
		StartTime:    aws.Int64(window.StartMillis()),
		EndTime:      aws.Int64(window.EndMillis()),
		Limit:        aws.Int32(int32(limit)),
	}
	if pattern := stringArg(args, "filter_pattern"); pattern != "" {
		input.FilterPattern = aws.String(pattern)
	}

	out, err := t.client.CloudWatchLogs().FilterLogEvents(ctx, input)
	if err != nil {
		return Failure(awsError(err), args)
	}

	events := make([]map[string]any, 0, len(out.Events))
	for _, ev := range out.Events {
		events = append(events, map[string]any{
			"timestamp": aws.ToInt64(ev.Timestamp),
			"stream":    aws.ToString(ev.LogStreamName),
			"message":   strings.TrimRight(aws.ToString(ev.Message), "\n"),
		})
	}

	return Success(args, map[string]any{
		"events":      events,
		"event_count": len(events),
	})
}

// GetMetricStatistics fetches one metric series. Dimensions are passed as a
// map under "dimensions"; statistic defaults to Sum.
func (t *ObservabilityTools) GetMetricStatistics(ctx context.Context, args map[string]any) string {
	namespace := stringArg(args, "namespace")
	metricName := stringArg(args, "metric_name")
	if namespace == "" || metricName == "" {
		return Failure("namespace and metric_name are required", args)
	}
	window := windowArg(args)

	stat := cwtypes.Statistic(stringArg(args, "statistic"))
	switch stat {
	case cwtypes.StatisticSum, cwtypes.StatisticAverage, cwtypes.StatisticMaximum,
		cwtypes.StatisticMinimum, cwtypes.StatisticSampleCount:
	default:
		stat = cwtypes.StatisticSum
	}

	var dims []cwtypes.Dimension
	if raw, ok := args["dimensions"].(map[string]any); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
			}
		}
	}

	out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(namespace),
		MetricName: aws.String(metricName),
		Dimensions: dims,
		StartTime:  aws.Time(window.Start),
		EndTime:    aws.Time(window.End),
		Period:     aws.Int32(window.MetricPeriod()),
		Statistics: []cwtypes.Statistic{stat},
	})
	if err != nil {
		return Failure(awsError(err)+" ("+formatDims(dims)+")", args)
	}

	return Success(args, map[string]any{
		"metric":  namespace + "/" + metricName,
		"summary": summarizeDatapoints(out.Datapoints, stat),
	})
}
