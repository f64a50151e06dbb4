package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// LambdaTools inspects Lambda function configuration, logs, metrics, failed
// invocations, and version history.
type LambdaTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewLambdaTools(client *cloudclient.Client, logger *zap.Logger) *LambdaTools {
	return &LambdaTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *LambdaTools) Register(reg *Registry) {
	reg.Set("get_function_config",
		"Fetch a Lambda function's configuration: timeout, memory, runtime, role, state",
		t.GetFunctionConfig)
	reg.Set("get_function_logs",
		"Fetch recent log events for a Lambda function",
		t.GetFunctionLogs)
	reg.Set("get_function_metrics",
		"Fetch invocation, error, throttle and duration metrics for a Lambda function",
		t.GetFunctionMetrics)
	reg.Set("get_function_failed_invocations",
		"Extract error and timeout report lines from a Lambda function's logs",
		t.GetFunctionFailedInvocations)
	reg.Set("get_function_version_history",
		"List recent published versions of a Lambda function",
		t.GetFunctionVersionHistory)
}

// GetFunctionConfig returns the function configuration relevant to RCA.
func (t *LambdaTools) GetFunctionConfig(ctx context.Context, args map[string]any) string {
	name := stringArg(args, "function_name")
	if name == "" {
		return Failure("function_name is required", args)
	}

	out, err := t.client.Lambda().GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{
		FunctionName: aws.String(name),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	config := map[string]any{
		"function_name": aws.ToString(out.FunctionName),
		"function_arn":  aws.ToString(out.FunctionArn),
		"runtime":       string(out.Runtime),
		"handler":       aws.ToString(out.Handler),
		"timeout":       aws.ToInt32(out.Timeout),
		"memory_size":   aws.ToInt32(out.MemorySize),
		"role":          aws.ToString(out.Role),
		"state":         string(out.State),
		"last_modified": aws.ToString(out.LastModified),
		"version":       aws.ToString(out.Version),
		"architectures": out.Architectures,
	}
	if out.StateReason != nil {
		config["state_reason"] = aws.ToString(out.StateReason)
	}
	if out.Environment != nil {
		// Values may contain secrets; only the key count is reported.
		config["environment_variable_count"] = len(out.Environment.Variables)
	}
	if out.DeadLetterConfig != nil && out.DeadLetterConfig.TargetArn != nil {
		config["dead_letter_target"] = aws.ToString(out.DeadLetterConfig.TargetArn)
	}
	if out.VpcConfig != nil && aws.ToString(out.VpcConfig.VpcId) != "" {
		config["vpc_id"] = aws.ToString(out.VpcConfig.VpcId)
		config["subnet_count"] = len(out.VpcConfig.SubnetIds)
		config["security_group_count"] = len(out.VpcConfig.SecurityGroupIds)
	}
	if len(out.Layers) > 0 {
		config["layer_count"] = len(out.Layers)
	}

	return Success(args, map[string]any{"config": config})
}

// GetFunctionLogs returns recent log events from the function's log group.
func (t *LambdaTools) GetFunctionLogs(ctx context.Context, args map[string]any) string {
	name := stringArg(args, "function_name")
	if name == "" {
		return Failure("function_name is required", args)
	}
	window := windowArg(args)
	limit := clampLimit(intArg(args, "limit", 50), 200)

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String("/aws/lambda/" + name),
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
		"log_group":   "/aws/lambda/" + name,
	})
}

// lambdaMetricSpecs are the CloudWatch metrics fetched per function.
var lambdaMetricSpecs = []struct {
	name string
	stat cwtypes.Statistic
}{
	{"Invocations", cwtypes.StatisticSum},
	{"Errors", cwtypes.StatisticSum},
	{"Throttles", cwtypes.StatisticSum},
	{"Duration", cwtypes.StatisticAverage},
	{"ConcurrentExecutions", cwtypes.StatisticMaximum},
}

// GetFunctionMetrics aggregates the standard Lambda metrics over the window.
func (t *LambdaTools) GetFunctionMetrics(ctx context.Context, args map[string]any) string {
	name := stringArg(args, "function_name")
	if name == "" {
		return Failure("function_name is required", args)
	}
	window := windowArg(args)

	metrics := make(map[string]any, len(lambdaMetricSpecs))
	for _, spec := range lambdaMetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/Lambda"),
			MetricName: aws.String(spec.name),
			Dimensions: []cwtypes.Dimension{{
				Name:  aws.String("FunctionName"),
				Value: aws.String(name),
			}},
			StartTime:  aws.Time(window.Start),
			EndTime:    aws.Time(window.End),
			Period:     aws.Int32(window.MetricPeriod()),
			Statistics: []cwtypes.Statistic{spec.stat},
		})
		if err != nil {
			return Failure(awsError(err), args)
		}
		metrics[strings.ToLower(spec.name)] = summarizeDatapoints(out.Datapoints, spec.stat)
	}

	return Success(args, map[string]any{
		"metrics":      metrics,
		"window_start": window.Start.Format("2006-01-02T15:04:05Z"),
		"window_end":   window.End.Format("2006-01-02T15:04:05Z"),
	})
}

// failureMarkers are the log fragments that identify a failed invocation.
var failureMarkers = []string{
	"Task timed out",
	"ERROR",
	"Exception",
	"errorMessage",
	"Process exited before completing request",
	"Runtime exited",
}

// GetFunctionFailedInvocations scans the function's logs for failure report
// lines and returns up to limit of them, newest last.
func (t *LambdaTools) GetFunctionFailedInvocations(ctx context.Context, args map[string]any) string {
	name := stringArg(args, "function_name")
	if name == "" {
		return Failure("function_name is required", args)
	}
	window := windowArg(args)
	limit := clampLimit(intArg(args, "limit", 10), 50)

	out, err := t.client.CloudWatchLogs().FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String("/aws/lambda/" + name),
		FilterPattern: aws.String("?ERROR ?Exception ?\"Task timed out\" ?errorMessage"),
		StartTime:     aws.Int64(window.StartMillis()),
		EndTime:       aws.Int64(window.EndMillis()),
		Limit:         aws.Int32(200),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	failures := make([]map[string]any, 0, limit)
	for _, ev := range out.Events {
		msg := strings.TrimRight(aws.ToString(ev.Message), "\n")
		if !containsMarker(msg, failureMarkers) {
			continue
		}
		failures = append(failures, map[string]any{
			"timestamp": aws.ToInt64(ev.Timestamp),
			"stream":    aws.ToString(ev.LogStreamName),
			"message":   msg,
		})
		if len(failures) >= limit {
			break
		}
	}

	return Success(args, map[string]any{
		"failed_invocations": failures,
		"failure_count":      len(failures),
	})
}

// GetFunctionVersionHistory lists recent published versions, newest first.
func (t *LambdaTools) GetFunctionVersionHistory(ctx context.Context, args map[string]any) string {
	name := stringArg(args, "function_name")
	if name == "" {
		return Failure("function_name is required", args)
	}
	limit := clampLimit(intArg(args, "limit", 10), 50)

	out, err := t.client.Lambda().ListVersionsByFunction(ctx, &lambda.ListVersionsByFunctionInput{
		FunctionName: aws.String(name),
		MaxItems:     aws.Int32(int32(limit)),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	versions := make([]map[string]any, 0, len(out.Versions))
	for _, v := range out.Versions {
		versions = append(versions, map[string]any{
			"version":       aws.ToString(v.Version),
			"last_modified": aws.ToString(v.LastModified),
			"code_sha256":   aws.ToString(v.CodeSha256),
			"description":   aws.ToString(v.Description),
			"timeout":       aws.ToInt32(v.Timeout),
			"memory_size":   aws.ToInt32(v.MemorySize),
		})
	}

	return Success(args, map[string]any{
		"versions":      versions,
		"version_count": len(versions),
	})
}

func containsMarker(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// summarizeDatapoints reduces a datapoint series to a compact summary for
// LLM prompts: total or average plus the worst datapoint.
func summarizeDatapoints(points []cwtypes.Datapoint, stat cwtypes.Statistic) map[string]any {
	if len(points) == 0 {
		return map[string]any{"datapoints": 0}
	}

	var sum, max float64
	for _, p := range points {
		var v float64
		switch stat {
		case cwtypes.StatisticSum:
			v = aws.ToFloat64(p.Sum)
		case cwtypes.StatisticAverage:
			v = aws.ToFloat64(p.Average)
		case cwtypes.StatisticMaximum:
			v = aws.ToFloat64(p.Maximum)
		case cwtypes.StatisticMinimum:
			v = aws.ToFloat64(p.Minimum)
		default:
			v = aws.ToFloat64(p.Sum)
		}
		sum += v
		if v > max {
			max = v
		}
	}

	summary := map[string]any{
		"datapoints": len(points),
		"max":        max,
	}
	switch stat {
	case cwtypes.StatisticAverage:
		summary["average"] = sum / float64(len(points))
	default:
		summary["total"] = sum
	}
	return summary
}

// formatDims renders dimensions for error messages.
func formatDims(dims []cwtypes.Dimension) string {
	parts := make([]string, 0, len(dims))
	for _, d := range dims {
		parts = append(parts, fmt.Sprintf("%s=%s", aws.ToString(d.Name), aws.ToString(d.Value)))
	}
	return strings.Join(parts, ",")
}
