package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/xray"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// TraceTools inspects X-Ray traces, trace summaries, and the service graph.
type TraceTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewTraceTools(client *cloudclient.Client, logger *zap.Logger) *TraceTools {
	return &TraceTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *TraceTools) Register(reg *Registry) {
	reg.Set("get_xray_trace",
		"Fetch a full X-Ray trace with decoded segment documents",
		t.GetTrace)
	reg.Set("get_all_resources_from_trace",
		"Extract every AWS resource a trace touched, de-duplicated",
		t.GetAllResourcesFromTrace)
	reg.Set("get_trace_summaries",
		"List trace summaries in a time window, including error/fault flags",
		t.GetTraceSummaries)
	reg.Set("get_service_graph",
		"Fetch the X-Ray service graph with per-service error statistics",
		t.GetServiceGraph)
	reg.Set("query_logs_by_trace_id",
		"Search CloudWatch log groups for entries mentioning a trace ID",
		t.QueryLogsByTraceID)
}

// GetTrace returns the decoded segment documents for one trace.
func (t *TraceTools) GetTrace(ctx context.Context, args map[string]any) string {
	traceID := stringArg(args, "trace_id")
	if traceID == "" {
		return Failure("trace_id is required", args)
	}

	out, err := t.client.XRay().BatchGetTraces(ctx, &xray.BatchGetTracesInput{
		TraceIds: []string{traceID},
	})
	if err != nil {
		return Failure(awsError(err), args)
	}
	if len(out.Traces) == 0 {
		return Failure(fmt.Sprintf("trace %s not found", traceID), args)
	}

	tr := out.Traces[0]
	segments := make([]map[string]any, 0, len(tr.Segments))
	for _, seg := range tr.Segments {
		var doc map[string]any
		if err := json.Unmarshal([]byte(aws.ToString(seg.Document)), &doc); err != nil {
			t.logger.Debug("Skipping undecodable segment document",
				zap.String("trace_id", traceID),
				zap.String("segment_id", aws.ToString(seg.Id)))
			continue
		}
		segments = append(segments, doc)
	}

	return Success(args, map[string]any{
		"trace": map[string]any{
			"id":            aws.ToString(tr.Id),
			"duration":      aws.ToFloat64(tr.Duration),
			"segment_count": len(segments),
			"segments":      segments,
		},
	})
}

// GetAllResourcesFromTrace walks segments and subsegments and reports every
// AWS resource the trace touched.
func (t *TraceTools) GetAllResourcesFromTrace(ctx context.Context, args map[string]any) string {
	traceID := stringArg(args, "trace_id")
	if traceID == "" {
		return Failure("trace_id is required", args)
	}

	out, err := t.client.XRay().BatchGetTraces(ctx, &xray.BatchGetTracesInput{
		TraceIds: []string{traceID},
	})
	if err != nil {
		return Failure(awsError(err), args)
	}
	if len(out.Traces) == 0 {
		return Failure(fmt.Sprintf("trace %s not found", traceID), args)
	}

	var resources []map[string]any
	seen := make(map[string]bool)
	add := func(resType, name, arn string) {
		if name == "" && arn == "" {
			return
		}
		key := arn
		if key == "" {
			key = resType + ":" + name
		}
		if seen[key] {
			return
		}
		seen[key] = true
		resources = append(resources, map[string]any{
			"type": resType,
			"name": name,
			"arn":  arn,
		})
	}

	for _, seg := range out.Traces[0].Segments {
		var doc map[string]any
		if err := json.Unmarshal([]byte(aws.ToString(seg.Document)), &doc); err != nil {
			continue
		}
		collectSegmentResources(doc, add)
	}

	return Success(args, map[string]any{
		"resources":      resources,
		"resource_count": len(resources),
	})
}

// originToType maps X-Ray segment origins to the resource types the
// specialists dispatch on.
var originToType = map[string]string{
	"AWS::Lambda::Function":            "lambda",
	"AWS::Lambda":                      "lambda",
	"AWS::ApiGateway::Stage":           "apigateway",
	"AWS::StepFunctions::StateMachine": "stepfunctions",
	"AWS::DynamoDB::Table":             "dynamodb",
	"AWS::S3::Bucket":                  "s3",
	"AWS::SQS::Queue":                  "sqs",
	"AWS::SNS::Topic":                  "sns",
	"AWS::EC2::Instance":               "ec2",
}

func collectSegmentResources(doc map[string]any, add func(resType, name, arn string)) {
	name, _ := doc["name"].(string)
	arn, _ := doc["resource_arn"].(string)

	if origin, _ := doc["origin"].(string); origin != "" {
		resType, ok := originToType[origin]
		if !ok {
			resType = "unknown"
		}
		if awsMeta, ok := doc["aws"].(map[string]any); ok && arn == "" {
			if fa, ok := awsMeta["function_arn"].(string); ok {
				arn = fa
			}
		}
		add(resType, name, arn)
	}

	if awsMeta, ok := doc["aws"].(map[string]any); ok {
		if fn, ok := awsMeta["function_name"].(string); ok && fn != "" {
			add("lambda", fn, "")
		}
		if tbl, ok := awsMeta["table_name"].(string); ok && tbl != "" {
			add("dynamodb", tbl, "")
		}
		if q, ok := awsMeta["queue_url"].(string); ok && q != "" {
			parts := strings.Split(q, "/")
			add("sqs", parts[len(parts)-1], "")
		}
		if topic, ok := awsMeta["topic_arn"].(string); ok && topic != "" {
			parts := strings.Split(topic, ":")
			add("sns", parts[len(parts)-1], topic)
		}
		if sm, ok := awsMeta["state_machine_arn"].(string); ok && sm != "" {
			parts := strings.Split(sm, ":")
			add("stepfunctions", parts[len(parts)-1], sm)
		}
		if bucket, ok := awsMeta["bucket_name"].(string); ok && bucket != "" {
			add("s3", bucket, "")
		}
	}

	if subs, ok := doc["subsegments"].([]any); ok {
		for _, sub := range subs {
			if subDoc, ok := sub.(map[string]any); ok {
				collectSegmentResources(subDoc, add)
			}
		}
	}
}

// GetTraceSummaries lists summaries in a window, optionally filtered.
func (t *TraceTools) GetTraceSummaries(ctx context.Context, args map[string]any) string {
	window := windowArg(args)

	input := &xray.GetTraceSummariesInput{
		StartTime: aws.Time(window.Start),
		EndTime:   aws.Time(window.End),
	}
	if expr := stringArg(args, "filter_expression"); expr != "" {
		input.FilterExpression = aws.String(expr)
	}

	out, err := t.client.XRay().GetTraceSummaries(ctx, input)
	if err != nil {
		return Failure(awsError(err), args)
	}

	summaries := make([]map[string]any, 0, len(out.TraceSummaries))
	for _, s := range out.TraceSummaries {
		entry := map[string]any{
			"id":            aws.ToString(s.Id),
			"duration":      aws.ToFloat64(s.Duration),
			"response_time": aws.ToFloat64(s.ResponseTime),
			"has_error":     aws.ToBool(s.HasError),
			"has_fault":     aws.ToBool(s.HasFault),
			"has_throttle":  aws.ToBool(s.HasThrottle),
		}
		if s.Http != nil {
			entry["http_status"] = aws.ToInt32(s.Http.HttpStatus)
			entry["http_method"] = aws.ToString(s.Http.HttpMethod)
			entry["http_url"] = aws.ToString(s.Http.HttpURL)
		}
		summaries = append(summaries, entry)
	}

	return Success(args, map[string]any{
		"summaries":     summaries,
		"summary_count": len(summaries),
	})
}

// GetServiceGraph reports per-service health statistics for a window.
func (t *TraceTools) GetServiceGraph(ctx context.Context, args map[string]any) string {
	window := windowArg(args)

	out, err := t.client.XRay().GetServiceGraph(ctx, &xray.GetServiceGraphInput{
		StartTime: aws.Time(window.Start),
		EndTime:   aws.Time(window.End),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	services := make([]map[string]any, 0, len(out.Services))
	for _, svc := range out.Services {
		entry := map[string]any{
			"name":  aws.ToString(svc.Name),
			"type":  aws.ToString(svc.Type),
			"state": aws.ToString(svc.State),
		}
		if stats := svc.SummaryStatistics; stats != nil {
			entry["ok_count"] = aws.ToInt64(stats.OkCount)
			entry["total_count"] = aws.ToInt64(stats.TotalCount)
			entry["total_response_time"] = aws.ToFloat64(stats.TotalResponseTime)
			if stats.ErrorStatistics != nil {
				entry["error_count"] = aws.ToInt64(stats.ErrorStatistics.TotalCount)
				entry["throttle_count"] = aws.ToInt64(stats.ErrorStatistics.ThrottleCount)
			}
			if stats.FaultStatistics != nil {
				entry["fault_count"] = aws.ToInt64(stats.FaultStatistics.TotalCount)
			}
		}
		entry["edge_count"] = len(svc.Edges)
		services = append(services, entry)
	}

	return Success(args, map[string]any{
		"services":      services,
		"service_count": len(services),
	})
}

// QueryLogsByTraceID searches log groups for events that mention the trace.
// With no explicit log_group it scans the most recent Lambda and API Gateway
// execution log groups.
func (t *TraceTools) QueryLogsByTraceID(ctx context.Context, args map[string]any) string {
	traceID := stringArg(args, "trace_id")
	if traceID == "" {
		return Failure("trace_id is required", args)
	}
	window := windowArg(args)

	groups := []string{}
	if g := stringArg(args, "log_group"); g != "" {
		groups = append(groups, g)
	} else {
		for _, prefix := range []string{"/aws/lambda/", "API-Gateway-Execution-Logs"} {
			described, err := t.client.CloudWatchLogs().DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
				LogGroupNamePrefix: aws.String(prefix),
				Limit:              aws.Int32(5),
			})
			if err != nil {
				continue
			}
			for _, lg := range described.LogGroups {
				groups = append(groups, aws.ToString(lg.LogGroupName))
			}
		}
	}
	if len(groups) == 0 {
		return Failure("no log groups found to search", args)
	}

	events := []map[string]any{}
	for _, group := range groups {
		out, err := t.client.CloudWatchLogs().FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
			LogGroupName:  aws.String(group),
			FilterPattern: aws.String(fmt.Sprintf("%q", traceID)),
			StartTime:     aws.Int64(window.StartMillis()),
			EndTime:       aws.Int64(window.EndMillis()),
			Limit:         aws.Int32(20),
		})
		if err != nil {
			continue
		}
		for _, ev := range out.Events {
			events = append(events, map[string]any{
				"log_group": group,
				"stream":    aws.ToString(ev.LogStreamName),
				"timestamp": aws.ToInt64(ev.Timestamp),
				"message":   aws.ToString(ev.Message),
			})
		}
		if len(events) >= 50 {
			break
		}
	}

	return Success(args, map[string]any{
		"events":      events,
		"event_count": len(events),
		"groups":      groups,
	})
}
