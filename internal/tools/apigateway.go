package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// APIIDPattern matches a REST API identifier (10 lowercase alphanumerics).
var APIIDPattern = regexp.MustCompile(`^[a-z0-9]{10}$`)

// APIGatewayTools inspects REST API stages, access logs, metrics, and
// deployment history, and resolves human API names to IDs.
type APIGatewayTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewAPIGatewayTools(client *cloudclient.Client, logger *zap.Logger) *APIGatewayTools {
	return &APIGatewayTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *APIGatewayTools) Register(reg *Registry) {
	reg.Set("get_stage_config",
		"Fetch an API Gateway stage's configuration: logging, tracing, throttling, deployment",
		t.GetStageConfig)
	reg.Set("get_access_logs_parsed",
		"Fetch and parse recent API Gateway access log entries",
		t.GetAccessLogsParsed)
	reg.Set("get_apigateway_metrics",
		"Fetch 4XX/5XX, count and latency metrics for an API Gateway stage",
		t.GetMetrics)
	reg.Set("resolve_api_id",
		"Resolve a human API name to its REST API identifier",
		t.ResolveAPIID)
	reg.Set("get_deployment_history",
		"List recent deployments of a REST API",
		t.GetDeploymentHistory)
}

// GetStageConfig returns one stage's configuration.
func (t *APIGatewayTools) GetStageConfig(ctx context.Context, args map[string]any) string {
	apiID := stringArg(args, "api_id")
	stage := stringArg(args, "stage")
	if apiID == "" || stage == "" {
		return Failure("api_id and stage are required", args)
	}

	out, err := t.client.APIGateway().GetStage(ctx, &apigateway.GetStageInput{
		RestApiId: aws.String(apiID),
		StageName: aws.String(stage),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	config := map[string]any{
		"stage_name":            aws.ToString(out.StageName),
		"deployment_id":         aws.ToString(out.DeploymentId),
		"tracing_enabled":       out.TracingEnabled,
		"cache_cluster_enabled": out.CacheClusterEnabled,
		"created_date":          fmtTime(out.CreatedDate),
		"last_updated_date":     fmtTime(out.LastUpdatedDate),
	}
	if out.AccessLogSettings != nil {
		config["access_log_group"] = logGroupFromARN(aws.ToString(out.AccessLogSettings.DestinationArn))
	}
	if settings, ok := out.MethodSettings["*/*"]; ok {
		config["logging_level"] = aws.ToString(settings.LoggingLevel)
		config["metrics_enabled"] = settings.MetricsEnabled
		config["throttling_rate_limit"] = settings.ThrottlingRateLimit
		config["throttling_burst_limit"] = settings.ThrottlingBurstLimit
	}
	if len(out.Variables) > 0 {
		config["stage_variable_count"] = len(out.Variables)
	}

	return Success(args, map[string]any{"config": config})
}

// accessLogEntry is the subset of an access log line the collector reads.
// API Gateway JSON access-log formats vary per stage; unknown fields are
// dropped by the decoder.
type accessLogEntry struct {
	RequestID    string `json:"requestId"`
	IP           string `json:"ip"`
	HTTPMethod   string `json:"httpMethod"`
	ResourcePath string `json:"resourcePath"`
	Status       any    `json:"status"`
	Protocol     string `json:"protocol"`
	ResponseLen  any    `json:"responseLength"`
	ErrorMessage string `json:"errorMessage"`
	RequestTime  string `json:"requestTime"`
}

// GetAccessLogsParsed fetches access log events and parses JSON-formatted
// entries; non-JSON lines are carried through raw.
func (t *APIGatewayTools) GetAccessLogsParsed(ctx context.Context, args map[string]any) string {
	apiID := stringArg(args, "api_id")
	stage := stringArg(args, "stage")
	if apiID == "" || stage == "" {
		return Failure("api_id and stage are required", args)
	}
	window := windowArg(args)
	limit := clampLimit(intArg(args, "limit", 50), 200)

	group := stringArg(args, "log_group")
	if group == "" {
		group = fmt.Sprintf("API-Gateway-Execution-Logs_%s/%s", apiID, stage)
	}

	out, err := t.client.CloudWatchLogs().FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(group),
		StartTime:    aws.Int64(window.StartMillis()),
		EndTime:      aws.Int64(window.EndMillis()),
		Limit:        aws.Int32(int32(limit)),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	var entries []map[string]any
	errorCount := 0
	for _, ev := range out.Events {
		raw := strings.TrimSpace(aws.ToString(ev.Message))
		entry := map[string]any{"timestamp": aws.ToInt64(ev.Timestamp)}

		var parsed accessLogEntry
		if strings.HasPrefix(raw, "{") && json.Unmarshal([]byte(raw), &parsed) == nil {
			entry["request_id"] = parsed.RequestID
			entry["method"] = parsed.HTTPMethod
			entry["path"] = parsed.ResourcePath
			entry["status"] = fmt.Sprintf("%v", parsed.Status)
			if parsed.ErrorMessage != "" {
				entry["error_message"] = parsed.ErrorMessage
			}
		} else {
			entry["raw"] = raw
		}

		if status, ok := entry["status"].(string); ok && len(status) > 0 && (status[0] == '4' || status[0] == '5') {
			errorCount++
		} else if strings.Contains(raw, "5XX") || strings.Contains(strings.ToLower(raw), "error") {
			errorCount++
		}
		entries = append(entries, entry)
	}

	return Success(args, map[string]any{
		"entries":     entries,
		"entry_count": len(entries),
		"error_count": errorCount,
		"log_group":   group,
	})
}

var apigatewayMetricSpecs = []struct {
	name string
	stat cwtypes.Statistic
}{
	{"Count", cwtypes.StatisticSum},
	{"4XXError", cwtypes.StatisticSum},
	{"5XXError", cwtypes.StatisticSum},
	{"Latency", cwtypes.StatisticAverage},
	{"IntegrationLatency", cwtypes.StatisticAverage},
}

// GetMetrics aggregates the stage's request, error, and latency metrics.
// api_name is the ApiName dimension value, which for REST APIs is the human
// name, not the ID.
func (t *APIGatewayTools) GetMetrics(ctx context.Context, args map[string]any) string {
	apiName := stringArg(args, "api_name")
	if apiName == "" {
		apiName = stringArg(args, "api_id")
	}
	if apiName == "" {
		return Failure("api_name is required", args)
	}
	window := windowArg(args)

	dims := []cwtypes.Dimension{{Name: aws.String("ApiName"), Value: aws.String(apiName)}}
	if stage := stringArg(args, "stage"); stage != "" {
		dims = append(dims, cwtypes.Dimension{Name: aws.String("Stage"), Value: aws.String(stage)})
	}

	metrics := make(map[string]any, len(apigatewayMetricSpecs))
	for _, spec := range apigatewayMetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/ApiGateway"),
			MetricName: aws.String(spec.name),
			Dimensions: dims,
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

	return Success(args, map[string]any{"metrics": metrics})
}

// ResolveAPIID maps a human API name to its REST API ID. An input that
// already looks like an ID is returned as-is.
func (t *APIGatewayTools) ResolveAPIID(ctx context.Context, args map[string]any) string {
	nameOrID := stringArg(args, "name_or_id")
	if nameOrID == "" {
		return Failure("name_or_id is required", args)
	}
	if APIIDPattern.MatchString(nameOrID) {
		return Success(args, map[string]any{
			"api_id":   nameOrID,
			"resolved": false,
		})
	}

	out, err := t.client.APIGateway().GetRestApis(ctx, &apigateway.GetRestApisInput{
		Limit: aws.Int32(100),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	for _, api := range out.Items {
		if strings.EqualFold(aws.ToString(api.Name), nameOrID) {
			return Success(args, map[string]any{
				"api_id":   aws.ToString(api.Id),
				"api_name": aws.ToString(api.Name),
				"resolved": true,
			})
		}
	}

	return Failure(fmt.Sprintf("no REST API named %q found", nameOrID), args)
}

// GetDeploymentHistory lists recent deployments, newest first.
func (t *APIGatewayTools) GetDeploymentHistory(ctx context.Context, args map[string]any) string {
	apiID := stringArg(args, "api_id")
	if apiID == "" {
		return Failure("api_id is required", args)
	}
	limit := clampLimit(intArg(args, "limit", 10), 50)

	out, err := t.client.APIGateway().GetDeployments(ctx, &apigateway.GetDeploymentsInput{
		RestApiId: aws.String(apiID),
		Limit:     aws.Int32(int32(limit)),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	deployments := make([]map[string]any, 0, len(out.Items))
	for _, d := range out.Items {
		deployments = append(deployments, map[string]any{
			"deployment_id": aws.ToString(d.Id),
			"description":   aws.ToString(d.Description),
			"created_date":  fmtTime(d.CreatedDate),
		})
	}

	return Success(args, map[string]any{
		"deployments":      deployments,
		"deployment_count": len(deployments),
	})
}

// logGroupFromARN extracts the log group name from a CloudWatch Logs ARN.
func logGroupFromARN(arn string) string {
	if idx := strings.Index(arn, ":log-group:"); idx >= 0 {
		return strings.TrimSuffix(arn[idx+len(":log-group:"):], ":*")
	}
	return arn
}
