package tools

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// StepFunctionsTools inspects state machine definitions, executions, metrics
// and logs.
type StepFunctionsTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewStepFunctionsTools(client *cloudclient.Client, logger *zap.Logger) *StepFunctionsTools {
	return &StepFunctionsTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *StepFunctionsTools) Register(reg *Registry) {
	reg.Set("get_state_machine_definition",
		"Fetch a state machine's definition, role and logging configuration",
		t.GetDefinition)
	reg.Set("get_execution_details",
		"Fetch one execution's status, error/cause and failure events",
		t.GetExecutionDetails)
	reg.Set("list_recent_executions",
		"List recent executions of a state machine, optionally by status",
		t.ListRecentExecutions)
	reg.Set("get_state_machine_metrics",
		"Fetch execution started/failed/timed-out metrics for a state machine",
		t.GetMetrics)
	reg.Set("get_state_machine_logs",
		"Fetch recent log events from a state machine's configured log group",
		t.GetLogs)
}

// GetDefinition returns the state machine definition and its configuration.
func (t *StepFunctionsTools) GetDefinition(ctx context.Context, args map[string]any) string {
	arn := stringArg(args, "state_machine_arn")
	if arn == "" {
		return Failure("state_machine_arn is required", args)
	}

	out, err := t.client.StepFunctions().DescribeStateMachine(ctx, &sfn.DescribeStateMachineInput{
		StateMachineArn: aws.String(arn),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	payload := map[string]any{
		"name":          aws.ToString(out.Name),
		"arn":           aws.ToString(out.StateMachineArn),
		"type":          string(out.Type),
		"role_arn":      aws.ToString(out.RoleArn),
		"status":        string(out.Status),
		"creation_date": fmtTime(out.CreationDate),
		"definition":    aws.ToString(out.Definition),
	}
	if out.LoggingConfiguration != nil {
		payload["logging_level"] = string(out.LoggingConfiguration.Level)
		for _, dest := range out.LoggingConfiguration.Destinations {
			if dest.CloudWatchLogsLogGroup != nil {
				payload["log_group"] = logGroupFromARN(aws.ToString(dest.CloudWatchLogsLogGroup.LogGroupArn))
			}
		}
	}
	if out.TracingConfiguration != nil {
		payload["tracing_enabled"] = out.TracingConfiguration.Enabled
	}

	return Success(args, map[string]any{"state_machine": payload})
}

// GetExecutionDetails returns one execution's outcome plus the failure events
// from its history, which carry the error and cause strings RCA needs.
func (t *StepFunctionsTools) GetExecutionDetails(ctx context.Context, args map[string]any) string {
	executionArn := stringArg(args, "execution_arn")
	if executionArn == "" {
		return Failure("execution_arn is required", args)
	}

	out, err := t.client.StepFunctions().DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(executionArn),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	payload := map[string]any{
		"execution_arn": aws.ToString(out.ExecutionArn),
		"name":          aws.ToString(out.Name),
		"status":        string(out.Status),
		"start_date":    fmtTime(out.StartDate),
		"stop_date":     fmtTime(out.StopDate),
	}
	if out.Error != nil {
		payload["error"] = aws.ToString(out.Error)
	}
	if out.Cause != nil {
		payload["cause"] = aws.ToString(out.Cause)
	}

	// Failure events carry per-state error details the summary lacks.
	if out.Status != sfntypes.ExecutionStatusSucceeded && out.Status != sfntypes.ExecutionStatusRunning {
		history, err := t.client.StepFunctions().GetExecutionHistory(ctx, &sfn.GetExecutionHistoryInput{
			ExecutionArn:         aws.String(executionArn),
			ReverseOrder:         true,
			MaxResults:           50,
			IncludeExecutionData: aws.Bool(false),
		})
		if err == nil {
			payload["failure_events"] = extractFailureEvents(history.Events)
		}
	}

	return Success(args, map[string]any{"execution": payload})
}

// extractFailureEvents pulls error/cause pairs out of failed history events.
func extractFailureEvents(events []sfntypes.HistoryEvent) []map[string]any {
	var failures []map[string]any
	for _, ev := range events {
		var errStr, cause string
		switch {
		case ev.ExecutionFailedEventDetails != nil:
			errStr = aws.ToString(ev.ExecutionFailedEventDetails.Error)
			cause = aws.ToString(ev.ExecutionFailedEventDetails.Cause)
		case ev.TaskFailedEventDetails != nil:
			errStr = aws.ToString(ev.TaskFailedEventDetails.Error)
			cause = aws.ToString(ev.TaskFailedEventDetails.Cause)
		case ev.LambdaFunctionFailedEventDetails != nil:
			errStr = aws.ToString(ev.LambdaFunctionFailedEventDetails.Error)
			cause = aws.ToString(ev.LambdaFunctionFailedEventDetails.Cause)
		case ev.ExecutionTimedOutEventDetails != nil:
			errStr = aws.ToString(ev.ExecutionTimedOutEventDetails.Error)
			cause = aws.ToString(ev.ExecutionTimedOutEventDetails.Cause)
		default:
			continue
		}
		failures = append(failures, map[string]any{
			"event_type": string(ev.Type),
			"timestamp":  fmtTime(ev.Timestamp),
			"error":      errStr,
			"cause":      cause,
		})
		if len(failures) >= 10 {
			break
		}
	}
	return failures
}

// ListRecentExecutions lists executions newest first, optionally filtered by
// status (RUNNING, SUCCEEDED, FAILED, TIMED_OUT, ABORTED).
func (t *StepFunctionsTools) ListRecentExecutions(ctx context.Context, args map[string]any) string {
	arn := stringArg(args, "state_machine_arn")
	if arn == "" {
		return Failure("state_machine_arn is required", args)
	}
	limit := clampLimit(intArg(args, "limit", 10), 100)

	input := &sfn.ListExecutionsInput{
		StateMachineArn: aws.String(arn),
		MaxResults:      int32(limit),
	}
	if status := strings.ToUpper(stringArg(args, "status_filter")); status != "" {
		input.StatusFilter = sfntypes.ExecutionStatus(status)
	}

	out, err := t.client.StepFunctions().ListExecutions(ctx, input)
	if err != nil {
		return Failure(awsError(err), args)
	}

	executions := make([]map[string]any, 0, len(out.Executions))
	failedCount := 0
	for _, ex := range out.Executions {
		if ex.Status == sfntypes.ExecutionStatusFailed || ex.Status == sfntypes.ExecutionStatusTimedOut {
			failedCount++
		}
		executions = append(executions, map[string]any{
			"execution_arn": aws.ToString(ex.ExecutionArn),
			"name":          aws.ToString(ex.Name),
			"status":        string(ex.Status),
			"start_date":    fmtTime(ex.StartDate),
			"stop_date":     fmtTime(ex.StopDate),
		})
	}

	return Success(args, map[string]any{
		"executions":      executions,
		"execution_count": len(executions),
		"failed_count":    failedCount,
	})
}

var sfnMetricSpecs = []string{
	"ExecutionsStarted",
	"ExecutionsFailed",
	"ExecutionsTimedOut",
	"ExecutionsAborted",
	"ExecutionThrottled",
}

// GetMetrics aggregates execution outcome metrics over the window.
func (t *StepFunctionsTools) GetMetrics(ctx context.Context, args map[string]any) string {
	arn := stringArg(args, "state_machine_arn")
	if arn == "" {
		return Failure("state_machine_arn is required", args)
	}
	window := windowArg(args)

	metrics := make(map[string]any, len(sfnMetricSpecs))
	for _, name := range sfnMetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/States"),
			MetricName: aws.String(name),
			Dimensions: []cwtypes.Dimension{{
				Name:  aws.String("StateMachineArn"),
				Value: aws.String(arn),
			}},
			StartTime:  aws.Time(window.Start),
			EndTime:    aws.Time(window.End),
			Period:     aws.Int32(window.MetricPeriod()),
			Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
		})
		if err != nil {
			return Failure(awsError(err), args)
		}
		metrics[strings.ToLower(name)] = summarizeDatapoints(out.Datapoints, cwtypes.StatisticSum)
	}

	return Success(args, map[string]any{"metrics": metrics})
}

// GetLogs reads recent events from the state machine's configured log group.
// Express workflows log there; standard workflows without logging return an
// error envelope explaining the gap.
func (t *StepFunctionsTools) GetLogs(ctx context.Context, args map[string]any) string {
	arn := stringArg(args, "state_machine_arn")
	if arn == "" {
		return Failure("state_machine_arn is required", args)
	}
	window := windowArg(args)

	desc, err := t.client.StepFunctions().DescribeStateMachine(ctx, &sfn.DescribeStateMachineInput{
		StateMachineArn: aws.String(arn),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	group := ""
	if desc.LoggingConfiguration != nil {
		for _, dest := range desc.LoggingConfiguration.Destinations {
			if dest.CloudWatchLogsLogGroup != nil {
				group = logGroupFromARN(aws.ToString(dest.CloudWatchLogsLogGroup.LogGroupArn))
			}
		}
	}
	if group == "" {
		return Failure("state machine has no CloudWatch logging configured", args)
	}

	out, err := t.client.CloudWatchLogs().FilterLogEvents(ctx, &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(group),
		StartTime:    aws.Int64(window.StartMillis()),
		EndTime:      aws.Int64(window.EndMillis()),
		Limit:        aws.Int32(50),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	events := make([]map[string]any, 0, len(out.Events))
	for _, ev := range out.Events {
		events = append(events, map[string]any{
			"timestamp": aws.ToInt64(ev.Timestamp),
			"message":   strings.TrimRight(aws.ToString(ev.Message), "\n"),
		})
	}

	return Success(args, map[string]any{
		"events":      events,
		"event_count": len(events),
		"log_group":   group,
	})
}
