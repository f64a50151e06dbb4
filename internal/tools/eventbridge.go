package tools

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// EventBusTools inspects EventBridge buses, rules and delivery metrics.
type EventBusTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewEventBusTools(client *cloudclient.Client, logger *zap.Logger) *EventBusTools {
	return &EventBusTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *EventBusTools) Register(reg *Registry) {
	reg.Set("get_event_bus_config",
		"Fetch an EventBridge bus and the rules attached to it",
		t.GetEventBusConfig)
	reg.Set("get_rule_details",
		"Fetch one EventBridge rule's pattern, state and targets",
		t.GetRuleDetails)
	reg.Set("get_event_bus_metrics",
		"Fetch invocation and failed-invocation metrics for an EventBridge rule",
		t.GetEventBusMetrics)
}

// GetEventBusConfig returns the bus plus a rule summary.
func (t *EventBusTools) GetEventBusConfig(ctx context.Context, args map[string]any) string {
	busName := stringArg(args, "event_bus_name")
	if busName == "" {
		busName = "default"
	}

	bus, err := t.client.EventBridge().DescribeEventBus(ctx, &eventbridge.DescribeEventBusInput{
		Name: aws.String(busName),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	rulesOut, err := t.client.EventBridge().ListRules(ctx, &eventbridge.ListRulesInput{
		EventBusName: aws.String(busName),
		Limit:        aws.Int32(50),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	rules := make([]map[string]any, 0, len(rulesOut.Rules))
	disabled := 0
	for _, r := range rulesOut.Rules {
		if string(r.State) == "DISABLED" {
			disabled++
		}
		rules = append(rules, map[string]any{
			"name":  aws.ToString(r.Name),
			"state": string(r.State),
		})
	}

	return Success(args, map[string]any{
		"config": map[string]any{
			"bus_name":       aws.ToString(bus.Name),
			"bus_arn":        aws.ToString(bus.Arn),
			"rule_count":     len(rules),
			"disabled_rules": disabled,
			"rules":          rules,
		},
	})
}

// GetRuleDetails returns one rule with its targets.
func (t *EventBusTools) GetRuleDetails(ctx context.Context, args map[string]any) string {
	ruleName := stringArg(args, "rule_name")
	if ruleName == "" {
		return Failure("rule_name is required", args)
	}
	busName := stringArg(args, "event_bus_name")
	if busName == "" {
		busName = "default"
	}

	rule, err := t.client.EventBridge().DescribeRule(ctx, &eventbridge.DescribeRuleInput{
		Name:         aws.String(ruleName),
		EventBusName: aws.String(busName),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	payload := map[string]any{
		"name":          aws.ToString(rule.Name),
		"arn":           aws.ToString(rule.Arn),
		"state":         string(rule.State),
		"event_pattern": aws.ToString(rule.EventPattern),
		"schedule":      aws.ToString(rule.ScheduleExpression),
		"role_arn":      aws.ToString(rule.RoleArn),
	}

	targetsOut, err := t.client.EventBridge().ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{
		Rule:         aws.String(ruleName),
		EventBusName: aws.String(busName),
	})
	if err == nil {
		targets := make([]map[string]any, 0, len(targetsOut.Targets))
		for _, tgt := range targetsOut.Targets {
			entry := map[string]any{
				"id":  aws.ToString(tgt.Id),
				"arn": aws.ToString(tgt.Arn),
			}
			if tgt.DeadLetterConfig != nil && tgt.DeadLetterConfig.Arn != nil {
				entry["dead_letter_arn"] = aws.ToString(tgt.DeadLetterConfig.Arn)
			}
			if tgt.RetryPolicy != nil {
				entry["maximum_retry_attempts"] = aws.ToInt32(tgt.RetryPolicy.MaximumRetryAttempts)
			}
			targets = append(targets, entry)
		}
		payload["targets"] = targets
	}

	return Success(args, map[string]any{"rule": payload})
}

var eventBusMetricSpecs = []string{"Invocations", "FailedInvocations", "DeadLetterInvocations", "TriggeredRules"}

// GetEventBusMetrics aggregates delivery metrics for one rule.
func (t *EventBusTools) GetEventBusMetrics(ctx context.Context, args map[string]any) string {
	ruleName := stringArg(args, "rule_name")
	if ruleName == "" {
		return Failure("rule_name is required", args)
	}
	window := windowArg(args)

	metrics := make(map[string]any, len(eventBusMetricSpecs))
	for _, name := range eventBusMetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/Events"),
			MetricName: aws.String(name),
			Dimensions: []cwtypes.Dimension{{
				Name:  aws.String("RuleName"),
				Value: aws.String(ruleName),
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
