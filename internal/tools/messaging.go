package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// MessagingTools inspects SQS queues and SNS topics.
type MessagingTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewMessagingTools(client *cloudclient.Client, logger *zap.Logger) *MessagingTools {
	return &MessagingTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *MessagingTools) Register(reg *Registry) {
	reg.Set("get_queue_config",
		"Fetch an SQS queue's attributes: depth, visibility, redrive policy",
		t.GetQueueConfig)
	reg.Set("get_queue_metrics",
		"Fetch message age and traffic metrics for an SQS queue",
		t.GetQueueMetrics)
	reg.Set("get_topic_config",
		"Fetch an SNS topic's attributes and subscription summary",
		t.GetTopicConfig)
	reg.Set("get_topic_metrics",
		"Fetch publish and delivery-failure metrics for an SNS topic",
		t.GetTopicMetrics)
}

// GetQueueConfig returns queue attributes. The redrive policy is decoded so
// the collector can reason about dead-letter routing without re-parsing.
func (t *MessagingTools) GetQueueConfig(ctx context.Context, args map[string]any) string {
	name := stringArg(args, "queue_name")
	if name == "" {
		return Failure("queue_name is required", args)
	}

	urlOut, err := t.client.SQS().GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(name),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	attrsOut, err := t.client.SQS().GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       urlOut.QueueUrl,
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	attrs := attrsOut.Attributes
	config := map[string]any{
		"queue_name":                   name,
		"queue_url":                    aws.ToString(urlOut.QueueUrl),
		"queue_arn":                    attrs["QueueArn"],
		"approximate_messages":         attrs["ApproximateNumberOfMessages"],
		"approximate_messages_delayed": attrs["ApproximateNumberOfMessagesDelayed"],
		"messages_not_visible":         attrs["ApproximateNumberOfMessagesNotVisible"],
		"visibility_timeout":           attrs["VisibilityTimeout"],
		"message_retention_period":     attrs["MessageRetentionPeriod"],
	}
	if redrive, ok := attrs["RedrivePolicy"]; ok {
		var policy struct {
			DeadLetterTargetArn string `json:"deadLetterTargetArn"`
			MaxReceiveCount     any    `json:"maxReceiveCount"`
		}
		if json.Unmarshal([]byte(redrive), &policy) == nil {
			config["dead_letter_target"] = policy.DeadLetterTargetArn
			config["max_receive_count"] = policy.MaxReceiveCount
		}
	} else {
		config["dead_letter_target"] = ""
	}

	return Success(args, map[string]any{"config": config})
}

var sqsMetricSpecs = []struct {
	name string
	stat cwtypes.Statistic
}{
	{"ApproximateNumberOfMessagesVisible", cwtypes.StatisticMaximum},
	{"ApproximateAgeOfOldestMessage", cwtypes.StatisticMaximum},
	{"NumberOfMessagesSent", cwtypes.StatisticSum},
	{"NumberOfMessagesReceived", cwtypes.StatisticSum},
}

// GetQueueMetrics aggregates queue depth, message age and traffic.
func (t *MessagingTools) GetQueueMetrics(ctx context.Context, args map[string]any) string {
	name := stringArg(args, "queue_name")
	if name == "" {
		return Failure("queue_name is required", args)
	}
	window := windowArg(args)

	metrics := make(map[string]any, len(sqsMetricSpecs))
	for _, spec := range sqsMetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/SQS"),
			MetricName: aws.String(spec.name),
			Dimensions: []cwtypes.Dimension{{
				Name:  aws.String("QueueName"),
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

	return Success(args, map[string]any{"metrics": metrics})
}

// GetTopicConfig returns topic attributes and subscription protocols.
func (t *MessagingTools) GetTopicConfig(ctx context.Context, args map[string]any) string {
	topicArn := stringArg(args, "topic_arn")
	if topicArn == "" {
		return Failure("topic_arn is required", args)
	}

	out, err := t.client.SNS().GetTopicAttributes(ctx, &sns.GetTopicAttributesInput{
		TopicArn: aws.String(topicArn),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	attrs := out.Attributes
	config := map[string]any{
		"topic_arn":                 topicArn,
		"display_name":              attrs["DisplayName"],
		"subscriptions_confirmed":   attrs["SubscriptionsConfirmed"],
		"subscriptions_pending":     attrs["SubscriptionsPending"],
		"effective_delivery_policy": attrs["EffectiveDeliveryPolicy"] != "",
		"kms_encrypted":             attrs["KmsMasterKeyId"] != "",
	}

	subs, err := t.client.SNS().ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
		TopicArn: aws.String(topicArn),
	})
	if err == nil {
		protocols := map[string]int{}
		for _, sub := range subs.Subscriptions {
			protocols[aws.ToString(sub.Protocol)]++
		}
		config["subscription_protocols"] = protocols
	}

	return Success(args, map[string]any{"config": config})
}

var snsMetricSpecs = []string{
	"NumberOfMessagesPublished",
	"NumberOfNotificationsDelivered",
	"NumberOfNotificationsFailed",
}

// GetTopicMetrics aggregates publish and delivery counters.
func (t *MessagingTools) GetTopicMetrics(ctx context.Context, args map[string]any) string {
	topicArn := stringArg(args, "topic_arn")
	if topicArn == "" {
		return Failure("topic_arn is required", args)
	}
	window := windowArg(args)

	parts := strings.Split(topicArn, ":")
	topicName := parts[len(parts)-1]

	metrics := make(map[string]any, len(snsMetricSpecs))
	for _, name := range snsMetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/SNS"),
			MetricName: aws.String(name),
			Dimensions: []cwtypes.Dimension{{
				Name:  aws.String("TopicName"),
				Value: aws.String(topicName),
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
