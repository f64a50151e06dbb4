package tools

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// DatabaseTools inspects DynamoDB table configuration and throttling metrics.
type DatabaseTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewDatabaseTools(client *cloudclient.Client, logger *zap.Logger) *DatabaseTools {
	return &DatabaseTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *DatabaseTools) Register(reg *Registry) {
	reg.Set("get_table_config",
		"Fetch a DynamoDB table's status, capacity mode, indexes and size",
		t.GetTableConfig)
	reg.Set("get_table_metrics",
		"Fetch throttle, error and consumed-capacity metrics for a DynamoDB table",
		t.GetTableMetrics)
}

// GetTableConfig returns the table description relevant to RCA.
func (t *DatabaseTools) GetTableConfig(ctx context.Context, args map[string]any) string {
	table := stringArg(args, "table_name")
	if table == "" {
		return Failure("table_name is required", args)
	}

	out, err := t.client.DynamoDB().DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	})
	if err != nil {
		return Failure(awsError(err), args)
	}

	desc := out.Table
	config := map[string]any{
		"table_name":   aws.ToString(desc.TableName),
		"table_arn":    aws.ToString(desc.TableArn),
		"table_status": string(desc.TableStatus),
		"item_count":   aws.ToInt64(desc.ItemCount),
		"size_bytes":   aws.ToInt64(desc.TableSizeBytes),
		"gsi_count":    len(desc.GlobalSecondaryIndexes),
	}
	if desc.BillingModeSummary != nil {
		config["billing_mode"] = string(desc.BillingModeSummary.BillingMode)
	} else {
		config["billing_mode"] = "PROVISIONED"
	}
	if desc.ProvisionedThroughput != nil {
		config["read_capacity_units"] = aws.ToInt64(desc.ProvisionedThroughput.ReadCapacityUnits)
		config["write_capacity_units"] = aws.ToInt64(desc.ProvisionedThroughput.WriteCapacityUnits)
	}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		if gsi.IndexStatus != "ACTIVE" {
			config["inactive_index"] = aws.ToString(gsi.IndexName)
			config["inactive_index_status"] = string(gsi.IndexStatus)
			break
		}
	}

	return Success(args, map[string]any{"config": config})
}

var dynamoMetricSpecs = []struct {
	name string
	stat cwtypes.Statistic
}{
	{"ThrottledRequests", cwtypes.StatisticSum},
	{"ReadThrottleEvents", cwtypes.StatisticSum},
	{"WriteThrottleEvents", cwtypes.StatisticSum},
	{"SystemErrors", cwtypes.StatisticSum},
	{"SuccessfulRequestLatency", cwtypes.StatisticAverage},
}

// GetTableMetrics aggregates throttle and error metrics over the window.
func (t *DatabaseTools) GetTableMetrics(ctx context.Context, args map[string]any) string {
	table := stringArg(args, "table_name")
	if table == "" {
		return Failure("table_name is required", args)
	}
	window := windowArg(args)

	metrics := make(map[string]any, len(dynamoMetricSpecs))
	for _, spec := range dynamoMetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/DynamoDB"),
			MetricName: aws.String(spec.name),
			Dimensions: []cwtypes.Dimension{{
				Name:  aws.String("TableName"),
				Value: aws.String(table),
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
