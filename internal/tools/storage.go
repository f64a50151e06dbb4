package tools

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/tareqmamari/cloud-rca-engine/internal/cloudclient"
)

// StorageTools inspects S3 bucket configuration and request metrics.
type StorageTools struct {
	client *cloudclient.Client
	logger *zap.Logger
}

func NewStorageTools(client *cloudclient.Client, logger *zap.Logger) *StorageTools {
	return &StorageTools{client: client, logger: logger}
}

// Register adds the family's tools to the registry.
func (t *StorageTools) Register(reg *Registry) {
	reg.Set("get_bucket_config",
		"Fetch an S3 bucket's region, versioning, encryption and public-access configuration",
		t.GetBucketConfig)
	reg.Set("get_bucket_metrics",
		"Fetch request and error metrics for an S3 bucket",
		t.GetBucketMetrics)
	reg.Set("check_bucket_access",
		"Verify the investigation credentials can reach an S3 bucket",
		t.CheckBucketAccess)
}

// GetBucketConfig returns the bucket configuration relevant to RCA. Each
// sub-lookup degrades independently: a missing permission on one call still
// leaves the rest of the document usable.
func (t *StorageTools) GetBucketConfig(ctx context.Context, args map[string]any) string {
	bucket := stringArg(args, "bucket_name")
	if bucket == "" {
		return Failure("bucket_name is required", args)
	}

	config := map[string]any{"bucket_name": bucket}

	if loc, err := t.client.S3().GetBucketLocation(ctx, &s3.GetBucketLocationInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		return Failure(awsError(err), args)
	} else {
		region := string(loc.LocationConstraint)
		if region == "" {
			region = "us-east-1"
		}
		config["region"] = region
	}

	if ver, err := t.client.S3().GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{
		Bucket: aws.String(bucket),
	}); err == nil {
		config["versioning"] = string(ver.Status)
	}

	if enc, err := t.client.S3().GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{
		Bucket: aws.String(bucket),
	}); err == nil && enc.ServerSideEncryptionConfiguration != nil {
		for _, rule := range enc.ServerSideEncryptionConfiguration.Rules {
			if rule.ApplyServerSideEncryptionByDefault != nil {
				config["encryption"] = string(rule.ApplyServerSideEncryptionByDefault.SSEAlgorithm)
			}
		}
	} else if err != nil {
		config["encryption"] = "none_or_denied"
	}

	if pab, err := t.client.S3().GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{
		Bucket: aws.String(bucket),
	}); err == nil && pab.PublicAccessBlockConfiguration != nil {
		c := pab.PublicAccessBlockConfiguration
		config["public_access_blocked"] = aws.ToBool(c.BlockPublicAcls) &&
			aws.ToBool(c.BlockPublicPolicy) &&
			aws.ToBool(c.IgnorePublicAcls) &&
			aws.ToBool(c.RestrictPublicBuckets)
	}

	return Success(args, map[string]any{"config": config})
}

var s3MetricSpecs = []string{"AllRequests", "4xxErrors", "5xxErrors"}

// GetBucketMetrics aggregates request metrics. These require a request
// metrics filter on the bucket; without one the series are simply empty.
func (t *StorageTools) GetBucketMetrics(ctx context.Context, args map[string]any) string {
	bucket := stringArg(args, "bucket_name")
	if bucket == "" {
		return Failure("bucket_name is required", args)
	}
	window := windowArg(args)

	filterID := stringArg(args, "filter_id")
	if filterID == "" {
		filterID = "EntireBucket"
	}

	metrics := make(map[string]any, len(s3MetricSpecs))
	for _, name := range s3MetricSpecs {
		out, err := t.client.CloudWatch().GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
			Namespace:  aws.String("AWS/S3"),
			MetricName: aws.String(name),
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String("BucketName"), Value: aws.String(bucket)},
				{Name: aws.String("FilterId"), Value: aws.String(filterID)},
			},
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

// CheckBucketAccess issues a HeadBucket with the investigation credentials.
// An access failure here is itself evidence for permission hypotheses.
func (t *StorageTools) CheckBucketAccess(ctx context.Context, args map[string]any) string {
	bucket := stringArg(args, "bucket_name")
	if bucket == "" {
		return Failure("bucket_name is required", args)
	}

	_, err := t.client.S3().HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		return Success(args, map[string]any{
			"accessible": false,
			"reason":     awsError(err),
		})
	}
	return Success(args, map[string]any{"accessible": true})
}
