// Package cloudclient acquires scoped AWS credentials for one investigation
// and vends the per-service clients used by the diagnostic tool families.
package cloudclient

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/health"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/xray"
	"go.uber.org/zap"

	rcaerrors "github.com/tareqmamari/cloud-rca-engine/internal/errors"
	"github.com/tareqmamari/cloud-rca-engine/internal/security"
)

const roleSessionName = "cloud-rca-engine"

// Options carry the per-investigation credential scope. A request-level
// role ARN overrides the configured default; the external ID is forwarded
// to the assume-role call when present.
type Options struct {
	Region     string
	RoleARN    string
	ExternalID string
}

// Client holds one investigation's credential scope and service clients.
// All clients share one credentials provider; the region is immutable.
type Client struct {
	awsCfg  aws.Config
	region  string
	roleARN string
	account string
	logger  *zap.Logger

	xray           *xray.Client
	lambda         *lambda.Client
	apigateway     *apigateway.Client
	sfn            *sfn.Client
	s3             *s3.Client
	sqs            *sqs.Client
	sns            *sns.Client
	eventbridge    *eventbridge.Client
	dynamodb       *dynamodb.Client
	ec2            *ec2.Client
	iam            *iam.Client
	cloudwatchlogs *cloudwatchlogs.Client
	cloudwatch     *cloudwatch.Client
	health         *health.Client
	cloudtrail     *cloudtrail.Client
}

// New acquires credentials for the investigation scope and validates them
// with a caller-identity check, so role-assumption failures surface here
// rather than midway through evidence collection.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Client, error) {
	if opts.Region == "" {
		return nil, rcaerrors.NewInvalidInput("region is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, rcaerrors.NewCredentialError(fmt.Sprintf("failed to load AWS configuration: %v", err))
	}

	if opts.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, opts.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = roleSessionName
			if opts.ExternalID != "" {
				o.ExternalID = aws.String(opts.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(provider)

		logger.Info("Assuming role for investigation",
			zap.String("role_arn", security.MaskRoleARN(opts.RoleARN)),
			zap.Bool("external_id_set", opts.ExternalID != ""))
	}

	identity, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, rcaerrors.NewCredentialError(security.MaskSensitiveData(err.Error()))
	}

	c := &Client{
		awsCfg:  awsCfg,
		region:  opts.Region,
		roleARN: opts.RoleARN,
		account: aws.ToString(identity.Account),
		logger:  logger,
	}
	c.buildServiceClients()

	logger.Info("Cloud client ready",
		zap.String("region", c.region),
		zap.String("account", c.account))

	return c, nil
}

// Service clients are plain structs over the shared config; building them
// all up front keeps the accessors allocation-free and race-free.
func (c *Client) buildServiceClients() {
	c.xray = xray.NewFromConfig(c.awsCfg)
	c.lambda = lambda.NewFromConfig(c.awsCfg)
	c.apigateway = apigateway.NewFromConfig(c.awsCfg)
	c.sfn = sfn.NewFromConfig(c.awsCfg)
	c.s3 = s3.NewFromConfig(c.awsCfg)
	c.sqs = sqs.NewFromConfig(c.awsCfg)
	c.sns = sns.NewFromConfig(c.awsCfg)
	c.eventbridge = eventbridge.NewFromConfig(c.awsCfg)
	c.dynamodb = dynamodb.NewFromConfig(c.awsCfg)
	c.ec2 = ec2.NewFromConfig(c.awsCfg)
	c.iam = iam.NewFromConfig(c.awsCfg)
	c.cloudwatchlogs = cloudwatchlogs.NewFromConfig(c.awsCfg)
	c.cloudwatch = cloudwatch.NewFromConfig(c.awsCfg)
	c.health = health.NewFromConfig(c.awsCfg)
	c.cloudtrail = cloudtrail.NewFromConfig(c.awsCfg)
}

// Region returns the immutable region this client operates in.
func (c *Client) Region() string { return c.region }

// Account returns the resolved account ID from the caller-identity check.
func (c *Client) Account() string { return c.account }

// RoleARN returns the assumed role, empty when running on default credentials.
func (c *Client) RoleARN() string { return c.roleARN }

// Config exposes the underlying AWS config for callers that need a service
// client outside the standard set.
func (c *Client) Config() aws.Config { return c.awsCfg }

func (c *Client) XRay() *xray.Client                     { return c.xray }
func (c *Client) Lambda() *lambda.Client                 { return c.lambda }
func (c *Client) APIGateway() *apigateway.Client         { return c.apigateway }
func (c *Client) StepFunctions() *sfn.Client             { return c.sfn }
func (c *Client) S3() *s3.Client                         { return c.s3 }
func (c *Client) SQS() *sqs.Client                       { return c.sqs }
func (c *Client) SNS() *sns.Client                       { return c.sns }
func (c *Client) EventBridge() *eventbridge.Client       { return c.eventbridge }
func (c *Client) DynamoDB() *dynamodb.Client             { return c.dynamodb }
func (c *Client) EC2() *ec2.Client                       { return c.ec2 }
func (c *Client) IAM() *iam.Client                       { return c.iam }
func (c *Client) CloudWatchLogs() *cloudwatchlogs.Client { return c.cloudwatchlogs }
func (c *Client) CloudWatch() *cloudwatch.Client         { return c.cloudwatch }
func (c *Client) Health() *health.Client                 { return c.health }
func (c *Client) CloudTrail() *cloudtrail.Client         { return c.cloudtrail }
