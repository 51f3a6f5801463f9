package aws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/metrics"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

const (
	backendName = "cloudwatch"

	maxDescribeLimit = 50
	maxStreamNames   = 100
)

// logsAPI is the subset of the CloudWatch Logs client used here.
type logsAPI interface {
	DescribeLogStreams(ctx context.Context, in *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	FilterLogEvents(ctx context.Context, in *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

type identityAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

type Connector struct {
	region        string
	filterTimeout time.Duration
	logs          logsAPI
	sts           identityAPI
	logger        *slog.Logger
}

type Config struct {
	Region          string
	Profile         string
	AssumeRoleARN   string
	ExternalID      string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	FilterTimeout   time.Duration
}

func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := awshttp.NewBuildableClient().
		WithTimeout(cfg.ReadTimeout).
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = cfg.ConnectTimeout
		})

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(1),
		config.WithHTTPClient(httpClient),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN, func(o *stscreds.AssumeRoleOptions) {
			if cfg.ExternalID != "" {
				o.ExternalID = aws.String(cfg.ExternalID)
			}
		})
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	return &Connector{
		region:        cfg.Region,
		filterTimeout: cfg.FilterTimeout,
		logs:          cloudwatchlogs.NewFromConfig(awsCfg),
		sts:           sts.NewFromConfig(awsCfg),
		logger:        logger,
	}, nil
}

func (c *Connector) Name() string {
	return backendName
}

func (c *Connector) Region() string {
	return c.region
}

// Validate resolves the caller identity to prove the credential chain works.
func (c *Connector) Validate(ctx context.Context) error {
	identity, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	metrics.ObserveBackendCall(backendName, "get_caller_identity", err)
	if err != nil {
		return classify(err, "sts:GetCallerIdentity")
	}
	c.logger.Debug("aws identity resolved",
		"account", aws.ToString(identity.Account),
		"arn", aws.ToString(identity.Arn))
	return nil
}

func (c *Connector) Close() error {
	return nil
}

func (c *Connector) DescribeLogStreams(ctx context.Context, logGroup string, limit int) ([]connectors.LogStream, error) {
	limit = max(1, min(limit, maxDescribeLimit))
	out, err := c.logs.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(logGroup),
		OrderBy:      types.OrderByLastEventTime,
		Descending:   aws.Bool(true),
		Limit:        aws.Int32(int32(limit)),
	})
	metrics.ObserveBackendCall(backendName, "describe_log_streams", err)
	if err != nil {
		return nil, classify(err, logGroup)
	}

	streams := make([]connectors.LogStream, 0, len(out.LogStreams))
	for _, s := range out.LogStreams {
		stream := connectors.LogStream{Name: aws.ToString(s.LogStreamName)}
		if s.LastEventTimestamp != nil {
			t := time.UnixMilli(*s.LastEventTimestamp).UTC()
			stream.LastEventTimestamp = &t
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

func (c *Connector) FilterLogEvents(ctx context.Context, in connectors.FilterEventsInput) (*connectors.FilterEventsOutput, error) {
	if c.filterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.filterTimeout)
		defer cancel()
	}

	req := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(in.LogGroup),
	}
	if len(in.LogStreams) > 0 {
		streams := in.LogStreams
		if len(streams) > maxStreamNames {
			c.logger.Warn("truncating log stream list", "requested", len(streams), "max", maxStreamNames)
			streams = streams[:maxStreamNames]
		}
		req.LogStreamNames = streams
	}
	if in.FilterPattern != "" {
		req.FilterPattern = aws.String(in.FilterPattern)
	}
	if in.StartTime != nil {
		req.StartTime = aws.Int64(in.StartTime.UnixMilli())
	}
	if in.EndTime != nil {
		req.EndTime = aws.Int64(in.EndTime.UnixMilli())
	}
	if in.Limit > 0 {
		req.Limit = aws.Int32(int32(in.Limit))
	}
	if in.NextToken != "" {
		req.NextToken = aws.String(in.NextToken)
	}

	out, err := c.logs.FilterLogEvents(ctx, req)
	metrics.ObserveBackendCall(backendName, "filter_log_events", err)
	if err != nil {
		return nil, classify(err, in.LogGroup)
	}

	events := make([]models.RawLogEvent, 0, len(out.Events))
	for _, e := range out.Events {
		events = append(events, models.RawLogEvent{
			EventID:       aws.ToString(e.EventId),
			LogStreamName: aws.ToString(e.LogStreamName),
			Message:       aws.ToString(e.Message),
			Timestamp:     aws.ToInt64(e.Timestamp),
			IngestionTime: aws.ToInt64(e.IngestionTime),
		})
	}
	return &connectors.FilterEventsOutput{
		Events:    events,
		NextToken: aws.ToString(out.NextToken),
	}, nil
}

var _ connectors.LogsConnector = (*Connector)(nil)
