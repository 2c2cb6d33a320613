// Package aws provides an SNS/SQS transport. Topics publish to SNS and
// every subscription gets an SQS queue subscribed to the topic, so each
// consumer group sees its own copy of the stream.
//
// Pointing GetAWSEndpoint at a LocalStack instance switches all clients
// to that endpoint, which is how the integration environment runs.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/lernio/meshkit/transport"
)

// TransportName is the name this transport registers under.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

var capabilities = transport.Capabilities{
	Name:              TransportName,
	SupportsDelay:     true,
	SupportsNativeDLQ: true,
	SupportsOrdering:  true,
	SupportsTracing:   true,
	SupportsBatching:  true,
	SupportsAck:       true,
	SupportsNack:      true,
	MaxMessageSize:    262144, // SNS/SQS hard limit of 256 KiB
	MaxDelayDuration:  900000, // SQS caps DelaySeconds at 15 minutes
}

// DefaultConfigLoader resolves the SDK configuration. Tests swap it to
// avoid touching the real credential chain.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory builds the SNS topic ARN resolver.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory builds the SNS publisher.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory builds the SNS-over-SQS subscriber.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	Register()
}

// Register adds the transport to the default registry. Importing the
// package does this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
}

// Build loads the SDK configuration and returns an SNS publisher paired
// with an SQS-backed subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg, logger)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("load AWS config: %w", err)
	}

	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	logger.Info("Building AWS transport", watermill.LogFields{
		"account_id":      accountID,
		"region":          region,
		"custom_endpoint": hasCustomEndpoint(awsCfg),
	})

	topicResolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("create SNS topic resolver: %w", err)
	}

	publisher, err := buildPublisher(awsCfg, topicResolver, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := buildSubscriber(awsCfg, topicResolver, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities reports what the SNS/SQS transport supports.
func Capabilities() transport.Capabilities {
	return capabilities
}

func loadAWSConfig(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	region := cfg.GetAWSRegion()
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if accessKey, secretKey := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); accessKey != "" && secretKey != "" {
		logger.Debug("Using static AWS credentials", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(accessKey, secretKey)))
	}
	if endpoint := cfg.GetAWSEndpoint(); endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return nil, err
	}

	// Some loader overrides ignore the options, so pin the region the
	// caller asked for.
	if region != "" {
		awsCfg.Region = region
	}

	return &awsCfg, nil
}

func buildPublisher(awsCfg *aws.Config, topicResolver sns.TopicResolver, logger watermill.LoggerAdapter) (message.Publisher, error) {
	publisherConfig := sns.PublisherConfig{
		AWSConfig:     *awsCfg,
		TopicResolver: topicResolver,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
		OptFns:        snsEndpointOverride(awsCfg),
	}

	pub, err := PublisherFactory(publisherConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create SNS publisher: %w", err)
	}
	return pub, nil
}

func buildSubscriber(awsCfg *aws.Config, topicResolver sns.TopicResolver, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	subscriberConfig := sns.SubscriberConfig{
		AWSConfig:            *awsCfg,
		OptFns:               snsEndpointOverride(awsCfg),
		TopicResolver:        topicResolver,
		GenerateSqsQueueName: queueNameFromTopicArn,
	}

	sub, err := SubscriberFactory(
		subscriberConfig,
		sqs.SubscriberConfig{
			AWSConfig: *awsCfg,
			OptFns:    sqsEndpointOverride(awsCfg),
		},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("create SQS subscriber: %w", err)
	}
	return sub, nil
}

// queueNameFromTopicArn names each subscription queue after its SNS
// topic, so the queue lands next to the topic in consoles and tooling.
func queueNameFromTopicArn(ctx context.Context, snsTopic sns.TopicArn) (string, error) {
	topic, err := sns.ExtractTopicNameFromTopicArn(snsTopic)
	if err != nil {
		return "", err
	}
	return string(topic), nil
}

func snsEndpointOverride(awsCfg *aws.Config) []func(*amazonsns.Options) {
	endpoint := customEndpointURI(awsCfg)
	if endpoint == nil {
		return nil
	}
	return []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *endpoint},
		}),
	}
}

func sqsEndpointOverride(awsCfg *aws.Config) []func(*amazonsqs.Options) {
	endpoint := customEndpointURI(awsCfg)
	if endpoint == nil {
		return nil
	}
	return []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *endpoint},
		}),
	}
}

func customEndpointURI(awsCfg *aws.Config) *url.URL {
	if !hasCustomEndpoint(awsCfg) {
		return nil
	}
	parsed, err := url.Parse(*awsCfg.BaseEndpoint)
	if err != nil {
		return nil
	}
	return parsed
}

// resolveAccountAndRegion cleans the configured account ID and falls
// back to the LocalStack default account when a custom endpoint is set
// and the configured ID is missing or malformed.
func resolveAccountAndRegion(cfg transport.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}

	if cfg.GetAWSEndpoint() != "" && len(accountID) != awsAccountIDLength {
		if accountID != "" {
			logger.Info("AWS account ID malformed, using LocalStack default", watermill.LogFields{
				"account_id": accountID,
			})
		}
		accountID = localstackAccountID
	}

	return accountID, region
}

func hasCustomEndpoint(cfg *aws.Config) bool {
	return cfg != nil && cfg.BaseEndpoint != nil && *cfg.BaseEndpoint != ""
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
