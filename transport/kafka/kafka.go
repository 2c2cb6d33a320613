// Package kafka provides the Apache Kafka transport.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lernio/meshkit/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

var capabilities = transport.Capabilities{
	Name:                 TransportName,
	SupportsOrdering:     true,
	SupportsTracing:      true,
	SupportsBatching:     true,
	SupportsAck:          true,
	SupportsPartitioning: true,
	MaxMessageSize:       1 << 20, // broker default message.max.bytes
}

// PublisherFactory builds the Kafka publisher. Tests swap it to inject
// fakes.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory builds the Kafka subscriber.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the transport to the default registry. Importing the
// package does this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
}

// Build connects a publisher and a consumer-group subscriber to the
// configured brokers.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()

	publisher, err := PublisherFactory(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(kafka.SubscriberConfig{
		Brokers:       brokers,
		Unmarshaler:   kafka.DefaultMarshaler{},
		ConsumerGroup: cfg.GetKafkaConsumerGroup(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// Capabilities returns the capability set this transport registers.
func Capabilities() transport.Capabilities {
	return capabilities
}
