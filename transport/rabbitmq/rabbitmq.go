// Package rabbitmq provides the RabbitMQ/AMQP transport. Publisher and
// subscriber share one connection with automatic reconnect.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lernio/meshkit/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

var capabilities = transport.Capabilities{
	Name:              TransportName,
	SupportsDelay:     true,
	SupportsNativeDLQ: true,
	SupportsOrdering:  true,
	SupportsTracing:   true,
	SupportsAck:       true,
	SupportsNack:      true,
	SupportsPriority:  true,
}

// ConnectionFactory opens the shared AMQP connection. Tests swap it to
// inject fakes.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory builds a publisher on an existing connection.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory builds a subscriber on an existing connection.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register adds the transport to the default registry. Importing the
// package does this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
}

// Build opens one reconnecting connection and derives a durable pub/sub
// pair from it. Queue names follow the topic names.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	amqpConfig := amqp.NewDurablePubSubConfig(url, amqp.GenerateQueueNameTopicName)

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// Capabilities returns the capability set this transport registers.
func Capabilities() transport.Capabilities {
	return capabilities
}
