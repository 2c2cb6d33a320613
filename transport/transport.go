// Package transport defines the contract between the meshkit runtime and
// the pluggable message transports. Each backend lives in its own
// sub-package and registers a Builder under its PubSubSystem name.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport is the publisher/subscriber pair a Builder produces.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder constructs a transport from configuration. Builders must not
// start consuming; the runtime subscribes when the router starts.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config exposes the configuration values transports read. It is an
// interface so a sub-package only sees the getters, not the whole
// config package.
type Config interface {
	// GetPubSubSystem returns the transport type name.
	GetPubSubSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// PostgreSQL
	GetPostgresURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
