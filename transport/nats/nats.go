// Package nats provides the NATS Core transport. Delivery is at-most-once;
// use the jetstream transport when acknowledgements are needed.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lernio/meshkit/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

var capabilities = transport.Capabilities{
	Name:            TransportName,
	SupportsTracing: true,
	MaxMessageSize:  1 << 20, // server default max_payload
}

// PublisherFactory builds the NATS publisher. Tests swap it to inject
// fakes.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory builds the NATS subscriber.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the transport to the default registry. Importing the
// package does this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
}

// Build connects publisher and subscriber to the configured NATS server.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(nats.PublisherConfig{
		URL:       url,
		Marshaler: marshaler,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(nats.SubscriberConfig{
		URL:         url,
		Unmarshaler: marshaler,
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
