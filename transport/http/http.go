// Package http provides a transport that publishes messages as HTTP
// requests and consumes them through an embedded HTTP server. Useful for
// webhook-style integrations; delivery guarantees are whatever HTTP gives.
package http

import (
	"context"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lernio/meshkit/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

var capabilities = transport.Capabilities{
	Name:            TransportName,
	SupportsTracing: true,
}

// PublisherFactory builds the HTTP publisher. Tests swap it to inject
// fakes.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

// SubscriberFactory builds the HTTP subscriber.
var SubscriberFactory = func(addr string, config http.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return http.NewSubscriber(addr, config, logger)
}

func init() {
	Register()
}

// Register adds the transport to the default registry. Importing the
// package does this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
}

// Build creates the HTTP transport. Outgoing messages POST to the
// publisher URL with the topic appended; the subscriber listens on the
// configured server address.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	publisherURL := cfg.GetHTTPPublisherURL()

	publisher, err := PublisherFactory(http.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(cfg.GetHTTPServerAddress(), http.SubscriberConfig{
		UnmarshalMessageFunc: http.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	// The watermill HTTP subscriber serves requests only once its server
	// runs; start it here so subscriptions work as soon as Build returns.
	if s, ok := subscriber.(*http.Subscriber); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil {
				logger.Error("HTTP subscriber server stopped", err, nil)
			}
		}()
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}

// Capabilities returns the capability set this transport registers.
func Capabilities() transport.Capabilities {
	return capabilities
}
