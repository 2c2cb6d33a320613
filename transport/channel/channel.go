// Package channel provides an in-process transport backed by Go channels,
// for tests and single-binary deployments.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/lernio/meshkit/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

var capabilities = transport.Capabilities{
	Name:             TransportName,
	SupportsOrdering: true,
	SupportsAck:      true,
	SupportsNack:     true,
}

// Factory builds the shared pub/sub pair. Tests swap it to inject fakes.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register adds the transport to the default registry under both the
// canonical name and the "gochannel" alias. Importing the package does
// this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
	transport.RegisterWithCapabilities("gochannel", Build, capabilities)
}

// Build creates the in-process transport. Publisher and subscriber share
// one gochannel instance, so messages never leave the process.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}

// Capabilities returns the capability set this transport registers.
func Capabilities() transport.Capabilities {
	return capabilities
}
