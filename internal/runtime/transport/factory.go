package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/lernio/meshkit/internal/runtime/config"
	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	newtransport "github.com/lernio/meshkit/transport"

	// Backend packages register themselves on import.
	_ "github.com/lernio/meshkit/transport/aws"
	_ "github.com/lernio/meshkit/transport/channel"
	_ "github.com/lernio/meshkit/transport/http"
	_ "github.com/lernio/meshkit/transport/jetstream"
	_ "github.com/lernio/meshkit/transport/kafka"
	_ "github.com/lernio/meshkit/transport/nats"
	_ "github.com/lernio/meshkit/transport/postgres"
	_ "github.com/lernio/meshkit/transport/rabbitmq"
)

// Transport is the publisher and subscriber pair a factory produces.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Factory builds the message transport a service runs on. The runtime
// uses DefaultFactory unless the caller injects its own, which is how
// tests plug in stub transports.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory resolves transports through the registry, keyed by the
// config's PubSubSystem.
func DefaultFactory() Factory {
	return registryFactory{}
}

type registryFactory struct{}

func (registryFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}

	t, err := newtransport.Build(ctx, conf, logger)
	if err != nil {
		return Transport{}, err
	}

	return Transport{
		Publisher:  t.Publisher,
		Subscriber: t.Subscriber,
	}, nil
}
