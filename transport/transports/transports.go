// Package transports registers every built-in transport with the
// default registry. Blank-import it from programs that want all
// backends available without naming each one.
package transports

import (
	_ "github.com/lernio/meshkit/transport/aws"
	_ "github.com/lernio/meshkit/transport/channel"
	_ "github.com/lernio/meshkit/transport/http"
	_ "github.com/lernio/meshkit/transport/jetstream"
	_ "github.com/lernio/meshkit/transport/kafka"
	_ "github.com/lernio/meshkit/transport/nats"
	_ "github.com/lernio/meshkit/transport/postgres"
	_ "github.com/lernio/meshkit/transport/rabbitmq"
)
