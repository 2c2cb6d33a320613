/*
Package runtime wires Watermill-based message processing together with the
resilience collaborators meshkit adds on top: service registry, circuit
breakers, a durable queue, distributed tracing and an event bus.

# Service

The Service struct is the orchestrator. NewService builds the configured
transport (Kafka, RabbitMQ, AWS, NATS, JetStream, Postgres, HTTP or in-process
channels), a Watermill router with the standard middleware chain, and the
collaborators, then exposes them through a typed registration API and the
management HTTP server under /messaging.

# Handlers

Applications register typed handlers rather than raw Watermill ones.
RegisterJSONHandler decodes payloads with the JSON codec; RegisterProtoHandler
uses protojson and records the consumed and emitted schemas so the management
API can report them. Both wrap the handler so per-handler statistics (latency
percentiles, throughput, error categories, backlog hints) are collected.

# Middleware

Every delivery passes through correlation-id stamping, consumer-span tracing,
optional payload logging, Prometheus metrics, retry with exponential backoff,
a poison queue for messages the retry chain gives up on, and panic recovery.

# Sub-packages

  - breaker: circuit breakers guarding downstream calls
  - config: service configuration with validation
  - errors: sentinel errors shared across the module
  - eventbus: broadcast publish/subscribe over the durable queue
  - handlers: typed handler contexts and codec wrappers
  - httpapi: management HTTP API
  - ids: ULID and instance-id generation
  - jsoncodec: JSON encoding used on the wire
  - logging: ServiceLogger interface and slog/zap/watermill adapters
  - metadata: message header utilities
  - queue: durable message queue and worker pool
  - registry: service instance registry and discovery
  - tracing: distributed tracing with queryable span storage
  - transport: pub/sub transport construction

# Example

	cfg := &meshkit.Config{
		PubSubSystem:   "kafka",
		KafkaBrokers:   []string{"localhost:9092"},
		MetricsEnabled: true,
		MetricsPort:    9090,
	}

	svc := meshkit.NewService(cfg, logger, ctx, meshkit.ServiceDependencies{})

	meshkit.RegisterProtoHandler(svc, meshkit.ProtoHandlerRegistration[*pb.OrderCreated]{
		Name:         "order-processor",
		ConsumeQueue: "orders.created",
		PublishQueue: "orders.processed",
		Handler:      processOrder,
	})

	svc.Start(ctx)
*/
package runtime
