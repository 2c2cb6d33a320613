// Package meshkit is a resilient communication runtime for services that talk
// to each other over message queues and HTTP. It combines a Watermill-based
// message router with a service registry, per-operation circuit breakers, a
// durable prioritized message queue with retries and a dead letter queue,
// lightweight distributed tracing, and a publish/subscribe event bus. A
// management HTTP API built on Echo exposes all of it under /messaging.
//
// Service hosts the router and exposes typed helpers: RegisterProtoHandler and
// RegisterJSONHandler take care of marshaling, metadata cloning, and trace
// context propagation, while PublishProto lets HTTP/RPC handlers emit events
// without touching low-level Watermill APIs. A minimal setup fills Config,
// creates a Service, registers handlers, and calls Start.
//
// # Transports
//
// Meshkit supports 8 message transports out of the box:
//   - channel: In-memory Go channels for testing
//   - kafka: High-throughput streaming with consumer groups
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: Core NATS messaging
//   - jetstream: NATS JetStream with persistence
//   - http: Request/response messaging
//   - postgres: PostgreSQL queue with SKIP LOCKED and DLQ
//
// # Resilience
//
// Each Service keeps a Registry of known instances with health checking,
// heartbeats, and pluggable load balancing strategies; a BreakerManager that
// trips per service/operation pair after repeated failures; and a QueueManager
// whose worker pool retries failed messages with exponential backoff before
// moving them to the dead letter queue. The Tracer records spans across
// process boundaries via message metadata.
//
// # Middleware
//
// The default middleware chain includes correlation ID injection, structured
// logging, tracing, Prometheus metrics, retry with exponential backoff, poison
// queue forwarding, and panic recovery. Custom middleware can be added via
// ServiceDependencies.Middlewares. JobHooksMiddleware provides OnJobStart,
// OnJobDone, and OnJobError callbacks for logging, metrics, and alerting
// around handler execution.
package meshkit
