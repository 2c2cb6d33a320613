package runtime

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
	idspkg "github.com/lernio/meshkit/internal/runtime/ids"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
)

// MiddlewareBuilder constructs a middleware against a concrete service,
// giving it access to the service's config, publisher and tracer.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration names a middleware and supplies it either
// ready-made or via a builder. A builder returning a nil middleware
// means the middleware opted out (for example metrics when disabled).
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RegisterMiddleware attaches one middleware registration to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	mw := cfg.Middleware
	if mw == nil {
		if cfg.Builder == nil {
			return errors.New("middleware registration requires Middleware or Builder")
		}
		var err error
		if mw, err = cfg.Builder(s); err != nil {
			return err
		}
	}
	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

// DefaultMiddlewares is the chain NewService installs unless disabled:
// correlation, debug logging, tracing, metrics, retry, poison queue and
// panic recovery, in that order.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RetryMiddleware(RetryMiddlewareConfig{}),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware stamps a correlation ID onto messages that
// arrive without one, so downstream hops always have something to join
// log lines on.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return ensureCorrelationID, nil
		},
	}
}

func ensureCorrelationID(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(handlerpkg.MetadataKeyCorrelationID) == "" {
			msg.Metadata.Set(handlerpkg.MetadataKeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

// LogMessagesMiddleware logs every handled message with payload and
// metadata at debug level. A nil logger falls back to the service's.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errspkg.ErrLoggerRequired
			}
			return debugLogMessages(l), nil
		},
	}
}

func debugLogMessages(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

// TracerMiddleware opens a consumer span around handler execution. The
// parent context is extracted from the message metadata when present,
// so consumer spans join the publisher's trace.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return s.consumeSpanMiddleware(), nil
		},
	}
}

func (s *Service) consumeSpanMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if s.tracer == nil {
				return h(msg)
			}

			ctx := tracingpkg.Extract(msg.Context(), metadatapkg.FromWatermill(msg.Metadata))
			ctx, span := s.tracer.StartSpan(ctx, s.Conf.ServiceName, "message.process",
				tracingpkg.WithKind(trace.SpanKindConsumer),
				tracingpkg.WithTag("message.uuid", msg.UUID))
			if topic := message.SubscribeTopicFromCtx(ctx); topic != "" {
				span.SetTag("queue", topic)
			}
			msg.SetContext(ctx)

			msgs, err := h(msg)
			s.tracer.Finish(span, err)
			return msgs, err
		}
	}
}

// MetricsMiddleware exposes watermill router metrics through Prometheus
// and serves them on the configured metrics port. It opts out when
// metrics are disabled in the config.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}

			builder := metrics.NewPrometheusMetricsBuilder(
				prometheus.DefaultRegisterer,
				"meshkit",
				s.Conf.PubSubSystem,
			)
			builder.AddPrometheusRouterMetrics(s.router)

			if s.Conf.MetricsPort > 0 {
				s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", promhttp.Handler())
			}

			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// RetryMiddlewareConfig tunes the exponential backoff retry chain.
// Zero values take the defaults: 5 retries from 1s up to 16s.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// RetryIf filters which errors are worth retrying. Nil retries all.
	RetryIf func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// RetryMiddleware retries failed handlers with exponential backoff.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	normalized := cfg.withDefaults()
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return newRetryMiddleware(normalized), nil
		},
	}
}

func newRetryMiddleware(cfg RetryMiddlewareConfig) message.HandlerMiddleware {
	cfg = cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if cfg.RetryIf != nil {
				return cfg.RetryIf(params.Err)
			}
			return true
		},
	}.Middleware
}

// PoisonQueueMiddleware diverts messages whose error matches the filter
// to the configured poison queue instead of retrying them forever. A
// nil filter diverts only UnprocessableEventError failures.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			f := filter
			if f == nil {
				f = isUnprocessable
			}
			return s.poisonQueueMiddleware(f)
		},
	}
}

func isUnprocessable(err error) bool {
	var unprocessable *UnprocessableEventError
	return errors.As(err, &unprocessable)
}

func (s *Service) poisonQueueMiddleware(filter func(err error) bool) (message.HandlerMiddleware, error) {
	if s.Conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if s.publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}

	decide := filter
	if s.dlqMetrics != nil {
		poisonQueue := s.Conf.PoisonQueue
		decide = func(err error) bool {
			poisoned := filter(err)
			if poisoned {
				s.dlqMetrics.RecordMessageToDLQ(poisonQueue, "router", 0, 0)
			}
			return poisoned
		}
	}

	return middleware.PoisonQueueWithFilter(s.publisher, s.Conf.PoisonQueue, decide)
}

// RecovererMiddleware turns handler panics into errors, keeping one bad
// message from killing the router.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}
