package meshkit

import (
	runtimepkg "github.com/lernio/meshkit/internal/runtime"
	breakerpkg "github.com/lernio/meshkit/internal/runtime/breaker"
	configpkg "github.com/lernio/meshkit/internal/runtime/config"
	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	eventbuspkg "github.com/lernio/meshkit/internal/runtime/eventbus"
	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
	httpapipkg "github.com/lernio/meshkit/internal/runtime/httpapi"
	idspkg "github.com/lernio/meshkit/internal/runtime/ids"
	jsoncodec "github.com/lernio/meshkit/internal/runtime/jsoncodec"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	queuepkg "github.com/lernio/meshkit/internal/runtime/queue"
	registrypkg "github.com/lernio/meshkit/internal/runtime/registry"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
	transportpkg "github.com/lernio/meshkit/internal/runtime/transport"
	newtransport "github.com/lernio/meshkit/transport"
	"google.golang.org/protobuf/proto"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	MessageHandlerRegistration                = runtimepkg.MessageHandlerRegistration
	JSONHandlerRegistration[T any, O any]     = handlerpkg.JSONHandlerRegistration[T, O]
	JSONMessageContext[T any]                 = handlerpkg.JSONMessageContext[T]
	JSONMessageOutput[T any]                  = handlerpkg.JSONMessageOutput[T]
	JSONMessageHandler[T any, O any]          = handlerpkg.JSONMessageHandler[T, O]
	ProtoHandlerRegistration[T proto.Message] = handlerpkg.ProtoHandlerRegistration[T]
	ProtoHandlerOption                        = handlerpkg.ProtoHandlerOption
	ProtoMessageContext[T proto.Message]      = handlerpkg.ProtoMessageContext[T]
	ProtoMessageOutput                        = handlerpkg.ProtoMessageOutput
	ProtoMessageHandler[T proto.Message]      = handlerpkg.ProtoMessageHandler[T]
	MessageContextBase                        = handlerpkg.MessageContextBase

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	Producer = runtimepkg.Producer

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	UnprocessableEventError = runtimepkg.UnprocessableEventError

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	ConfigValidationError = errspkg.ConfigValidationError

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Dead letter metrics
	DLQMetrics         = runtimepkg.DLQMetrics
	DLQTopicMetrics    = runtimepkg.DLQTopicMetrics
	DLQMetricsSnapshot = runtimepkg.DLQMetricsSnapshot

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Service registry and discovery
	ServiceInstance  = registrypkg.ServiceInstance
	InstanceStatus   = registrypkg.InstanceStatus
	InstanceStore    = registrypkg.InstanceStore
	Registry         = registrypkg.Registry
	DiscoverOptions  = registrypkg.DiscoverOptions
	Strategy         = registrypkg.Strategy
	HealthChecker    = registrypkg.HealthChecker
	CheckFunc        = registrypkg.CheckFunc
	SelfRegistration = registrypkg.SelfRegistration
	EtcdStoreConfig  = registrypkg.EtcdStoreConfig

	// Circuit breakers
	BreakerManager    = breakerpkg.Manager
	BreakerSettings   = breakerpkg.Settings
	BreakerState      = breakerpkg.State
	BreakerMetrics    = breakerpkg.Metrics
	BreakerKey        = breakerpkg.Key
	BreakerRecord     = breakerpkg.Record
	BreakerStateStore = breakerpkg.StateStore

	// Durable message queue
	QueueManager  = queuepkg.Manager
	QueueMessage  = queuepkg.Message
	MessageStatus = queuepkg.MessageStatus
	Priority      = queuepkg.Priority
	SendOptions   = queuepkg.SendOptions
	QueueStats    = queuepkg.Stats
	MessageLog    = queuepkg.MessageLog
	WorkerPool    = queuepkg.Pool
	QueueHandler  = queuepkg.Handler

	// Distributed tracing
	Tracer         = tracingpkg.Tracer
	Span           = tracingpkg.Span
	SpanLog        = tracingpkg.SpanLog
	SpanStatus     = tracingpkg.SpanStatus
	SpanStore      = tracingpkg.SpanStore
	SpanSearch     = tracingpkg.SearchQuery
	TraceNode      = tracingpkg.TraceNode
	TracingMetrics = tracingpkg.Metrics

	// Event bus
	EventBus     = eventbuspkg.Bus
	Event        = eventbuspkg.Event
	EventHandler = eventbuspkg.EventHandler

	// Management HTTP API
	APIServer       = httpapipkg.Server
	APIConfig       = httpapipkg.Config
	APIDependencies = httpapipkg.Dependencies

	// Transport plumbing
	Capabilities          = newtransport.Capabilities
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportDLQManager   = newtransport.DLQManager
	TransportDLQLister    = newtransport.DLQLister
	TransportDLQMessage   = newtransport.DLQMessage
	TransportIntrospector = newtransport.QueueIntrospector
	TransportDelayedPub   = newtransport.DelayedPublisher
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.Load

	RegisterMessageHandler  = runtimepkg.RegisterMessageHandler
	WithPublishMessageTypes = handlerpkg.WithPublishMessageTypes

	NewMessageFromProto = runtimepkg.NewMessageFromProto
	PublishProto        = runtimepkg.PublishProto

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	RetryMiddleware         = runtimepkg.RetryMiddleware
	PoisonQueueMiddleware   = runtimepkg.PoisonQueueMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Job lifecycle hooks
	JobHooksMiddleware = runtimepkg.JobHooksMiddleware
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks

	// Dead letter metrics
	NewDLQMetrics = runtimepkg.NewDLQMetrics

	// Service registry and discovery
	NewRegistry            = registrypkg.New
	NewMemoryInstanceStore = registrypkg.NewMemoryStore
	NewEtcdInstanceStore   = registrypkg.NewEtcdStore
	NewHealthChecker       = registrypkg.NewHealthChecker
	HTTPCheck              = registrypkg.HTTPCheck
	NewSelfRegistration    = registrypkg.NewSelfRegistration

	// Circuit breakers
	NewBreakerManager     = breakerpkg.NewManager
	NewBreakerMemoryStore = breakerpkg.NewMemoryStore
	WithBreakerStore      = breakerpkg.WithStore

	// Durable message queue
	NewQueueManager  = queuepkg.NewManager
	NewMemoryLog     = queuepkg.NewMemoryLog
	NewWorkerPool    = queuepkg.NewPool
	WithPoolTracer   = queuepkg.WithTracer
	WithPollInterval = queuepkg.WithPollInterval

	// Distributed tracing
	NewTracer           = tracingpkg.NewTracer
	NewMemorySpanStore  = tracingpkg.NewMemoryStore
	WithSampleRate      = tracingpkg.WithSampleRate
	WithSpanKind        = tracingpkg.WithKind
	WithSpanTag         = tracingpkg.WithTag
	WithSpanAttributes  = tracingpkg.WithAttributes
	SpanFromContext     = tracingpkg.SpanFromContext
	InjectTraceContext  = tracingpkg.Inject
	ExtractTraceContext = tracingpkg.Extract

	// Event bus
	NewEventBus = eventbuspkg.NewBus
	EventTopic  = eventbuspkg.Topic

	// Management HTTP API
	NewAPIServer = httpapipkg.New

	// Transport plumbing
	GetCapabilities                   = newtransport.GetCapabilities
	DefaultTransportRegistry          = newtransport.DefaultRegistry
	NewTransportRegistry              = newtransport.NewRegistry
	RegisterTransport                 = newtransport.Register
	RegisterTransportWithCapabilities = newtransport.RegisterWithCapabilities
	BuildTransport                    = newtransport.Build
	DefaultTransportFactory           = transportpkg.DefaultFactory

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrPayloadTypeRequired  = errspkg.ErrPayloadTypeRequired
	ErrPayloadPointerNeeded = errspkg.ErrPayloadPointerNeeded
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrEventPayloadRequired = errspkg.ErrEventPayloadRequired
	ErrCircuitOpen          = errspkg.ErrCircuitOpen
	ErrMessageNotFound      = errspkg.ErrMessageNotFound
	ErrMessageNotRetryable  = errspkg.ErrMessageNotRetryable
	ErrInstanceNotFound     = errspkg.ErrInstanceNotFound
	ErrTraceNotFound        = errspkg.ErrTraceNotFound
	ErrBreakerNotFound      = errspkg.ErrBreakerNotFound
	ErrQueuePaused          = errspkg.ErrQueuePaused

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID       = idspkg.CreateULID
	CreateInstanceID = idspkg.CreateInstanceID
)

// Instance health states.
const (
	StatusHealthy     = registrypkg.StatusHealthy
	StatusDegraded    = registrypkg.StatusDegraded
	StatusUnhealthy   = registrypkg.StatusUnhealthy
	StatusMaintenance = registrypkg.StatusMaintenance
)

// Load balancing strategies.
const (
	StrategyRoundRobin       = registrypkg.StrategyRoundRobin
	StrategyRandom           = registrypkg.StrategyRandom
	StrategyLeastConnections = registrypkg.StrategyLeastConnections
)

// Circuit breaker states.
const (
	BreakerClosed   = breakerpkg.StateClosed
	BreakerOpen     = breakerpkg.StateOpen
	BreakerHalfOpen = breakerpkg.StateHalfOpen
)

// Message lifecycle states.
const (
	MessagePending    = queuepkg.StatusPending
	MessageScheduled  = queuepkg.StatusScheduled
	MessageProcessing = queuepkg.StatusProcessing
	MessageCompleted  = queuepkg.StatusCompleted
	MessageFailed     = queuepkg.StatusFailed
	MessageDeadLetter = queuepkg.StatusDeadLetter
)

// MessageCancelReason is the LastError recorded on an operator-cancelled
// message; cancelled messages stay in the FAILED state.
const MessageCancelReason = queuepkg.CancelReason

// Message priorities.
const (
	PriorityLow      = queuepkg.PriorityLow
	PriorityNormal   = queuepkg.PriorityNormal
	PriorityHigh     = queuepkg.PriorityHigh
	PriorityCritical = queuepkg.PriorityCritical
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = handlerpkg.MetadataKeyCorrelationID
	MetadataKeyEventSchema   = handlerpkg.MetadataKeyEventSchema
	MetadataKeyQueueDepth    = handlerpkg.MetadataKeyQueueDepth
	MetadataKeyEnqueuedAt    = handlerpkg.MetadataKeyEnqueuedAt
	MetadataKeyMessageID     = handlerpkg.MetadataKeyMessageID
	MetadataKeyPriority      = handlerpkg.MetadataKeyPriority
	MetadataKeyEventType     = handlerpkg.MetadataKeyEventType
	MetadataKeyEventSource   = handlerpkg.MetadataKeyEventSource
	MetadataKeyRetryCount    = handlerpkg.MetadataKeyRetryCount
	MetadataKeyTraceID       = handlerpkg.MetadataKeyTraceID
	MetadataKeySpanID        = handlerpkg.MetadataKeySpanID
	MetadataKeyTimeoutMs     = handlerpkg.MetadataKeyTimeoutMs
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

func RegisterJSONHandler[T any, O any](svc *Service, cfg JSONHandlerRegistration[T, O]) error {
	return runtimepkg.RegisterJSONHandler(svc, cfg)
}

func RegisterProtoHandler[T proto.Message](svc *Service, cfg ProtoHandlerRegistration[T]) error {
	return runtimepkg.RegisterProtoHandler(svc, cfg)
}

// NewProtoMessage instantiates a zero-value protobuf message for the provided generic type.
func NewProtoMessage[T proto.Message]() (T, error) {
	return runtimepkg.NewProtoMessage[T]()
}

// MustProtoMessage instantiates the protobuf message and panics if the type cannot be created.
func MustProtoMessage[T proto.Message]() T {
	return runtimepkg.MustProtoMessage[T]()
}
