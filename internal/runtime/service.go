package runtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/proto"

	breakerpkg "github.com/lernio/meshkit/internal/runtime/breaker"
	configpkg "github.com/lernio/meshkit/internal/runtime/config"
	eventbuspkg "github.com/lernio/meshkit/internal/runtime/eventbus"
	httpapipkg "github.com/lernio/meshkit/internal/runtime/httpapi"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	queuepkg "github.com/lernio/meshkit/internal/runtime/queue"
	registrypkg "github.com/lernio/meshkit/internal/runtime/registry"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
	transportpkg "github.com/lernio/meshkit/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the in-process defaults.
type ServiceDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	ErrorClassifier           ErrorClassifier

	// InstanceStore backs the service registry. Nil selects etcd when
	// endpoints are configured, otherwise the in-memory store.
	InstanceStore registrypkg.InstanceStore
	// MessageLog backs the durable queue. Nil selects the in-memory log.
	MessageLog queuepkg.MessageLog
	// SpanStore backs the tracer. Nil selects the in-memory store.
	SpanStore tracingpkg.SpanStore
	// HealthCheck probes registered instances. Nil selects the HTTP probe.
	HealthCheck registrypkg.CheckFunc
}

// Service wires the Watermill router, middleware chain, and the resilience
// collaborators: registry, circuit breakers, durable queue, tracer and
// event bus.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	tracer        *tracingpkg.Tracer
	registry      *registrypkg.Registry
	healthChecker *registrypkg.HealthChecker
	breakers      *breakerpkg.Manager
	queues        *queuepkg.Manager
	pool          *queuepkg.Pool
	bus           *eventbuspkg.Bus
	api           *httpapipkg.Server

	protoRegistry   map[string]func() proto.Message
	protoRegistryMu sync.RWMutex

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	httpCtx       context.Context
	httpCancel    context.CancelFunc

	errorClassifier ErrorClassifier
	resourceTracker *resourceTracker
	dlqMetrics      *DLQMetrics
}

// NewService constructs a Service for the supplied configuration. Register handlers
// on the returned Service before calling Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps ServiceDependencies) *Service {
	wmLogger := loggingpkg.NewWatermillAdapter(log)
	log.Info("Creating messaging service",
		loggingpkg.LogFields{
			"pubsub_system": conf.PubSubSystem,
			"config":        conf,
		})

	s := &Service{
		Conf:            conf,
		Logger:          log,
		protoRegistry:   make(map[string]func() proto.Message),
		resourceTracker: newResourceTracker(),
	}

	if deps.ErrorClassifier != nil {
		s.errorClassifier = deps.ErrorClassifier
	} else {
		s.errorClassifier = defaultErrorClassifier
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	transport, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		panic(err)
	}

	s.publisher = transport.Publisher
	s.subscriber = transport.Subscriber

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		panic(err)
	}

	s.router = router
	s.router.AddPlugin(plugin.SignalsHandler)

	s.buildCollaborators(deps)
	s.registerConfiguredMiddlewares(deps)

	return s
}

// buildCollaborators assembles the tracer, registry, breaker manager, queue
// manager, worker pool and event bus from the configuration.
func (s *Service) buildCollaborators(deps ServiceDependencies) {
	spanStore := deps.SpanStore
	if spanStore == nil {
		spanStore = tracingpkg.NewMemoryStore(s.Conf.TraceRetention)
	}
	tracerOpts := []tracingpkg.TracerOption{}
	if s.Conf.TraceSampleRate > 0 {
		tracerOpts = append(tracerOpts, tracingpkg.WithSampleRate(s.Conf.TraceSampleRate))
	}
	s.tracer = tracingpkg.NewTracer(spanStore, s.Logger, tracerOpts...)

	instanceStore := deps.InstanceStore
	if instanceStore == nil {
		if len(s.Conf.EtcdEndpoints) > 0 {
			store, err := registrypkg.NewEtcdStore(registrypkg.EtcdStoreConfig{
				Endpoints: s.Conf.EtcdEndpoints,
				Username:  s.Conf.EtcdUsername,
				Password:  s.Conf.EtcdPassword,
				TTL:       s.Conf.HeartbeatTTL,
			})
			if err != nil {
				panic(err)
			}
			instanceStore = store
		} else {
			instanceStore = registrypkg.NewMemoryStore()
		}
	}
	s.registry = registrypkg.New(instanceStore, s.Logger)
	s.healthChecker = registrypkg.NewHealthChecker(s.registry, deps.HealthCheck,
		s.Conf.HealthCheckInterval, s.Conf.HealthCheckRetries, s.Logger)

	s.breakers = breakerpkg.NewManager(breakerpkg.Settings{
		FailureThreshold:  s.Conf.BreakerFailureThreshold,
		RecoveryTimeout:   s.Conf.BreakerRecoveryTimeout,
		MonitoringPeriod:  s.Conf.BreakerMonitoringPeriod,
		MinimumThroughput: s.Conf.BreakerMinimumThroughput,
	}, s.Logger)

	messageLog := deps.MessageLog
	if messageLog == nil {
		messageLog = queuepkg.NewMemoryLog()
	}
	managerOpts := []queuepkg.ManagerOption{}
	if s.Conf.MetricsEnabled {
		s.dlqMetrics = NewDLQMetrics(prometheus.DefaultRegisterer)
		if err := s.dlqMetrics.Register(); err != nil {
			panic(err)
		}
		managerOpts = append(managerOpts, queuepkg.WithDeadLetterHooks(queuepkg.DeadLetterHooks{
			OnDeadLetter: func(queue string, retryCount int, age time.Duration) {
				s.dlqMetrics.RecordMessageToDLQ(queue, "queue_worker", retryCount, age)
			},
			OnReplay: func(queue string) { s.dlqMetrics.RecordMessageReplayed(queue) },
			OnPurge:  func(queue string, count int) { s.dlqMetrics.RecordMessagesPurged(queue, int64(count)) },
		}))
	}
	s.queues = queuepkg.NewManager(messageLog, s.Logger, s.Conf.QueueMaxRetries, managerOpts...)
	s.pool = queuepkg.NewPool(s.queues, s.Logger, s.Conf.QueueWorkers, s.Conf.QueueDefaultTimeout,
		queuepkg.WithTracer(s.tracer, s.Conf.ServiceName))
	s.bus = eventbuspkg.NewBus(s.queues, s.pool, s.Logger)

	if s.Conf.APIEnabled {
		apiConf := httpapipkg.Config{
			Port:               s.Conf.APIPort,
			CORSAllowedOrigins: s.Conf.APICORSAllowedOrigins,
			ServiceName:        s.Conf.ServiceName,
		}
		transportName := s.Conf.PubSubSystem
		if transportName == "" {
			transportName = "channel"
		}
		apiDeps := httpapipkg.Dependencies{
			Registry:      s.registry,
			Breakers:      s.breakers,
			Queues:        s.queues,
			Tracer:        s.tracer,
			Bus:           s.bus,
			Handlers:      func() any { return s.Handlers() },
			TransportName: transportName,
			TransportConn: s.publisher,
		}
		if s.dlqMetrics != nil {
			apiDeps.DLQStats = func() any { return s.dlqMetrics.GetSnapshot() }
		}
		s.api = httpapipkg.New(apiConf, apiDeps, s.Logger)
	}
}

// Start runs the worker pool, the registry maintenance loops and the
// Watermill router until the provided context is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Start(ctx)
		defer s.pool.Stop()
	}
	if s.healthChecker != nil {
		s.healthChecker.Start(ctx)
	}
	if s.registry != nil {
		s.registry.StartCleanup(ctx, s.Conf.CleanupInterval, s.staleAge())
	}
	if s.api != nil {
		s.api.Start()
	}
	s.startHTTPServers()
	return routerRun(s.router, ctx)
}

// Stop shuts down the HTTP servers started by Start. The router, worker pool
// and maintenance loops stop when the Start context is cancelled.
func (s *Service) Stop() {
	if s.httpCancel != nil {
		s.httpCancel()
	}
	if s.api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.api.Shutdown(shutdownCtx); err != nil {
			s.Logger.Error("failed to stop management API", err, nil)
		}
	}
}

// API exposes the management API server, or nil when APIEnabled is false.
func (s *Service) API() *httpapipkg.Server { return s.api }

// staleAge is how long an instance may miss heartbeats before the sweep
// removes it.
func (s *Service) staleAge() time.Duration {
	if s.Conf.HeartbeatTTL > 0 {
		return s.Conf.HeartbeatTTL
	}
	return 90 * time.Second
}

// Tracer exposes the distributed tracer.
func (s *Service) Tracer() *tracingpkg.Tracer { return s.tracer }

// Registry exposes the service registry.
func (s *Service) Registry() *registrypkg.Registry { return s.registry }

// HealthChecker exposes the registry health prober.
func (s *Service) HealthChecker() *registrypkg.HealthChecker { return s.healthChecker }

// Breakers exposes the circuit breaker manager.
func (s *Service) Breakers() *breakerpkg.Manager { return s.breakers }

// Queues exposes the durable queue manager.
func (s *Service) Queues() *queuepkg.Manager { return s.queues }

// WorkerPool exposes the queue worker pool for handler registration.
func (s *Service) WorkerPool() *queuepkg.Pool { return s.pool }

// EventBus exposes the broadcast event bus.
func (s *Service) EventBus() *eventbuspkg.Bus { return s.bus }

// DLQ exposes the dead letter metrics, or nil when metrics are disabled.
func (s *Service) DLQ() *DLQMetrics { return s.dlqMetrics }

// Handlers returns the registered handler infos with their live statistics.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return append([]*HandlerInfo(nil), s.handlers...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			panic(fmt.Sprintf("failed to register middleware %s: %v", name, err))
		}
	}
}

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return defaultErrorClassifier
	}
	return s.errorClassifier
}

func (s *Service) getResourceTracker() *resourceTracker {
	if s.resourceTracker == nil {
		s.resourceTracker = newResourceTracker()
	}
	return s.resourceTracker
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpCtx == nil {
		s.httpCtx, s.httpCancel = context.WithCancel(context.Background())
	}

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		srv := &http.Server{Addr: addr, Handler: mux}
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}(srv)
		go func(srv *http.Server) {
			<-s.httpCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}(srv)
	}
}
