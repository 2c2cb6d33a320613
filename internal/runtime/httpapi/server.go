// Package httpapi exposes the management HTTP surface of the runtime under
// /messaging: message queue administration, event publishing, service
// registry, circuit breaker controls and trace queries. Collaborating
// services use the in-process entry points; this API exists for
// cross-process and operational use.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	breakerpkg "github.com/lernio/meshkit/internal/runtime/breaker"
	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	eventbuspkg "github.com/lernio/meshkit/internal/runtime/eventbus"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	queuepkg "github.com/lernio/meshkit/internal/runtime/queue"
	registrypkg "github.com/lernio/meshkit/internal/runtime/registry"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
)

// Config tunes the management API server.
type Config struct {
	// Port the server listens on. Defaults to 8081.
	Port int
	// CORSAllowedOrigins for browser-based dashboards. Empty disables CORS.
	CORSAllowedOrigins []string
	// ServiceName is reported by the health endpoint.
	ServiceName string
}

// Dependencies are the runtime collaborators the API serves. All fields are
// required except Handlers and ProbeClient.
type Dependencies struct {
	Registry *registrypkg.Registry
	Breakers *breakerpkg.Manager
	Queues   *queuepkg.Manager
	Tracer   *tracingpkg.Tracer
	Bus      *eventbuspkg.Bus

	// Handlers returns a snapshot of the router's handler stats for
	// GET /messaging/handlers. The runtime service's Handlers method
	// satisfies it. Nil disables the endpoint.
	Handlers func() any

	// DLQStats returns a snapshot of the dead letter metrics for
	// GET /messaging/messages/dead-letter/metrics. Nil disables the
	// endpoint.
	DLQStats func() any

	// ProbeClient performs the health/service probe. Nil uses a default
	// client; the probe timeout comes from the request.
	ProbeClient *http.Client

	// TransportName and TransportConn surface the backing transport under
	// /messaging/transport. TransportConn is type-asserted against the
	// optional transport feature interfaces (dead letter store, backlog
	// inspection, capabilities). Nil disables the endpoints.
	TransportName string
	TransportConn any
}

// Server is the /messaging management API.
type Server struct {
	cfg    Config
	deps   Dependencies
	logger loggingpkg.ServiceLogger
	echo   *echo.Echo
}

// New builds the management API server. Panics when a required collaborator
// is missing, mirroring the runtime's construction style.
func New(cfg Config, deps Dependencies, logger loggingpkg.ServiceLogger) *Server {
	if deps.Registry == nil || deps.Breakers == nil || deps.Queues == nil || deps.Tracer == nil || deps.Bus == nil {
		panic("meshkit: httpapi requires registry, breakers, queues, tracer and bus")
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	if cfg.Port <= 0 {
		cfg.Port = 8081
	}
	if deps.ProbeClient == nil {
		deps.ProbeClient = http.DefaultClient
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	if len(cfg.CORSAllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.CORSAllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	s := &Server{cfg: cfg, deps: deps, logger: logger, echo: e}
	s.registerRoutes()
	return s
}

// Start listens on the configured port. Non-blocking; errors other than a
// clean shutdown are logged.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("Starting management API", loggingpkg.LogFields{"address": addr})
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Management API stopped", err, loggingpkg.LogFields{"address": addr})
		}
	}()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, mainly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) registerRoutes() {
	g := s.echo.Group("/messaging")

	g.POST("/messages", s.sendMessage)
	g.POST("/messages/bulk", s.sendMessageBulk)
	g.POST("/messages/schedule", s.scheduleMessage)
	g.GET("/messages/stats", s.queueStats)
	g.GET("/messages/dead-letter", s.listDeadLetters)
	g.POST("/messages/dead-letter/:id/replay", s.replayDeadLetter)
	g.DELETE("/messages/dead-letter", s.purgeDeadLetters)
	if s.deps.DLQStats != nil {
		g.GET("/messages/dead-letter/metrics", s.deadLetterStats)
	}
	g.GET("/messages/:id", s.messageStatus)
	g.POST("/messages/:id/retry", s.retryMessage)
	g.DELETE("/messages/:id", s.cancelMessage)
	g.POST("/queues/:queue/pause", s.pauseQueue)
	g.POST("/queues/:queue/resume", s.resumeQueue)
	g.DELETE("/queues/:queue", s.purgeQueue)

	if s.deps.TransportConn != nil {
		g.GET("/transport", s.transportInfo)
		g.GET("/transport/queues/:queue/pending", s.transportPendingCount)
		g.GET("/transport/dead-letter", s.transportListDeadLetters)
		g.POST("/transport/dead-letter/replay", s.transportReplayDeadLetters)
		g.POST("/transport/dead-letter/:id/replay", s.transportReplayDeadLetter)
		g.DELETE("/transport/dead-letter", s.transportPurgeDeadLetters)
	}

	g.POST("/events", s.publishEvent)
	g.POST("/events/bulk", s.publishEventBulk)
	g.GET("/events/stats", s.eventStats)

	g.POST("/services/register", s.registerService)
	g.GET("/services", s.listServices)
	g.GET("/services/metrics", s.serviceMetrics)
	g.GET("/services/:name", s.discoverService)
	g.GET("/services/:name/load-balance", s.loadBalanceService)
	g.DELETE("/services/:id", s.deregisterService)
	g.PUT("/services/:id/status", s.updateServiceStatus)
	g.PUT("/services/:id/heartbeat", s.heartbeatService)

	g.GET("/circuit-breakers", s.listBreakers)
	g.GET("/circuit-breakers/metrics", s.breakerMetrics)
	g.GET("/circuit-breakers/:service/:operation", s.breakerState)
	g.POST("/circuit-breakers/:service/:operation/reset", s.resetBreaker)
	g.POST("/circuit-breakers/:service/:operation/open", s.forceOpenBreaker)
	g.POST("/circuit-breakers/:service/:operation/close", s.forceCloseBreaker)

	g.GET("/traces/search", s.searchTraces)
	g.GET("/traces/metrics", s.traceMetrics)
	g.GET("/traces/:traceId", s.getTrace)
	g.GET("/traces/:traceId/tree", s.getTraceTree)

	g.GET("/health", s.health)
	g.GET("/health/service", s.probeService)

	if s.deps.Handlers != nil {
		g.GET("/handlers", s.handlerStats)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps runtime sentinels onto HTTP status codes: not-found
// sentinels become 404, state conflicts (paused queue, non-retryable
// message) 409, validation sentinels 400.
func (s *Server) writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errspkg.ErrMessageNotFound),
		errors.Is(err, errspkg.ErrInstanceNotFound),
		errors.Is(err, errspkg.ErrTraceNotFound),
		errors.Is(err, errspkg.ErrBreakerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errspkg.ErrQueuePaused),
		errors.Is(err, errspkg.ErrMessageNotRetryable):
		status = http.StatusConflict
	case errors.Is(err, errspkg.ErrTopicRequired),
		errors.Is(err, errspkg.ErrEventPayloadRequired):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("management API request failed", err, loggingpkg.LogFields{
			"path": c.Path(),
		})
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
