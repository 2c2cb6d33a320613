package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
)

type traceSummary struct {
	TraceID string             `json:"trace_id"`
	Spans   []*tracingpkg.Span `json:"spans"`
}

func (s *Server) searchTraces(c echo.Context) error {
	q := tracingpkg.SearchQuery{
		Service:   c.QueryParam("service"),
		Operation: c.QueryParam("operation"),
		Status:    tracingpkg.SpanStatus(c.QueryParam("status")),
		Limit:     intQueryParam(c, "limit", 100),
	}
	if raw := c.QueryParam("min_duration_ms"); raw != "" {
		ms := intQueryParam(c, "min_duration_ms", 0)
		q.MinDuration = time.Duration(ms) * time.Millisecond
	}
	if raw := c.QueryParam("max_duration_ms"); raw != "" {
		ms := intQueryParam(c, "max_duration_ms", 0)
		q.MaxDuration = time.Duration(ms) * time.Millisecond
	}
	if raw := c.QueryParam("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "since must be RFC3339: "+err.Error())
		}
		q.Since = since
	}
	if raw := c.QueryParam("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return badRequest(c, "until must be RFC3339: "+err.Error())
		}
		q.Until = until
	}
	// Tag equality filters arrive as repeated tag=key:value parameters.
	for _, raw := range c.QueryParams()["tag"] {
		key, value, ok := strings.Cut(raw, ":")
		if !ok || key == "" {
			return badRequest(c, "tag must be key:value, got "+raw)
		}
		if q.Tags == nil {
			q.Tags = map[string]string{}
		}
		q.Tags[key] = value
	}

	spans, err := s.deps.Tracer.SearchTraces(c.Request().Context(), q)
	if err != nil {
		return s.writeError(c, err)
	}

	// Group spans per trace, newest trace first.
	order := []string{}
	grouped := map[string][]*tracingpkg.Span{}
	for _, span := range spans {
		if _, seen := grouped[span.TraceID]; !seen {
			order = append(order, span.TraceID)
		}
		grouped[span.TraceID] = append(grouped[span.TraceID], span)
	}
	result := make([]traceSummary, 0, len(order))
	for _, traceID := range order {
		result = append(result, traceSummary{TraceID: traceID, Spans: grouped[traceID]})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) traceMetrics(c echo.Context) error {
	metrics, err := s.deps.Tracer.Metrics(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, metrics)
}

func (s *Server) getTrace(c echo.Context) error {
	spans, err := s.deps.Tracer.Trace(c.Request().Context(), c.Param("traceId"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, traceSummary{TraceID: c.Param("traceId"), Spans: spans})
}

func (s *Server) getTraceTree(c echo.Context) error {
	tree, err := s.deps.Tracer.TraceTree(c.Request().Context(), c.Param("traceId"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, tree)
}
