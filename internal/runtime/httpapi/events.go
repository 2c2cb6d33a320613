package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	queuepkg "github.com/lernio/meshkit/internal/runtime/queue"
)

type publishEventRequest struct {
	Type     string               `json:"type"`
	Source   string               `json:"source"`
	Payload  json.RawMessage      `json:"payload"`
	Payloads []json.RawMessage    `json:"payloads"`
	Metadata metadatapkg.Metadata `json:"metadata"`
	Priority queuepkg.Priority    `json:"priority"`
}

func (r publishEventRequest) options() queuepkg.SendOptions {
	return queuepkg.SendOptions{
		Priority: r.Priority,
		Metadata: r.Metadata,
	}
}

func (s *Server) publishEvent(c echo.Context) error {
	req := new(publishEventRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Type == "" {
		return badRequest(c, "event type is required")
	}

	event, err := s.deps.Bus.Publish(c.Request().Context(), req.Type, req.Source, req.Payload, req.options())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, event)
}

func (s *Server) publishEventBulk(c echo.Context) error {
	req := new(publishEventRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Type == "" {
		return badRequest(c, "event type is required")
	}
	if len(req.Payloads) == 0 {
		return badRequest(c, "payloads are required")
	}

	payloads := make([][]byte, len(req.Payloads))
	for i, p := range req.Payloads {
		payloads[i] = p
	}
	events, err := s.deps.Bus.PublishBulk(c.Request().Context(), req.Type, req.Source, payloads, req.options())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, events)
}

type eventTypeStats struct {
	EventType string         `json:"event_type"`
	Stats     queuepkg.Stats `json:"stats"`
}

func (s *Server) eventStats(c echo.Context) error {
	ctx := c.Request().Context()
	if eventType := c.QueryParam("type"); eventType != "" {
		stats, err := s.deps.Bus.Stats(ctx, eventType)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(http.StatusOK, eventTypeStats{EventType: eventType, Stats: stats})
	}

	types, err := s.deps.Bus.EventTypes(ctx)
	if err != nil {
		return s.writeError(c, err)
	}
	all := make([]eventTypeStats, 0, len(types))
	for _, eventType := range types {
		stats, err := s.deps.Bus.Stats(ctx, eventType)
		if err != nil {
			return s.writeError(c, err)
		}
		all = append(all, eventTypeStats{EventType: eventType, Stats: stats})
	}
	return c.JSON(http.StatusOK, all)
}
