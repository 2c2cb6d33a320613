package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	roottransport "github.com/lernio/meshkit/transport"
)

// transportInfoResponse describes the backing transport: its registered
// capability set plus which of the optional feature interfaces the live
// connection implements.
type transportInfoResponse struct {
	Name         string                     `json:"name"`
	Capabilities roottransport.Capabilities `json:"capabilities"`
	Features     transportFeatures          `json:"features"`
}

type transportFeatures struct {
	DeadLetterStore    bool `json:"dead_letter_store"`
	DeadLetterListing  bool `json:"dead_letter_listing"`
	BacklogInspection  bool `json:"backlog_inspection"`
	DelayedPublishing  bool `json:"delayed_publishing"`
	ReportsOwnFeatures bool `json:"reports_own_capabilities"`
}

func (s *Server) transportInfo(c echo.Context) error {
	conn := s.deps.TransportConn
	caps := roottransport.GetCapabilities(s.deps.TransportName)
	resp := transportInfoResponse{Name: s.deps.TransportName, Capabilities: caps}

	if provider, ok := conn.(roottransport.CapabilitiesProvider); ok {
		resp.Capabilities = provider.Capabilities()
		resp.Features.ReportsOwnFeatures = true
	}
	_, resp.Features.DeadLetterStore = conn.(roottransport.DLQManager)
	_, resp.Features.DeadLetterListing = conn.(roottransport.DLQLister)
	_, resp.Features.BacklogInspection = conn.(roottransport.QueueIntrospector)
	_, resp.Features.DelayedPublishing = conn.(roottransport.DelayedPublisher)

	return c.JSON(http.StatusOK, resp)
}

type pendingCountResponse struct {
	Queue   string `json:"queue"`
	Pending int64  `json:"pending"`
}

func (s *Server) transportPendingCount(c echo.Context) error {
	introspector, ok := s.deps.TransportConn.(roottransport.QueueIntrospector)
	if !ok {
		return notSupported(c, "backlog inspection")
	}
	queue := c.Param("queue")
	pending, err := introspector.GetPendingCount(queue)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, pendingCountResponse{Queue: queue, Pending: pending})
}

type transportDLQResponse struct {
	Topic    string                     `json:"topic"`
	Total    int64                      `json:"total"`
	Messages []roottransport.DLQMessage `json:"messages"`
}

func (s *Server) transportListDeadLetters(c echo.Context) error {
	lister, ok := s.deps.TransportConn.(roottransport.DLQLister)
	if !ok {
		return notSupported(c, "dead letter listing")
	}
	topic := c.QueryParam("topic")
	if topic == "" {
		return badRequest(c, "topic is required")
	}

	limit := intQueryParam(c, "limit", 50)
	offset := intQueryParam(c, "offset", 0)
	msgs, err := lister.ListDLQMessages(topic, limit, offset)
	if err != nil {
		return s.writeError(c, err)
	}

	resp := transportDLQResponse{Topic: topic, Total: int64(len(msgs)), Messages: msgs}
	if manager, ok := s.deps.TransportConn.(roottransport.DLQManager); ok {
		if total, err := manager.GetDLQCount(topic); err == nil {
			resp.Total = total
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type transportReplayResponse struct {
	Topic    string `json:"topic,omitempty"`
	ID       int64  `json:"id,omitempty"`
	Replayed int64  `json:"replayed"`
}

func (s *Server) transportReplayDeadLetters(c echo.Context) error {
	manager, ok := s.deps.TransportConn.(roottransport.DLQManager)
	if !ok {
		return notSupported(c, "dead letter replay")
	}
	topic := c.QueryParam("topic")
	if topic == "" {
		return badRequest(c, "topic is required")
	}
	replayed, err := manager.ReplayAllDLQ(topic)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, transportReplayResponse{Topic: topic, Replayed: replayed})
}

func (s *Server) transportReplayDeadLetter(c echo.Context) error {
	manager, ok := s.deps.TransportConn.(roottransport.DLQManager)
	if !ok {
		return notSupported(c, "dead letter replay")
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "id must be an integer")
	}
	if err := manager.ReplayDLQMessage(id); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, transportReplayResponse{ID: id, Replayed: 1})
}

type transportPurgeResponse struct {
	Topic  string `json:"topic"`
	Purged int64  `json:"purged"`
}

func (s *Server) transportPurgeDeadLetters(c echo.Context) error {
	manager, ok := s.deps.TransportConn.(roottransport.DLQManager)
	if !ok {
		return notSupported(c, "dead letter purge")
	}
	topic := c.QueryParam("topic")
	if topic == "" {
		return badRequest(c, "topic is required")
	}
	purged, err := manager.PurgeDLQ(topic)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, transportPurgeResponse{Topic: topic, Purged: purged})
}

func notSupported(c echo.Context, feature string) error {
	return c.JSON(http.StatusNotImplemented, errorResponse{
		Error: "transport does not support " + feature,
	})
}
