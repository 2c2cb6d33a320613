package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	queuepkg "github.com/lernio/meshkit/internal/runtime/queue"
)

type sendMessageRequest struct {
	Queue      string               `json:"queue"`
	Payload    json.RawMessage      `json:"payload"`
	Priority   queuepkg.Priority    `json:"priority"`
	MaxRetries int                  `json:"max_retries"`
	Metadata   metadatapkg.Metadata `json:"metadata"`
	DelayMs    int64                `json:"delay_ms"`
	At         time.Time            `json:"scheduled_at"`
}

func (r sendMessageRequest) options() queuepkg.SendOptions {
	return queuepkg.SendOptions{
		Priority:   r.Priority,
		MaxRetries: r.MaxRetries,
		Metadata:   r.Metadata,
		Delay:      time.Duration(r.DelayMs) * time.Millisecond,
		At:         r.At,
	}
}

func (s *Server) sendMessage(c echo.Context) error {
	req := new(sendMessageRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Queue == "" {
		return badRequest(c, "queue is required")
	}

	msg, err := s.deps.Queues.Send(c.Request().Context(), req.Queue, req.Payload, req.options())
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

type sendBulkRequest struct {
	Queue      string               `json:"queue"`
	Payloads   []json.RawMessage    `json:"payloads"`
	Priority   queuepkg.Priority    `json:"priority"`
	MaxRetries int                  `json:"max_retries"`
	Metadata   metadatapkg.Metadata `json:"metadata"`
	DelayMs    int64                `json:"delay_ms"`
}

func (s *Server) sendMessageBulk(c echo.Context) error {
	req := new(sendBulkRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Queue == "" {
		return badRequest(c, "queue is required")
	}
	if len(req.Payloads) == 0 {
		return badRequest(c, "payloads are required")
	}

	payloads := make([][]byte, len(req.Payloads))
	for i, p := range req.Payloads {
		payloads[i] = p
	}
	opts := queuepkg.SendOptions{
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
		Metadata:   req.Metadata,
		Delay:      time.Duration(req.DelayMs) * time.Millisecond,
	}
	msgs, err := s.deps.Queues.SendBulk(c.Request().Context(), req.Queue, payloads, opts)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, msgs)
}

func (s *Server) scheduleMessage(c echo.Context) error {
	req := new(sendMessageRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Queue == "" {
		return badRequest(c, "queue is required")
	}
	if req.At.IsZero() && req.DelayMs <= 0 {
		return badRequest(c, "scheduled_at or delay_ms is required")
	}

	at := req.At
	if at.IsZero() {
		at = time.Now().Add(time.Duration(req.DelayMs) * time.Millisecond)
	}
	opts := req.options()
	opts.At = time.Time{}
	msg, err := s.deps.Queues.Schedule(c.Request().Context(), req.Queue, req.Payload, at, opts)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

func (s *Server) messageStatus(c echo.Context) error {
	msg, err := s.deps.Queues.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

type retryResponse struct {
	ID      string `json:"id"`
	Retried bool   `json:"retried"`
}

func (s *Server) retryMessage(c echo.Context) error {
	id := c.Param("id")
	retried, err := s.deps.Queues.Retry(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	status := http.StatusOK
	if !retried {
		status = http.StatusConflict
	}
	return c.JSON(status, retryResponse{ID: id, Retried: retried})
}

type cancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

func (s *Server) cancelMessage(c echo.Context) error {
	id := c.Param("id")
	cancelled, err := s.deps.Queues.Cancel(c.Request().Context(), id)
	if err != nil {
		return s.writeError(c, err)
	}
	status := http.StatusOK
	if !cancelled {
		status = http.StatusConflict
	}
	return c.JSON(status, cancelResponse{ID: id, Cancelled: cancelled})
}

func (s *Server) queueStats(c echo.Context) error {
	ctx := c.Request().Context()
	if queue := c.QueryParam("queue"); queue != "" {
		stats, err := s.deps.Queues.Stats(ctx, queue)
		if err != nil {
			return s.writeError(c, err)
		}
		return c.JSON(http.StatusOK, stats)
	}

	queues, err := s.deps.Queues.Queues(ctx)
	if err != nil {
		return s.writeError(c, err)
	}
	all := make([]queuepkg.Stats, 0, len(queues))
	for _, queue := range queues {
		stats, err := s.deps.Queues.Stats(ctx, queue)
		if err != nil {
			return s.writeError(c, err)
		}
		all = append(all, stats)
	}
	return c.JSON(http.StatusOK, all)
}

func (s *Server) listDeadLetters(c echo.Context) error {
	queue := c.QueryParam("queue")
	if queue == "" {
		return badRequest(c, "queue is required")
	}
	limit := intQueryParam(c, "limit", 0)
	msgs, err := s.deps.Queues.DeadLetters(c.Request().Context(), queue, limit)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) replayDeadLetter(c echo.Context) error {
	msg, err := s.deps.Queues.Replay(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, msg)
}

type purgeResponse struct {
	Queue  string `json:"queue"`
	Purged int    `json:"purged"`
}

func (s *Server) purgeDeadLetters(c echo.Context) error {
	queue := c.QueryParam("queue")
	if queue == "" {
		return badRequest(c, "queue is required")
	}
	purged, err := s.deps.Queues.PurgeDeadLetters(c.Request().Context(), queue)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, purgeResponse{Queue: queue, Purged: purged})
}

func (s *Server) deadLetterStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.DLQStats())
}

type queueControlResponse struct {
	Queue  string `json:"queue"`
	Paused bool   `json:"paused"`
}

func (s *Server) pauseQueue(c echo.Context) error {
	queue := c.Param("queue")
	s.deps.Queues.Pause(queue)
	return c.JSON(http.StatusOK, queueControlResponse{Queue: queue, Paused: true})
}

func (s *Server) resumeQueue(c echo.Context) error {
	queue := c.Param("queue")
	s.deps.Queues.Resume(queue)
	return c.JSON(http.StatusOK, queueControlResponse{Queue: queue, Paused: false})
}

func (s *Server) purgeQueue(c echo.Context) error {
	queue := c.Param("queue")
	purged, err := s.deps.Queues.Purge(c.Request().Context(), queue)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, purgeResponse{Queue: queue, Purged: purged})
}
