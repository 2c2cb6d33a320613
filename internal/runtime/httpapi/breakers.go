package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	breakerpkg "github.com/lernio/meshkit/internal/runtime/breaker"
)

func (s *Server) listBreakers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Breakers.AllMetrics())
}

type breakerMetricsResponse struct {
	Breakers    int                  `json:"breakers"`
	ByState     map[string]int       `json:"by_state"`
	Requests    int64                `json:"requests"`
	Failures    int64                `json:"failures"`
	Rejected    int64                `json:"rejected"`
	FailureRate float64              `json:"failure_rate"`
	Open        []breakerpkg.Metrics `json:"open"`
}

func (s *Server) breakerMetrics(c echo.Context) error {
	all := s.deps.Breakers.AllMetrics()
	resp := breakerMetricsResponse{
		Breakers: len(all),
		ByState:  make(map[string]int),
		Open:     []breakerpkg.Metrics{},
	}
	for _, m := range all {
		resp.ByState[string(m.State)]++
		resp.Requests += m.Requests
		resp.Failures += m.Failures
		resp.Rejected += m.Rejected
		if m.State != breakerpkg.StateClosed {
			resp.Open = append(resp.Open, m)
		}
	}
	if resp.Requests > 0 {
		resp.FailureRate = float64(resp.Failures) / float64(resp.Requests)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) breakerState(c echo.Context) error {
	metrics, err := s.deps.Breakers.Metrics(c.Param("service"), c.Param("operation"))
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, metrics)
}

func (s *Server) resetBreaker(c echo.Context) error {
	service, operation := c.Param("service"), c.Param("operation")
	if err := s.deps.Breakers.Reset(service, operation); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"service":   service,
		"operation": operation,
		"state":     breakerpkg.StateClosed,
	})
}

func (s *Server) forceOpenBreaker(c echo.Context) error {
	service, operation := c.Param("service"), c.Param("operation")
	var timeout time.Duration
	if raw := c.QueryParam("timeout_ms"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			return badRequest(c, "timeout_ms must be a positive integer")
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	s.deps.Breakers.ForceOpen(service, operation, timeout)
	return c.JSON(http.StatusOK, echo.Map{
		"service":   service,
		"operation": operation,
		"state":     breakerpkg.StateOpen,
	})
}

func (s *Server) forceCloseBreaker(c echo.Context) error {
	service, operation := c.Param("service"), c.Param("operation")
	if err := s.deps.Breakers.ForceClose(service, operation); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"service":   service,
		"operation": operation,
		"state":     breakerpkg.StateClosed,
	})
}
