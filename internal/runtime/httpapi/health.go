package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":    "ok",
		"service":   s.cfg.ServiceName,
		"timestamp": time.Now().UTC(),
	})
}

type probeResult struct {
	URL        string `json:"url"`
	Healthy    bool   `json:"healthy"`
	StatusCode int    `json:"status_code,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
	Error      string `json:"error,omitempty"`
}

// probeService issues a GET against an arbitrary health endpoint so operators
// can check a downstream from the same vantage point as this service.
func (s *Server) probeService(c echo.Context) error {
	url := c.QueryParam("url")
	if url == "" {
		return badRequest(c, "url query parameter is required")
	}
	timeout := 5 * time.Second
	if raw := c.QueryParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return badRequest(c, "invalid timeout: "+err.Error())
		}
		timeout = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return badRequest(c, "invalid url: "+err.Error())
	}

	start := time.Now()
	resp, err := s.probeClient().Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return c.JSON(http.StatusOK, probeResult{URL: url, LatencyMs: latency, Error: err.Error()})
	}
	defer resp.Body.Close()

	return c.JSON(http.StatusOK, probeResult{
		URL:        url,
		Healthy:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		LatencyMs:  latency,
	})
}

func (s *Server) probeClient() *http.Client {
	if s.deps.ProbeClient != nil {
		return s.deps.ProbeClient
	}
	return http.DefaultClient
}

func (s *Server) handlerStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Handlers())
}
