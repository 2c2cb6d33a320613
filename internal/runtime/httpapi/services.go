package httpapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	registrypkg "github.com/lernio/meshkit/internal/runtime/registry"
)

type registerServiceRequest struct {
	Service        string            `json:"service"`
	Version        string            `json:"version"`
	Host           string            `json:"host"`
	Port           int               `json:"port"`
	HealthCheckURL string            `json:"health_check_url"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Server) registerService(c echo.Context) error {
	req := new(registerServiceRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	if req.Service == "" {
		return badRequest(c, "service name is required")
	}
	if req.Host == "" || req.Port == 0 {
		return badRequest(c, "host and port are required")
	}

	instance, err := s.deps.Registry.Register(c.Request().Context(), &registrypkg.ServiceInstance{
		Service:        req.Service,
		Version:        req.Version,
		Host:           req.Host,
		Port:           req.Port,
		HealthCheckURL: req.HealthCheckURL,
		Metadata:       req.Metadata,
	})
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, instance)
}

func (s *Server) listServices(c echo.Context) error {
	ctx := c.Request().Context()
	services, err := s.deps.Registry.ListServices(ctx)
	if err != nil {
		return s.writeError(c, err)
	}
	instances, err := s.deps.Registry.ListAllInstances(ctx)
	if err != nil {
		return s.writeError(c, err)
	}

	byService := make(map[string][]*registrypkg.ServiceInstance, len(services))
	for _, instance := range instances {
		byService[instance.Service] = append(byService[instance.Service], instance)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"services":  services,
		"instances": byService,
	})
}

type serviceMetricsResponse struct {
	Services       int                       `json:"services"`
	Instances      int                       `json:"instances"`
	ByStatus       map[string]int            `json:"by_status"`
	ByService      map[string]map[string]int `json:"by_service"`
	EligibleShare  float64                   `json:"eligible_share"`
	AvgResponsesMs map[string]float64        `json:"avg_response_ms"`
}

func (s *Server) serviceMetrics(c echo.Context) error {
	instances, err := s.deps.Registry.ListAllInstances(c.Request().Context())
	if err != nil {
		return s.writeError(c, err)
	}

	resp := serviceMetricsResponse{
		ByStatus:       make(map[string]int),
		ByService:      make(map[string]map[string]int),
		AvgResponsesMs: make(map[string]float64),
	}
	avgSums := make(map[string]float64)
	avgCounts := make(map[string]int)
	eligible := 0
	for _, instance := range instances {
		resp.Instances++
		resp.ByStatus[string(instance.Status)]++
		if resp.ByService[instance.Service] == nil {
			resp.ByService[instance.Service] = make(map[string]int)
		}
		resp.ByService[instance.Service][string(instance.Status)]++
		if instance.Eligible() {
			eligible++
		}
		avgSums[instance.Service] += instance.ResponseTimeAvg
		avgCounts[instance.Service]++
	}
	resp.Services = len(resp.ByService)
	if resp.Instances > 0 {
		resp.EligibleShare = float64(eligible) / float64(resp.Instances)
	}
	for service, sum := range avgSums {
		resp.AvgResponsesMs[service] = sum / float64(avgCounts[service])
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) discoverService(c echo.Context) error {
	opts := registrypkg.DiscoverOptions{
		Version:    c.QueryParam("version"),
		IncludeAll: c.QueryParam("include_all") == "true",
	}
	instances, err := s.deps.Registry.Discover(c.Request().Context(), c.Param("name"), opts)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, instances)
}

func (s *Server) loadBalanceService(c echo.Context) error {
	strategy := registrypkg.Strategy(c.QueryParam("strategy"))
	if strategy == "" {
		strategy = registrypkg.StrategyRoundRobin
	}
	instance, err := s.deps.Registry.LoadBalance(c.Request().Context(), c.Param("name"), strategy)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, instance)
}

// findInstance resolves a bare instance id to its record. The delete and
// status routes identify instances by id alone, while the store is keyed by
// service name, so this scans the full listing.
func (s *Server) findInstance(ctx context.Context, id string) (*registrypkg.ServiceInstance, error) {
	instances, err := s.deps.Registry.ListAllInstances(ctx)
	if err != nil {
		return nil, err
	}
	for _, instance := range instances {
		if instance.ID == id {
			return instance, nil
		}
	}
	return nil, errspkg.ErrInstanceNotFound
}

func (s *Server) deregisterService(c echo.Context) error {
	ctx := c.Request().Context()
	instance, err := s.findInstance(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.deps.Registry.Deregister(ctx, instance.Service, instance.ID); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": instance.ID, "deregistered": true})
}

type updateStatusRequest struct {
	Status registrypkg.InstanceStatus `json:"status"`
}

func (s *Server) updateServiceStatus(c echo.Context) error {
	req := new(updateStatusRequest)
	if err := c.Bind(req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}
	switch req.Status {
	case registrypkg.StatusHealthy, registrypkg.StatusDegraded,
		registrypkg.StatusUnhealthy, registrypkg.StatusMaintenance:
	default:
		return badRequest(c, "unknown status: "+string(req.Status))
	}

	ctx := c.Request().Context()
	instance, err := s.findInstance(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.deps.Registry.UpdateStatus(ctx, instance.Service, instance.ID, req.Status); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": instance.ID, "status": req.Status})
}

func (s *Server) heartbeatService(c echo.Context) error {
	ctx := c.Request().Context()
	instance, err := s.findInstance(ctx, c.Param("id"))
	if err != nil {
		return s.writeError(c, err)
	}
	if err := s.deps.Registry.Heartbeat(ctx, instance.Service, instance.ID); err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": instance.ID, "heartbeat": true})
}
