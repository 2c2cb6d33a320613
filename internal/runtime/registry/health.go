package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

// CheckFunc probes one instance and returns nil when it is healthy.
type CheckFunc func(ctx context.Context, instance *ServiceInstance) error

// HTTPCheck probes an instance's health endpoint over HTTP. It uses the
// instance's HealthCheckURL, falling back to GET /health on its address.
func HTTPCheck(client *http.Client) CheckFunc {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(ctx context.Context, instance *ServiceInstance) error {
		url := instance.HealthCheckURL
		if url == "" {
			url = fmt.Sprintf("http://%s/health", instance.Address())
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return nil
	}
}

// HealthChecker periodically probes registered instances and demotes the
// ones that keep failing. A failed probe cycle increments the instance's
// failure count: the instance is DEGRADED until the count reaches the
// checker's retry threshold, then UNHEALTHY. Any successful probe restores
// it to HEALTHY and clears the count. Instances in maintenance are never
// probed.
type HealthChecker struct {
	registry *Registry
	check    CheckFunc
	interval time.Duration
	retries  int
	logger   loggingpkg.ServiceLogger
}

// NewHealthChecker builds a checker. Zero interval defaults to 30s; zero
// retries defaults to 2 probe attempts per cycle.
func NewHealthChecker(reg *Registry, check CheckFunc, interval time.Duration, retries int, logger loggingpkg.ServiceLogger) *HealthChecker {
	if reg == nil {
		panic("meshkit: registry cannot be nil")
	}
	if check == nil {
		check = HTTPCheck(nil)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if retries <= 0 {
		retries = 2
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	return &HealthChecker{
		registry: reg,
		check:    check,
		interval: interval,
		retries:  retries,
		logger:   logger,
	}
}

// Start probes all instances every interval until ctx is cancelled.
func (h *HealthChecker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := h.RunOnce(ctx); err != nil {
					h.logger.Error("health probe cycle failed", err, nil)
				}
			}
		}
	}()
}

// RunOnce probes every registered instance a single time.
func (h *HealthChecker) RunOnce(ctx context.Context) error {
	instances, err := h.registry.ListAllInstances(ctx)
	if err != nil {
		return err
	}
	for _, instance := range instances {
		if instance.Status == StatusMaintenance {
			continue
		}
		h.probe(ctx, instance)
	}
	return nil
}

func (h *HealthChecker) probe(ctx context.Context, instance *ServiceInstance) {
	var err error
	for attempt := 0; attempt < h.retries; attempt++ {
		if err = h.check(ctx, instance); err == nil {
			break
		}
	}

	if err == nil {
		if instance.Status != StatusHealthy || instance.FailureCount != 0 {
			if restoreErr := h.restore(ctx, instance); restoreErr != nil {
				h.logger.Error("failed to restore instance", restoreErr, loggingpkg.LogFields{
					"service":     instance.Service,
					"instance_id": instance.ID,
				})
			}
		}
		return
	}

	observeProbeFailure(instance.Service)
	h.logger.Info("health probe failed", loggingpkg.LogFields{
		"service":     instance.Service,
		"instance_id": instance.ID,
		"error":       err.Error(),
	})
	if demoteErr := h.demote(ctx, instance); demoteErr != nil {
		h.logger.Error("failed to demote instance", demoteErr, loggingpkg.LogFields{
			"service":     instance.Service,
			"instance_id": instance.ID,
		})
	}
}

func (h *HealthChecker) restore(ctx context.Context, probed *ServiceInstance) error {
	instance, err := h.registry.store.Get(ctx, probed.Service, probed.ID)
	if err != nil {
		return err
	}
	instance.FailureCount = 0
	instance.Status = StatusHealthy
	return h.registry.store.Put(ctx, instance)
}

func (h *HealthChecker) demote(ctx context.Context, probed *ServiceInstance) error {
	instance, err := h.registry.store.Get(ctx, probed.Service, probed.ID)
	if err != nil {
		return err
	}
	instance.FailureCount++
	if instance.FailureCount >= h.retries {
		instance.Status = StatusUnhealthy
	} else {
		instance.Status = StatusDegraded
	}
	return h.registry.store.Put(ctx, instance)
}
