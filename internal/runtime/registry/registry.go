package registry

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	idspkg "github.com/lernio/meshkit/internal/runtime/ids"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

// Strategy selects how LoadBalance picks among eligible instances.
type Strategy string

const (
	// StrategyRoundRobin cycles through instances in order.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyRandom picks a uniformly random instance.
	StrategyRandom Strategy = "random"
	// StrategyLeastConnections picks the instance with the lowest recorded
	// request count.
	StrategyLeastConnections Strategy = "least_connections"
)

// DiscoverOptions filters the result of Discover. Zero fields match anything.
type DiscoverOptions struct {
	// Version keeps only instances reporting this exact version.
	Version string
	// Metadata keeps only instances whose metadata contains every given pair.
	Metadata map[string]string
	// IncludeAll disables the default health filter so unhealthy and
	// maintenance instances are returned too.
	IncludeAll bool
}

// Registry tracks service instances and answers discovery queries.
type Registry struct {
	store  InstanceStore
	logger loggingpkg.ServiceLogger
	now    func() time.Time

	mu         sync.Mutex
	rrCounters map[string]int
	rng        *rand.Rand
}

// Option customises a Registry.
type Option func(*Registry)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New builds a Registry on top of the given store.
func New(store InstanceStore, logger loggingpkg.ServiceLogger, opts ...Option) *Registry {
	if store == nil {
		panic("meshkit: instance store cannot be nil")
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	r := &Registry{
		store:      store,
		logger:     logger,
		now:        time.Now,
		rrCounters: map[string]int{},
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an instance to the registry and returns the stored record.
// A missing instance id is generated. Re-registering an existing id is
// idempotent: the record is refreshed but keeps its original registration
// time.
func (r *Registry) Register(ctx context.Context, instance *ServiceInstance) (*ServiceInstance, error) {
	if instance == nil || instance.Service == "" {
		return nil, errspkg.ErrServiceRequired
	}

	stored := instance.clone()
	if stored.ID == "" {
		stored.ID = idspkg.CreateInstanceID()
	}
	if stored.Status == "" {
		stored.Status = StatusHealthy
	}

	now := r.now().UTC()
	stored.RegisteredAt = now
	stored.LastHeartbeat = now

	if existing, err := r.store.Get(ctx, stored.Service, stored.ID); err == nil {
		stored.RegisteredAt = existing.RegisteredAt
	}

	if err := r.store.Put(ctx, stored); err != nil {
		return nil, err
	}

	r.logger.Info("instance registered", loggingpkg.LogFields{
		"service":     stored.Service,
		"instance_id": stored.ID,
		"address":     stored.Address(),
	})
	observeRegistration(stored.Service)
	return stored, nil
}

// Deregister removes an instance. Removing an unknown instance is not an
// error, so retries and shutdown paths stay idempotent.
func (r *Registry) Deregister(ctx context.Context, service, instanceID string) error {
	err := r.store.Delete(ctx, service, instanceID)
	if errors.Is(err, errspkg.ErrInstanceNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("instance deregistered", loggingpkg.LogFields{
		"service":     service,
		"instance_id": instanceID,
	})
	observeDeregistration(service)
	return nil
}

// Heartbeat refreshes an instance's liveness timestamp.
func (r *Registry) Heartbeat(ctx context.Context, service, instanceID string) error {
	instance, err := r.store.Get(ctx, service, instanceID)
	if err != nil {
		return err
	}
	instance.LastHeartbeat = r.now().UTC()
	return r.store.Put(ctx, instance)
}

// UpdateStatus sets an instance's health status. Health probes and the
// management API use it to move instances in and out of rotation.
func (r *Registry) UpdateStatus(ctx context.Context, service, instanceID string, status InstanceStatus) error {
	instance, err := r.store.Get(ctx, service, instanceID)
	if err != nil {
		return err
	}
	if instance.Status == status {
		return nil
	}
	previous := instance.Status
	instance.Status = status
	if err := r.store.Put(ctx, instance); err != nil {
		return err
	}
	r.logger.Info("instance status changed", loggingpkg.LogFields{
		"service":     service,
		"instance_id": instanceID,
		"from":        string(previous),
		"to":          string(status),
	})
	return nil
}

// GetInstance returns one instance record.
func (r *Registry) GetInstance(ctx context.Context, service, instanceID string) (*ServiceInstance, error) {
	return r.store.Get(ctx, service, instanceID)
}

// Discover returns the instances of a service that are eligible for traffic,
// fastest average response time first. Unhealthy and maintenance instances
// are excluded unless opts.IncludeAll is set.
func (r *Registry) Discover(ctx context.Context, service string, opts DiscoverOptions) ([]*ServiceInstance, error) {
	instances, err := r.store.List(ctx, service)
	if err != nil {
		return nil, err
	}

	result := instances[:0]
	for _, instance := range instances {
		if !opts.IncludeAll && !instance.Eligible() {
			continue
		}
		if opts.Version != "" && instance.Version != opts.Version {
			continue
		}
		if !metadataMatches(instance.Metadata, opts.Metadata) {
			continue
		}
		result = append(result, instance)
	}
	// The store lists by instance id; a stable sort keeps that order for
	// instances with the same average.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ResponseTimeAvg < result[j].ResponseTimeAvg
	})
	return result, nil
}

// RecordCall folds the outcome of one downstream call into the instance's
// running request count and average response time.
func (r *Registry) RecordCall(ctx context.Context, service, instanceID string, duration time.Duration) error {
	instance, err := r.store.Get(ctx, service, instanceID)
	if err != nil {
		return err
	}
	instance.RequestCount++
	ms := float64(duration) / float64(time.Millisecond)
	instance.ResponseTimeAvg += (ms - instance.ResponseTimeAvg) / float64(instance.RequestCount)
	return r.store.Put(ctx, instance)
}

// LoadBalance picks one eligible instance of a service using the given
// strategy. It returns nil when no eligible instance exists.
func (r *Registry) LoadBalance(ctx context.Context, service string, strategy Strategy) (*ServiceInstance, error) {
	instances, err := r.Discover(ctx, service, DiscoverOptions{})
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, nil
	}

	switch strategy {
	case StrategyRandom:
		r.mu.Lock()
		idx := r.rng.Intn(len(instances))
		r.mu.Unlock()
		return instances[idx], nil
	case StrategyLeastConnections:
		best := instances[0]
		for _, instance := range instances[1:] {
			if instance.RequestCount < best.RequestCount {
				best = instance
			}
		}
		return best, nil
	default: // round robin
		r.mu.Lock()
		idx := r.rrCounters[service] % len(instances)
		r.rrCounters[service]++
		r.mu.Unlock()
		return instances[idx], nil
	}
}

// ListServices returns the distinct service names with at least one
// registered instance.
func (r *Registry) ListServices(ctx context.Context) ([]string, error) {
	instances, err := r.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var services []string
	for _, instance := range instances {
		if _, ok := seen[instance.Service]; ok {
			continue
		}
		seen[instance.Service] = struct{}{}
		services = append(services, instance.Service)
	}
	return services, nil
}

// ListAllInstances returns every registered instance across services.
func (r *Registry) ListAllInstances(ctx context.Context) ([]*ServiceInstance, error) {
	return r.store.ListAll(ctx)
}

// CleanupStale removes instances whose last heartbeat is older than the
// given age and returns how many were removed.
func (r *Registry) CleanupStale(ctx context.Context, olderThan time.Duration) (int, error) {
	instances, err := r.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := r.now().UTC().Add(-olderThan)
	removed := 0
	for _, instance := range instances {
		if !instance.LastHeartbeat.Before(cutoff) {
			continue
		}
		if err := r.Deregister(ctx, instance.Service, instance.ID); err != nil {
			return removed, err
		}
		r.logger.Info("stale instance removed", loggingpkg.LogFields{
			"service":        instance.Service,
			"instance_id":    instance.ID,
			"last_heartbeat": instance.LastHeartbeat,
		})
		removed++
	}
	return removed, nil
}

// StartCleanup sweeps stale instances every interval until ctx is cancelled.
func (r *Registry) StartCleanup(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.CleanupStale(ctx, olderThan); err != nil {
					r.logger.Error("stale instance sweep failed", err, nil)
				}
			}
		}
	}()
}

func metadataMatches(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
