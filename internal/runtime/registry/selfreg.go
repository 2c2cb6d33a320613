package registry

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"time"

	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

// SnapshotFunc returns runtime metadata published with each heartbeat.
type SnapshotFunc func() map[string]string

// RuntimeSnapshot reports coarse process statistics: goroutine count and
// heap usage.
func RuntimeSnapshot() map[string]string {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return map[string]string{
		"runtime_goroutines": strconv.Itoa(runtime.NumGoroutine()),
		"runtime_heap_bytes": strconv.FormatUint(mem.Alloc, 10),
	}
}

// SelfRegistration keeps this process registered: it registers the instance,
// sends heartbeats on an interval with a fresh resource snapshot, and
// deregisters on Stop.
type SelfRegistration struct {
	registry *Registry
	logger   loggingpkg.ServiceLogger
	interval time.Duration
	snapshot SnapshotFunc

	mu       sync.Mutex
	instance *ServiceInstance
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSelfRegistration builds a self-registration for the given instance
// template. Zero interval defaults to a 30s heartbeat.
func NewSelfRegistration(reg *Registry, instance *ServiceInstance, interval time.Duration, logger loggingpkg.ServiceLogger) *SelfRegistration {
	if reg == nil {
		panic("meshkit: registry cannot be nil")
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SelfRegistration{
		registry: reg,
		logger:   logger,
		interval: interval,
		snapshot: RuntimeSnapshot,
		instance: instance,
	}
}

// Start registers the instance and begins the heartbeat loop.
func (s *SelfRegistration) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return nil // already running
	}

	template := s.instance.clone()
	template.Metadata = mergeMetadata(template.Metadata, s.snapshot())

	registered, err := s.registry.Register(ctx, template)
	if err != nil {
		return err
	}
	s.instance = registered

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx, registered.Service, registered.ID)
	return nil
}

func (s *SelfRegistration) loop(ctx context.Context, service, instanceID string) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.beat(ctx, service, instanceID); err != nil {
				s.logger.Error("heartbeat failed", err, loggingpkg.LogFields{
					"service":     service,
					"instance_id": instanceID,
				})
			}
		}
	}
}

func (s *SelfRegistration) beat(ctx context.Context, service, instanceID string) error {
	instance, err := s.registry.GetInstance(ctx, service, instanceID)
	if err != nil {
		// The record may have been swept while we were partitioned;
		// re-register instead of heartbeating a ghost.
		s.mu.Lock()
		template := s.instance.clone()
		s.mu.Unlock()
		template.Metadata = mergeMetadata(template.Metadata, s.snapshot())
		_, regErr := s.registry.Register(ctx, template)
		return regErr
	}

	instance.Metadata = mergeMetadata(instance.Metadata, s.snapshot())
	if err := s.registry.store.Put(ctx, instance); err != nil {
		return err
	}
	return s.registry.Heartbeat(ctx, service, instanceID)
}

// Stop ends the heartbeat loop and deregisters the instance.
func (s *SelfRegistration) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	instance := s.instance
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return s.registry.Deregister(ctx, instance.Service, instance.ID)
}

// Instance returns the registered instance record.
func (s *SelfRegistration) Instance() *ServiceInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance.clone()
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
