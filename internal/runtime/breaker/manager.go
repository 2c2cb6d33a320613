package breaker

import (
	"context"
	"sort"
	"sync"
	"time"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

// Manager owns one circuit breaker per (service, operation) pair. Breaker
// state lives in a StateStore; the in-memory store is the default, and a
// shared store lets several processes trip and recover together.
type Manager struct {
	defaults Settings
	logger   loggingpkg.ServiceLogger
	now      func() time.Time
	store    StateStore

	mu       sync.RWMutex
	settings map[Key]Settings
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithStore overrides where breaker records are kept.
func WithStore(store StateStore) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// NewManager builds a breaker manager. Zero-valued defaults fall back to
// 5 failures / 60s recovery / 60s window / 10 requests minimum.
func NewManager(defaults Settings, logger loggingpkg.ServiceLogger, opts ...ManagerOption) *Manager {
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	m := &Manager{
		defaults: defaults.withDefaults(),
		logger:   logger,
		now:      time.Now,
		store:    NewMemoryStore(),
		settings: map[Key]Settings{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Configure overrides the settings used for one (service, operation) pair.
// An existing record for the pair is dropped, so the breaker restarts closed.
func (m *Manager) Configure(service, operation string, settings Settings) {
	k := Key{service, operation}
	m.mu.Lock()
	m.settings[k] = settings.withDefaults()
	m.mu.Unlock()
	m.store.Delete(k)
}

// Execute runs fn through the breaker guarding (service, operation). While
// the breaker is open the call is rejected with ErrCircuitOpen without
// invoking fn. A context already cancelled counts as a failure. Wall-clock
// time spent in successful calls feeds the pair's average response time.
func (m *Manager) Execute(ctx context.Context, service, operation string, fn func(context.Context) error) error {
	b := m.breaker(service, operation)

	proceed, trial := b.allow()
	if !proceed {
		observeRejection(service, operation)
		return errspkg.ErrCircuitOpen
	}

	if err := ctx.Err(); err != nil {
		b.record(false, trial, -1)
		return err
	}

	start := m.now()
	err := fn(ctx)
	b.record(err == nil, trial, m.now().Sub(start))
	if err != nil {
		m.logger.Debug("breaker recorded failure", loggingpkg.LogFields{
			"service":   service,
			"operation": operation,
			"error":     err.Error(),
		})
	}
	return err
}

// State returns the current state of the pair's breaker. Pairs that were
// never executed report a closed breaker.
func (m *Manager) State(service, operation string) State {
	rec, ok := m.store.Get(Key{service, operation})
	if !ok || rec.State == "" {
		return StateClosed
	}
	return rec.State
}

// Reset returns the pair's breaker to the closed state with empty counters.
func (m *Manager) Reset(service, operation string) error {
	b, err := m.lookup(service, operation)
	if err != nil {
		return err
	}
	b.forceState(StateClosed, 0)
	return nil
}

// ForceOpen trips the pair's breaker manually. A record is created if none
// exists yet, so an operation can be disabled ahead of traffic. A positive
// timeout bounds the outage: it replaces the configured recovery timeout
// until the breaker leaves the open state. Zero keeps the configured one.
func (m *Manager) ForceOpen(service, operation string, timeout time.Duration) {
	m.breaker(service, operation).forceState(StateOpen, timeout)
}

// ForceClose closes the pair's breaker manually.
func (m *Manager) ForceClose(service, operation string) error {
	return m.Reset(service, operation)
}

// Metrics returns a snapshot for one pair.
func (m *Manager) Metrics(service, operation string) (Metrics, error) {
	b, err := m.lookup(service, operation)
	if err != nil {
		return Metrics{}, err
	}
	return b.snapshot(), nil
}

// AllMetrics returns snapshots for every known breaker, sorted by service
// then operation.
func (m *Manager) AllMetrics() []Metrics {
	keys := m.store.Keys()
	result := make([]Metrics, 0, len(keys))
	for _, k := range keys {
		rec, ok := m.store.Get(k)
		if !ok {
			continue
		}
		result = append(result, metricsFromRecord(k, rec))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Service != result[j].Service {
			return result[i].Service < result[j].Service
		}
		return result[i].Operation < result[j].Operation
	})
	return result
}

func (m *Manager) breaker(service, operation string) *breaker {
	k := Key{service, operation}
	m.mu.RLock()
	settings, ok := m.settings[k]
	m.mu.RUnlock()
	if !ok {
		settings = m.defaults
	}
	return &breaker{key: k, settings: settings, now: m.now, store: m.store}
}

func (m *Manager) lookup(service, operation string) (*breaker, error) {
	if _, ok := m.store.Get(Key{service, operation}); !ok {
		return nil, errspkg.ErrBreakerNotFound
	}
	return m.breaker(service, operation), nil
}
