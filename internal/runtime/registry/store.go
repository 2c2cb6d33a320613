package registry

import (
	"context"
	"sort"
	"sync"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
)

// InstanceStore persists service instances. Implementations must be safe for
// concurrent use.
type InstanceStore interface {
	// Put inserts or replaces an instance record.
	Put(ctx context.Context, instance *ServiceInstance) error

	// Get returns one instance, or ErrInstanceNotFound.
	Get(ctx context.Context, service, instanceID string) (*ServiceInstance, error)

	// Delete removes an instance. Deleting an unknown instance returns
	// ErrInstanceNotFound.
	Delete(ctx context.Context, service, instanceID string) error

	// List returns all instances of one service, sorted by instance id.
	List(ctx context.Context, service string) ([]*ServiceInstance, error)

	// ListAll returns every registered instance across services.
	ListAll(ctx context.Context) ([]*ServiceInstance, error)
}

// MemoryStore is an in-process InstanceStore for single-node deployments
// and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	instances map[string]map[string]*ServiceInstance
}

// NewMemoryStore creates an empty in-memory instance store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{instances: map[string]map[string]*ServiceInstance{}}
}

func (m *MemoryStore) Put(_ context.Context, instance *ServiceInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.instances[instance.Service]
	if !ok {
		byID = map[string]*ServiceInstance{}
		m.instances[instance.Service] = byID
	}
	byID[instance.ID] = instance.clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, service, instanceID string) (*ServiceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instance, ok := m.instances[service][instanceID]
	if !ok {
		return nil, errspkg.ErrInstanceNotFound
	}
	return instance.clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, service, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID, ok := m.instances[service]
	if !ok {
		return errspkg.ErrInstanceNotFound
	}
	if _, ok := byID[instanceID]; !ok {
		return errspkg.ErrInstanceNotFound
	}
	delete(byID, instanceID)
	if len(byID) == 0 {
		delete(m.instances, service)
	}
	return nil
}

func (m *MemoryStore) List(_ context.Context, service string) ([]*ServiceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := m.instances[service]
	result := make([]*ServiceInstance, 0, len(byID))
	for _, instance := range byID {
		result = append(result, instance.clone())
	}
	sortInstances(result)
	return result, nil
}

func (m *MemoryStore) ListAll(_ context.Context) ([]*ServiceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ServiceInstance
	for _, byID := range m.instances {
		for _, instance := range byID {
			result = append(result, instance.clone())
		}
	}
	sortInstances(result)
	return result, nil
}

func sortInstances(instances []*ServiceInstance) {
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Service != instances[j].Service {
			return instances[i].Service < instances[j].Service
		}
		return instances[i].ID < instances[j].ID
	})
}
