package registry

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	jsoncodec "github.com/lernio/meshkit/internal/runtime/jsoncodec"
)

const instancePrefix = "/meshkit/instances/"

// EtcdStore keeps instance records in etcd under lease-backed keys, so
// instances of crashed processes disappear once the lease TTL expires.
type EtcdStore struct {
	client         *clientv3.Client
	ttl            time.Duration
	requestTimeout time.Duration
}

// EtcdStoreConfig configures an EtcdStore.
type EtcdStoreConfig struct {
	Endpoints []string
	Username  string
	Password  string
	// TTL is the lease duration applied to each instance record. Heartbeats
	// rewrite the record with a fresh lease. Default 90s.
	TTL time.Duration
	// RequestTimeout bounds individual etcd calls. Default 5s.
	RequestTimeout time.Duration
	DialTimeout    time.Duration
}

// NewEtcdStore connects to etcd and returns a lease-backed instance store.
func NewEtcdStore(cfg EtcdStoreConfig) (*EtcdStore, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 90 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	return &EtcdStore{
		client:         client,
		ttl:            cfg.TTL,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// Close releases the underlying etcd connection.
func (e *EtcdStore) Close() error {
	return e.client.Close()
}

func instanceKey(service, instanceID string) string {
	return instancePrefix + service + "/" + instanceID
}

func (e *EtcdStore) Put(ctx context.Context, instance *ServiceInstance) error {
	data, err := jsoncodec.Marshal(instance)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	lease, err := e.client.Grant(ctx, int64(e.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	if _, err := e.client.Put(ctx, instanceKey(instance.Service, instance.ID), string(data), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put instance %s: %w", instance.ID, err)
	}
	return nil
}

func (e *EtcdStore) Get(ctx context.Context, service, instanceID string) (*ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, instanceKey(service, instanceID))
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", instanceID, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, errspkg.ErrInstanceNotFound
	}

	var instance ServiceInstance
	if err := jsoncodec.Unmarshal(resp.Kvs[0].Value, &instance); err != nil {
		return nil, fmt.Errorf("unmarshal instance %s: %w", instanceID, err)
	}
	return &instance, nil
}

func (e *EtcdStore) Delete(ctx context.Context, service, instanceID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	resp, err := e.client.Delete(ctx, instanceKey(service, instanceID))
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", instanceID, err)
	}
	if resp.Deleted == 0 {
		return errspkg.ErrInstanceNotFound
	}
	return nil
}

func (e *EtcdStore) List(ctx context.Context, service string) ([]*ServiceInstance, error) {
	return e.listPrefix(ctx, instancePrefix+service+"/")
}

func (e *EtcdStore) ListAll(ctx context.Context) ([]*ServiceInstance, error) {
	return e.listPrefix(ctx, instancePrefix)
}

func (e *EtcdStore) listPrefix(ctx context.Context, prefix string) ([]*ServiceInstance, error) {
	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list instances under %s: %w", prefix, err)
	}

	result := make([]*ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := jsoncodec.Unmarshal(kv.Value, &instance); err != nil {
			return nil, fmt.Errorf("unmarshal instance %s: %w", string(kv.Key), err)
		}
		result = append(result, &instance)
	}
	sortInstances(result)
	return result, nil
}

// Watch streams changes under the instance prefix so callers can react to
// registrations and expirations.
func (e *EtcdStore) Watch(ctx context.Context, service string) clientv3.WatchChan {
	return e.client.Watch(ctx, instancePrefix+service+"/", clientv3.WithPrefix())
}
