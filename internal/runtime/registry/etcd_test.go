package registry

// These tests need a running etcd instance. Set MESHKIT_ETCD_ENDPOINTS to
// run them; they are skipped otherwise.

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
)

func setupEtcdStore(t *testing.T) *EtcdStore {
	t.Helper()
	endpoints := os.Getenv("MESHKIT_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("MESHKIT_ETCD_ENDPOINTS not set, skipping etcd store tests")
	}
	store, err := NewEtcdStore(EtcdStoreConfig{
		Endpoints: []string{endpoints},
		TTL:       30 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEtcdStoreRoundTrip(t *testing.T) {
	store := setupEtcdStore(t)
	ctx := context.Background()

	instance := testInstance("etcd-test-orders", uuid.New().String())
	require.NoError(t, store.Put(ctx, instance))
	defer store.Delete(ctx, instance.Service, instance.ID)

	stored, err := store.Get(ctx, instance.Service, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, instance.ID, stored.ID)
	assert.Equal(t, instance.Host, stored.Host)

	list, err := store.List(ctx, instance.Service)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	require.NoError(t, store.Delete(ctx, instance.Service, instance.ID))
	_, err = store.Get(ctx, instance.Service, instance.ID)
	assert.ErrorIs(t, err, errspkg.ErrInstanceNotFound)
}

func TestEtcdStoreDeleteUnknown(t *testing.T) {
	store := setupEtcdStore(t)
	err := store.Delete(context.Background(), "etcd-test-orders", uuid.New().String())
	assert.ErrorIs(t, err, errspkg.ErrInstanceNotFound)
}
