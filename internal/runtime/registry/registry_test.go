package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	return New(NewMemoryStore(), logger)
}

func testInstance(service, id string) *ServiceInstance {
	return &ServiceInstance{
		ID:      id,
		Service: service,
		Version: "1.0.0",
		Host:    "10.0.0.1",
		Port:    8080,
	}
}

func TestRegisterAssignsIDAndDefaults(t *testing.T) {
	reg := newTestRegistry(t)

	instance, err := reg.Register(context.Background(), &ServiceInstance{Service: "orders", Host: "10.0.0.1", Port: 8080})
	require.NoError(t, err)

	assert.NotEmpty(t, instance.ID)
	assert.Equal(t, StatusHealthy, instance.Status)
	assert.False(t, instance.RegisteredAt.IsZero())
	assert.False(t, instance.LastHeartbeat.IsZero())
}

func TestRegisterRequiresService(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Register(context.Background(), &ServiceInstance{Host: "10.0.0.1"})
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)

	_, err = reg.Register(context.Background(), nil)
	assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.Register(ctx, testInstance("orders", "inst-1"))
	require.NoError(t, err)

	// Re-registering refreshes the record but keeps the registration time.
	updated := testInstance("orders", "inst-1")
	updated.Version = "1.1.0"
	second, err := reg.Register(ctx, updated)
	require.NoError(t, err)

	assert.Equal(t, first.RegisteredAt, second.RegisteredAt)
	assert.Equal(t, "1.1.0", second.Version)

	instances, err := reg.Discover(ctx, "orders", DiscoverOptions{})
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestDeregisterIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	instance, err := reg.Register(ctx, testInstance("orders", "inst-1"))
	require.NoError(t, err)

	require.NoError(t, reg.Deregister(ctx, "orders", instance.ID))
	// A second deregistration of the same instance is not an error.
	require.NoError(t, reg.Deregister(ctx, "orders", instance.ID))
	require.NoError(t, reg.Deregister(ctx, "orders", "never-registered"))
}

func TestHeartbeatUpdatesTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	logger := loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	reg := New(NewMemoryStore(), logger, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	instance, err := reg.Register(ctx, testInstance("orders", "inst-1"))
	require.NoError(t, err)

	now = now.Add(time.Minute)
	require.NoError(t, reg.Heartbeat(ctx, "orders", instance.ID))

	stored, err := reg.GetInstance(ctx, "orders", instance.ID)
	require.NoError(t, err)
	assert.Equal(t, now.UTC(), stored.LastHeartbeat)

	assert.ErrorIs(t, reg.Heartbeat(ctx, "orders", "missing"), errspkg.ErrInstanceNotFound)
}

func TestDiscoverFiltersStatus(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, testInstance("orders", "healthy"))
	require.NoError(t, err)

	degraded := testInstance("orders", "degraded")
	degraded.Status = StatusDegraded
	_, err = reg.Register(ctx, degraded)
	require.NoError(t, err)

	unhealthy := testInstance("orders", "unhealthy")
	unhealthy.Status = StatusUnhealthy
	_, err = reg.Register(ctx, unhealthy)
	require.NoError(t, err)

	maintenance := testInstance("orders", "maintenance")
	maintenance.Status = StatusMaintenance
	_, err = reg.Register(ctx, maintenance)
	require.NoError(t, err)

	instances, err := reg.Discover(ctx, "orders", DiscoverOptions{})
	require.NoError(t, err)
	require.Len(t, instances, 2)
	// Sorted by instance id: degraded before healthy.
	assert.Equal(t, "degraded", instances[0].ID)
	assert.Equal(t, "healthy", instances[1].ID)

	all, err := reg.Discover(ctx, "orders", DiscoverOptions{IncludeAll: true})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestDiscoverFiltersVersionAndMetadata(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	v1 := testInstance("orders", "v1")
	v1.Metadata = map[string]string{"zone": "eu-west"}
	_, err := reg.Register(ctx, v1)
	require.NoError(t, err)

	v2 := testInstance("orders", "v2")
	v2.Version = "2.0.0"
	v2.Metadata = map[string]string{"zone": "us-east"}
	_, err = reg.Register(ctx, v2)
	require.NoError(t, err)

	instances, err := reg.Discover(ctx, "orders", DiscoverOptions{Version: "2.0.0"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "v2", instances[0].ID)

	instances, err = reg.Discover(ctx, "orders", DiscoverOptions{Metadata: map[string]string{"zone": "eu-west"}})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "v1", instances[0].ID)
}

func TestLoadBalanceReturnsNilWhenEmpty(t *testing.T) {
	reg := newTestRegistry(t)

	instance, err := reg.LoadBalance(context.Background(), "ghost", StrategyRoundRobin)
	require.NoError(t, err)
	assert.Nil(t, instance)
}

func TestLoadBalanceRoundRobinCycles(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := reg.Register(ctx, testInstance("orders", id))
		require.NoError(t, err)
	}

	var picked []string
	for i := 0; i < 6; i++ {
		instance, err := reg.LoadBalance(ctx, "orders", StrategyRoundRobin)
		require.NoError(t, err)
		picked = append(picked, instance.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picked)
}

func TestLoadBalanceLeastConnections(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	busy := testInstance("orders", "busy")
	busy.RequestCount = 12
	_, err := reg.Register(ctx, busy)
	require.NoError(t, err)

	idle := testInstance("orders", "idle")
	idle.RequestCount = 1
	_, err = reg.Register(ctx, idle)
	require.NoError(t, err)

	instance, err := reg.LoadBalance(ctx, "orders", StrategyLeastConnections)
	require.NoError(t, err)
	assert.Equal(t, "idle", instance.ID)
}

func TestRecordCallMaintainsRunningAverage(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, testInstance("orders", "inst-1"))
	require.NoError(t, err)

	require.NoError(t, reg.RecordCall(ctx, "orders", "inst-1", 100*time.Millisecond))
	require.NoError(t, reg.RecordCall(ctx, "orders", "inst-1", 300*time.Millisecond))

	instance, err := reg.GetInstance(ctx, "orders", "inst-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, instance.RequestCount)
	assert.InDelta(t, 200, instance.ResponseTimeAvg, 0.001)
}

func TestDiscoverOrdersByResponseTime(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	slow := testInstance("orders", "slow")
	_, err := reg.Register(ctx, slow)
	require.NoError(t, err)
	require.NoError(t, reg.RecordCall(ctx, "orders", "slow", 500*time.Millisecond))

	fast := testInstance("orders", "fast")
	_, err = reg.Register(ctx, fast)
	require.NoError(t, err)
	require.NoError(t, reg.RecordCall(ctx, "orders", "fast", 10*time.Millisecond))

	instances, err := reg.Discover(ctx, "orders", DiscoverOptions{})
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "fast", instances[0].ID)
	assert.Equal(t, "slow", instances[1].ID)
}

func TestLoadBalanceRandomPicksEligible(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, testInstance("orders", "only"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		instance, err := reg.LoadBalance(ctx, "orders", StrategyRandom)
		require.NoError(t, err)
		assert.Equal(t, "only", instance.ID)
	}
}

func TestUpdateStatus(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	instance, err := reg.Register(ctx, testInstance("orders", "inst-1"))
	require.NoError(t, err)

	require.NoError(t, reg.UpdateStatus(ctx, "orders", instance.ID, StatusMaintenance))
	stored, err := reg.GetInstance(ctx, "orders", instance.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusMaintenance, stored.Status)

	assert.ErrorIs(t, reg.UpdateStatus(ctx, "orders", "missing", StatusHealthy), errspkg.ErrInstanceNotFound)
}

func TestListServices(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Register(ctx, testInstance("orders", "a"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, testInstance("orders", "b"))
	require.NoError(t, err)
	_, err = reg.Register(ctx, testInstance("billing", "c"))
	require.NoError(t, err)

	services, err := reg.ListServices(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orders", "billing"}, services)
}

func TestCleanupStaleRemovesExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	logger := loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	reg := New(NewMemoryStore(), logger, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	stale, err := reg.Register(ctx, testInstance("orders", "stale"))
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	fresh, err := reg.Register(ctx, testInstance("orders", "fresh"))
	require.NoError(t, err)

	removed, err := reg.CleanupStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = reg.GetInstance(ctx, "orders", stale.ID)
	assert.ErrorIs(t, err, errspkg.ErrInstanceNotFound)

	_, err = reg.GetInstance(ctx, "orders", fresh.ID)
	assert.NoError(t, err)
}
