package httpapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	breakerpkg "github.com/lernio/meshkit/internal/runtime/breaker"
)

func TestListBreakers(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, f.breakers.Execute(ctx, "billing", "charge", func(context.Context) error { return nil }))
	_ = f.breakers.Execute(ctx, "billing", "refund", func(context.Context) error { return errors.New("boom") })

	rec := f.do(t, http.MethodGet, "/messaging/circuit-breakers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var all []breakerpkg.Metrics
	decodeJSON(t, rec, &all)
	require.Len(t, all, 2)
	assert.Equal(t, "charge", all[0].Operation)
	assert.Equal(t, "refund", all[1].Operation)
}

func TestBreakerMetrics(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, f.breakers.Execute(ctx, "billing", "charge", func(context.Context) error { return nil }))
	_ = f.breakers.Execute(ctx, "billing", "refund", func(context.Context) error { return errors.New("boom") })
	f.breakers.ForceOpen("billing", "refund", 0)

	rec := f.do(t, http.MethodGet, "/messaging/circuit-breakers/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics breakerMetricsResponse
	decodeJSON(t, rec, &metrics)
	assert.Equal(t, 2, metrics.Breakers)
	assert.Equal(t, 1, metrics.ByState[string(breakerpkg.StateClosed)])
	assert.Equal(t, 1, metrics.ByState[string(breakerpkg.StateOpen)])
	assert.Equal(t, int64(2), metrics.Requests)
	assert.Equal(t, int64(1), metrics.Failures)
	require.Len(t, metrics.Open, 1)
	assert.Equal(t, "refund", metrics.Open[0].Operation)
}

func TestBreakerState(t *testing.T) {
	f := newTestServer(t)
	f.breakers.ForceOpen("billing", "charge", 0)

	rec := f.do(t, http.MethodGet, "/messaging/circuit-breakers/billing/charge", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics breakerpkg.Metrics
	decodeJSON(t, rec, &metrics)
	assert.Equal(t, breakerpkg.StateOpen, metrics.State)
}

func TestBreakerStateNotFound(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/messaging/circuit-breakers/ghost/none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResetBreaker(t *testing.T) {
	f := newTestServer(t)
	f.breakers.ForceOpen("billing", "charge", 0)

	rec := f.do(t, http.MethodPost, "/messaging/circuit-breakers/billing/charge/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breakerpkg.StateClosed, f.breakers.State("billing", "charge"))
}

func TestResetBreakerNotFound(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/circuit-breakers/ghost/none/reset", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForceOpenBreakerCreatesBreaker(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/circuit-breakers/billing/charge/open", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breakerpkg.StateOpen, f.breakers.State("billing", "charge"))

	rec = f.do(t, http.MethodPost, "/messaging/circuit-breakers/billing/charge/close", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breakerpkg.StateClosed, f.breakers.State("billing", "charge"))
}

func TestForceOpenBreakerTimeoutParam(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/circuit-breakers/billing/charge/open?timeout_ms=5000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breakerpkg.StateOpen, f.breakers.State("billing", "charge"))

	rec = f.do(t, http.MethodPost, "/messaging/circuit-breakers/billing/charge/open?timeout_ms=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/messaging/circuit-breakers/billing/charge/open?timeout_ms=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
