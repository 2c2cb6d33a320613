package httpapi

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	queuepkg "github.com/lernio/meshkit/internal/runtime/queue"
)

func TestSendMessage(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/messages", map[string]any{
		"queue":    "orders",
		"payload":  map[string]string{"sku": "A-1"},
		"priority": 9,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg queuepkg.Message
	decodeJSON(t, rec, &msg)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "orders", msg.Queue)
	assert.Equal(t, queuepkg.PriorityHigh, msg.Priority)
	assert.Equal(t, queuepkg.StatusPending, msg.Status)
}

func TestSendMessageRequiresQueue(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/messages", map[string]any{
		"payload": map[string]string{"sku": "A-1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessageBulk(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/messages/bulk", map[string]any{
		"queue":    "orders",
		"payloads": []map[string]string{{"sku": "A-1"}, {"sku": "A-2"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msgs []*queuepkg.Message
	decodeJSON(t, rec, &msgs)
	assert.Len(t, msgs, 2)
}

func TestScheduleMessage(t *testing.T) {
	f := newTestServer(t)

	at := time.Now().Add(time.Hour).UTC()
	rec := f.do(t, http.MethodPost, "/messaging/messages/schedule", map[string]any{
		"queue":        "orders",
		"payload":      map[string]string{"sku": "A-1"},
		"scheduled_at": at.Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg queuepkg.Message
	decodeJSON(t, rec, &msg)
	assert.Equal(t, queuepkg.StatusScheduled, msg.Status)
	assert.WithinDuration(t, at, msg.ScheduledFor, time.Second)
}

func TestScheduleMessageRequiresTime(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/messages/schedule", map[string]any{
		"queue":   "orders",
		"payload": map[string]string{"sku": "A-1"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessageStatus(t *testing.T) {
	f := newTestServer(t)

	sent, err := f.queues.Send(context.Background(), "orders", []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/messaging/messages/"+sent.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msg queuepkg.Message
	decodeJSON(t, rec, &msg)
	assert.Equal(t, sent.ID, msg.ID)
}

func TestMessageStatusNotFound(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/messaging/messages/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelMessage(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	sent, err := f.queues.Send(ctx, "orders", []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, "/messaging/messages/"+sent.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, true, body["cancelled"])

	// A cancelled message cannot be cancelled again.
	rec = f.do(t, http.MethodDelete, "/messaging/messages/"+sent.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRetryMessage(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	sent, err := f.queues.Send(ctx, "orders", []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)

	sent.Status = queuepkg.StatusFailed
	sent.RetryCount = 2
	sent.LastError = "boom"
	require.NoError(t, f.log.Update(ctx, sent))

	rec := f.do(t, http.MethodPost, "/messaging/messages/"+sent.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, true, body["retried"])

	stored, err := f.log.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, queuepkg.StatusPending, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
}

func TestRetryMessageExhaustedBudget(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	sent, err := f.queues.Send(ctx, "orders", []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)

	sent.Status = queuepkg.StatusFailed
	sent.RetryCount = sent.MaxRetries
	require.NoError(t, f.log.Update(ctx, sent))

	rec := f.do(t, http.MethodPost, "/messaging/messages/"+sent.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	stored, err := f.log.Get(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, queuepkg.StatusDeadLetter, stored.Status)
}

func TestRetryMessageOnlyForFailed(t *testing.T) {
	f := newTestServer(t)

	sent, err := f.queues.Send(context.Background(), "orders", []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/messaging/messages/"+sent.ID+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueueStats(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	_, err := f.queues.Send(ctx, "orders", []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)
	_, err = f.queues.Send(ctx, "billing", []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/messaging/messages/stats?queue=orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats queuepkg.Stats
	decodeJSON(t, rec, &stats)
	assert.Equal(t, 1, stats.Pending)

	rec = f.do(t, http.MethodGet, "/messaging/messages/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var all []queuepkg.Stats
	decodeJSON(t, rec, &all)
	assert.Len(t, all, 2)
}

func TestPauseAndResumeQueue(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/messaging/queues/orders/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.queues.IsPaused("orders"))

	rec = f.do(t, http.MethodPost, "/messaging/queues/orders/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.queues.IsPaused("orders"))
}

func TestPurgeQueue(t *testing.T) {
	f := newTestServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.queues.Send(ctx, "orders", []byte(`{}`), queuepkg.SendOptions{})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodDelete, "/messaging/queues/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, float64(3), body["purged"])
}

func deadLetter(t *testing.T, f *serverFixture, queue string) *queuepkg.Message {
	t.Helper()
	ctx := context.Background()
	msg, err := f.queues.Send(ctx, queue, []byte(`{}`), queuepkg.SendOptions{})
	require.NoError(t, err)
	msg.Status = queuepkg.StatusDeadLetter
	msg.LastError = "handler failed"
	require.NoError(t, f.log.Update(ctx, msg))
	return msg
}

func TestListDeadLetters(t *testing.T) {
	f := newTestServer(t)
	deadLetter(t, f, "orders")

	rec := f.do(t, http.MethodGet, "/messaging/messages/dead-letter?queue=orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []*queuepkg.Message
	decodeJSON(t, rec, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, queuepkg.StatusDeadLetter, msgs[0].Status)
}

func TestListDeadLettersRequiresQueue(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/messaging/messages/dead-letter", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplayDeadLetter(t *testing.T) {
	f := newTestServer(t)
	msg := deadLetter(t, f, "orders")

	rec := f.do(t, http.MethodPost, "/messaging/messages/dead-letter/"+msg.ID+"/replay", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var replayed queuepkg.Message
	decodeJSON(t, rec, &replayed)
	assert.Equal(t, queuepkg.StatusPending, replayed.Status)
	assert.Empty(t, replayed.LastError)
}

func TestPurgeDeadLetters(t *testing.T) {
	f := newTestServer(t)
	deadLetter(t, f, "orders")
	deadLetter(t, f, "orders")

	rec := f.do(t, http.MethodDelete, "/messaging/messages/dead-letter?queue=orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeJSON(t, rec, &body)
	assert.Equal(t, float64(2), body["purged"])
}
