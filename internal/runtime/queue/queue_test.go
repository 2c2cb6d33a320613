package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	handlerspkg "github.com/lernio/meshkit/internal/runtime/handlers"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *MemoryLog) {
	t.Helper()
	log := NewMemoryLog()
	logger := loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	return NewManager(log, logger, 0, opts...), log
}

func TestSendStoresPendingMessage(t *testing.T) {
	manager, _ := newTestManager(t)

	msg, err := manager.Send(context.Background(), "orders", []byte(`{"id":1}`), SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected a generated message id")
	}
	if msg.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, msg.Status)
	}
	if msg.MaxRetries != 3 {
		t.Errorf("expected default retry budget 3, got %d", msg.MaxRetries)
	}

	stored, err := manager.Status(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("status lookup failed: %v", err)
	}
	if string(stored.Payload) != `{"id":1}` {
		t.Errorf("unexpected payload %q", stored.Payload)
	}
}

func TestSendRequiresQueue(t *testing.T) {
	manager, _ := newTestManager(t)

	if _, err := manager.Send(context.Background(), "", nil, SendOptions{}); !errors.Is(err, errspkg.ErrTopicRequired) {
		t.Errorf("expected ErrTopicRequired, got %v", err)
	}
}

func TestSendClampsPriority(t *testing.T) {
	manager, _ := newTestManager(t)

	msg, err := manager.Send(context.Background(), "orders", nil, SendOptions{Priority: 42})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.Priority != PriorityCritical {
		t.Errorf("expected priority clamped to %d, got %d", PriorityCritical, msg.Priority)
	}

	msg, err = manager.Send(context.Background(), "orders", nil, SendOptions{Priority: -3})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.Priority != PriorityLow {
		t.Errorf("expected priority clamped to %d, got %d", PriorityLow, msg.Priority)
	}
}

func TestSendWithDelayIsScheduled(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(t, WithClock(clock.Now))

	msg, err := manager.Send(context.Background(), "orders", nil, SendOptions{Delay: 5 * time.Minute})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.Status != StatusScheduled {
		t.Errorf("expected status %s, got %s", StatusScheduled, msg.Status)
	}
	if want := clock.Now().Add(5 * time.Minute); !msg.ScheduledFor.Equal(want) {
		t.Errorf("expected delivery at %v, got %v", want, msg.ScheduledFor)
	}
}

func TestScheduleAbsoluteTime(t *testing.T) {
	clock := newFakeClock()
	manager, log := newTestManager(t, WithClock(clock.Now))
	at := clock.Now().Add(time.Hour)

	msg, err := manager.Schedule(context.Background(), "orders", nil, at, SendOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if msg.Status != StatusScheduled {
		t.Errorf("expected status %s, got %s", StatusScheduled, msg.Status)
	}

	// Not due yet.
	claimed, err := log.Dequeue(context.Background(), clock.Now(), nil)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no due message, got %s", claimed.ID)
	}

	clock.Advance(time.Hour)
	claimed, err = log.Dequeue(context.Background(), clock.Now(), nil)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if claimed == nil || claimed.ID != msg.ID {
		t.Fatalf("expected message %s to become due, got %+v", msg.ID, claimed)
	}
}

func TestSendToPausedQueueFails(t *testing.T) {
	manager, _ := newTestManager(t)
	manager.Pause("orders")

	if _, err := manager.Send(context.Background(), "orders", nil, SendOptions{}); !errors.Is(err, errspkg.ErrQueuePaused) {
		t.Errorf("expected ErrQueuePaused, got %v", err)
	}

	manager.Resume("orders")
	if _, err := manager.Send(context.Background(), "orders", nil, SendOptions{}); err != nil {
		t.Errorf("expected send to succeed after resume, got %v", err)
	}
}

func TestSendInjectsTraceContext(t *testing.T) {
	manager, _ := newTestManager(t)
	store := tracingpkg.NewMemoryStore(time.Hour)
	logger := loggingpkg.NewWatermillServiceLogger(watermill.NopLogger{})
	tracer := tracingpkg.NewTracer(store, logger)
	ctx, span := tracer.StartSpan(context.Background(), "checkout", "order.create")

	msg, err := manager.Send(ctx, "orders", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got := msg.Metadata[handlerspkg.MetadataKeyTraceID]; got != span.TraceID {
		t.Errorf("expected trace id %s in metadata, got %q", span.TraceID, got)
	}
	if got := msg.Metadata[handlerspkg.MetadataKeySpanID]; got != span.SpanID {
		t.Errorf("expected span id %s in metadata, got %q", span.SpanID, got)
	}
}

func TestSendMintsCorrelationID(t *testing.T) {
	manager, _ := newTestManager(t)

	msg, err := manager.Send(context.Background(), "orders", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if msg.Metadata[handlerspkg.MetadataKeyCorrelationID] == "" {
		t.Error("expected a correlation id to be minted")
	}

	// Caller-supplied correlation ids are kept.
	supplied, err := manager.Send(context.Background(), "orders", nil, SendOptions{
		Metadata: metadatapkg.New(handlerspkg.MetadataKeyCorrelationID, "corr-42"),
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if got := supplied.Metadata[handlerspkg.MetadataKeyCorrelationID]; got != "corr-42" {
		t.Errorf("expected supplied correlation id to survive, got %q", got)
	}
}

func TestSendBulk(t *testing.T) {
	manager, _ := newTestManager(t)

	msgs, err := manager.SendBulk(context.Background(), "orders", [][]byte{[]byte("a"), []byte("b"), []byte("c")}, SendOptions{})
	if err != nil {
		t.Fatalf("bulk send failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}

	stats, err := manager.Stats(context.Background(), "orders")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Pending != 3 {
		t.Errorf("expected 3 pending messages, got %d", stats.Pending)
	}

	manager.Pause("orders")
	if _, err := manager.SendBulk(context.Background(), "orders", [][]byte{[]byte("d")}, SendOptions{}); !errors.Is(err, errspkg.ErrQueuePaused) {
		t.Errorf("expected ErrQueuePaused, got %v", err)
	}
}

func TestCancelWaitingMessage(t *testing.T) {
	manager, log := newTestManager(t)

	msg, err := manager.Send(context.Background(), "orders", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	cancelled, err := manager.Cancel(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if !cancelled {
		t.Error("expected waiting message to be cancelled")
	}

	stored, err := manager.Status(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("status lookup failed: %v", err)
	}
	if stored.Status != StatusFailed {
		t.Errorf("expected status %s after cancel, got %s", StatusFailed, stored.Status)
	}
	if stored.LastError != CancelReason {
		t.Errorf("expected reason %q, got %q", CancelReason, stored.LastError)
	}
	if !stored.Cancelled() {
		t.Error("expected the record to report itself cancelled")
	}

	// A cancelled message is settled: workers never claim it again.
	claimed, err := log.Dequeue(context.Background(), time.Now().UTC().Add(time.Hour), nil)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if claimed != nil {
		t.Errorf("expected no claimable message, got %s", claimed.ID)
	}

	// Already cancelled, nothing left to stop.
	cancelled, err = manager.Cancel(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	if cancelled {
		t.Error("expected cancel of a terminal message to report false")
	}
}

func TestCancelCompletedMessageReportsFalse(t *testing.T) {
	manager, log := newTestManager(t)

	msg, err := manager.Send(context.Background(), "orders", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msg.Status = StatusCompleted
	if err := log.Update(context.Background(), msg); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	cancelled, err := manager.Cancel(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled {
		t.Error("expected cancel of a completed message to report false")
	}
}

func TestCancelUnknownMessage(t *testing.T) {
	manager, _ := newTestManager(t)

	if _, err := manager.Cancel(context.Background(), "nope"); !errors.Is(err, errspkg.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestRetryConsumesBudgetAndBacksOff(t *testing.T) {
	clock := newFakeClock()
	manager, log := newTestManager(t, WithClock(clock.Now))
	ctx := context.Background()

	msg, err := manager.Send(ctx, "orders", nil, SendOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		msg.Status = StatusFailed
		msg.LastError = "boom"
		if err := log.Update(ctx, msg); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		retried, err := manager.Retry(ctx, msg.ID)
		if err != nil {
			t.Fatalf("retry %d failed: %v", attempt, err)
		}
		if !retried {
			t.Fatalf("expected retry %d of 3 to be accepted", attempt)
		}

		msg, _ = log.Get(ctx, msg.ID)
		if msg.Status != StatusPending {
			t.Errorf("expected status %s after retry, got %s", StatusPending, msg.Status)
		}
		if msg.RetryCount != attempt {
			t.Errorf("expected retry count %d, got %d", attempt, msg.RetryCount)
		}
		wantDelay := time.Duration(1<<uint(attempt)) * time.Second
		if got := msg.ScheduledFor.Sub(clock.Now().UTC()); got != wantDelay {
			t.Errorf("retry %d: expected backoff %s, got %s", attempt, wantDelay, got)
		}
	}

	// Budget exhausted: the next retry moves the message to the DLQ.
	msg.Status = StatusFailed
	if err := log.Update(ctx, msg); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	retried, err := manager.Retry(ctx, msg.ID)
	if err != nil {
		t.Fatalf("final retry failed: %v", err)
	}
	if retried {
		t.Error("expected retry to be rejected once the budget is spent")
	}
	stored, _ := log.Get(ctx, msg.ID)
	if stored.Status != StatusDeadLetter {
		t.Errorf("expected status %s, got %s", StatusDeadLetter, stored.Status)
	}
	if stored.RetryCount != 3 {
		t.Errorf("retry count must not exceed the budget, got %d", stored.RetryCount)
	}
}

func TestRetryOnDeadLetterReportsFalse(t *testing.T) {
	manager, log := newTestManager(t)
	ctx := context.Background()

	msg, _ := manager.Send(ctx, "orders", nil, SendOptions{})
	msg.Status = StatusDeadLetter
	if err := log.Update(ctx, msg); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	retried, err := manager.Retry(ctx, msg.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if retried {
		t.Error("expected retry of a dead-lettered message to report false")
	}
}

func TestRetryRejectsNonFailedMessage(t *testing.T) {
	manager, _ := newTestManager(t)

	msg, err := manager.Send(context.Background(), "orders", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := manager.Retry(context.Background(), msg.ID); !errors.Is(err, errspkg.ErrMessageNotRetryable) {
		t.Errorf("expected ErrMessageNotRetryable for a pending message, got %v", err)
	}
}

func TestReplayResetsBudget(t *testing.T) {
	manager, log := newTestManager(t)
	ctx := context.Background()

	msg, err := manager.Send(ctx, "orders", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	msg.Status = StatusDeadLetter
	msg.RetryCount = 4
	msg.LastError = "boom"
	if err := log.Update(ctx, msg); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	replayed, err := manager.Replay(ctx, msg.ID)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replayed.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, replayed.Status)
	}
	if replayed.RetryCount != 0 {
		t.Errorf("expected retry count reset, got %d", replayed.RetryCount)
	}
	if replayed.LastError != "" {
		t.Errorf("expected last error cleared, got %q", replayed.LastError)
	}
}

func TestReplayOnlyForDeadLetters(t *testing.T) {
	manager, _ := newTestManager(t)

	msg, err := manager.Send(context.Background(), "orders", nil, SendOptions{})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if _, err := manager.Replay(context.Background(), msg.ID); !errors.Is(err, errspkg.ErrMessageNotRetryable) {
		t.Errorf("expected ErrMessageNotRetryable for a pending message, got %v", err)
	}
}

func TestDequeueOrdersByPriority(t *testing.T) {
	manager, log := newTestManager(t)
	ctx := context.Background()

	low, _ := manager.Send(ctx, "orders", []byte("low"), SendOptions{Priority: PriorityLow})
	high, _ := manager.Send(ctx, "orders", []byte("high"), SendOptions{Priority: PriorityHigh})
	critical, _ := manager.Send(ctx, "orders", []byte("critical"), SendOptions{Priority: PriorityCritical})
	normal, _ := manager.Send(ctx, "orders", []byte("normal"), SendOptions{Priority: PriorityNormal})

	want := []string{critical.ID, high.ID, normal.ID, low.ID}
	for i, id := range want {
		claimed, err := log.Dequeue(ctx, time.Now().UTC(), nil)
		if err != nil {
			t.Fatalf("dequeue %d failed: %v", i, err)
		}
		if claimed == nil || claimed.ID != id {
			t.Fatalf("dequeue %d: expected %s, got %+v", i, id, claimed)
		}
	}
}

func TestDequeueSkipsFilteredQueues(t *testing.T) {
	manager, log := newTestManager(t)
	ctx := context.Background()

	manager.Send(ctx, "orders", nil, SendOptions{Priority: PriorityHigh})
	billed, _ := manager.Send(ctx, "billing", nil, SendOptions{})

	claimed, err := log.Dequeue(ctx, time.Now().UTC(), func(queue string) bool { return queue == "orders" })
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if claimed == nil || claimed.ID != billed.ID {
		t.Fatalf("expected billing message despite lower priority, got %+v", claimed)
	}
}

func TestStatsAndQueues(t *testing.T) {
	manager, log := newTestManager(t)
	ctx := context.Background()

	manager.Send(ctx, "orders", nil, SendOptions{})
	failed, _ := manager.Send(ctx, "orders", nil, SendOptions{})
	failed.Status = StatusFailed
	log.Update(ctx, failed)
	manager.Send(ctx, "billing", nil, SendOptions{})
	manager.Pause("orders")

	stats, err := manager.Stats(ctx, "orders")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Pending != 1 || stats.Failed != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
	if !stats.Paused {
		t.Error("expected stats to report the queue as paused")
	}

	queues, err := manager.Queues(ctx)
	if err != nil {
		t.Fatalf("queues failed: %v", err)
	}
	if len(queues) != 2 || queues[0] != "billing" || queues[1] != "orders" {
		t.Errorf("unexpected queue list %v", queues)
	}
}

func TestPurgeRemovesAllMessages(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	manager.Send(ctx, "orders", nil, SendOptions{})
	manager.Send(ctx, "orders", nil, SendOptions{})
	manager.Send(ctx, "billing", nil, SendOptions{})

	removed, err := manager.Purge(ctx, "orders")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	stats, _ := manager.Stats(ctx, "orders")
	if stats.Pending != 0 {
		t.Errorf("expected empty queue, got %+v", stats)
	}
	stats, _ = manager.Stats(ctx, "billing")
	if stats.Pending != 1 {
		t.Errorf("expected billing untouched, got %+v", stats)
	}
}

func TestDeadLetterListingAndReplay(t *testing.T) {
	manager, log := newTestManager(t)
	ctx := context.Background()

	var dead []*Message
	for i := 0; i < 3; i++ {
		msg, _ := manager.Send(ctx, "orders", nil, SendOptions{})
		msg.Status = StatusDeadLetter
		msg.RetryCount = 4
		log.Update(ctx, msg)
		dead = append(dead, msg)
	}
	manager.Send(ctx, "orders", nil, SendOptions{})

	listed, err := manager.DeadLetters(ctx, "orders", 0)
	if err != nil {
		t.Fatalf("dead letter listing failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 dead letters, got %d", len(listed))
	}

	replayed, err := manager.ReplayDeadLetters(ctx, "orders")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replayed != 3 {
		t.Errorf("expected 3 replayed, got %d", replayed)
	}
	for _, msg := range dead {
		stored, _ := log.Get(ctx, msg.ID)
		if stored.Status != StatusPending {
			t.Errorf("expected %s pending after replay, got %s", msg.ID, stored.Status)
		}
	}
}

func TestPurgeDeadLettersLeavesOthers(t *testing.T) {
	manager, log := newTestManager(t)
	ctx := context.Background()

	msg, _ := manager.Send(ctx, "orders", nil, SendOptions{})
	msg.Status = StatusDeadLetter
	log.Update(ctx, msg)
	manager.Send(ctx, "orders", nil, SendOptions{})

	removed, err := manager.PurgeDeadLetters(ctx, "orders")
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	stats, _ := manager.Stats(ctx, "orders")
	if stats.Pending != 1 || stats.DeadLetter != 0 {
		t.Errorf("unexpected counts after purge: %+v", stats)
	}
}
