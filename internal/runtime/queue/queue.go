package queue

import (
	"context"
	"sync"
	"time"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	handlerspkg "github.com/lernio/meshkit/internal/runtime/handlers"
	idspkg "github.com/lernio/meshkit/internal/runtime/ids"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
)

// SendOptions customises a single enqueue. Zero values use the manager
// defaults: lowest priority, immediate delivery, the default retry budget.
type SendOptions struct {
	// Priority orders delivery within the queue (9 first, 0 last).
	Priority Priority
	// MaxRetries overrides the retry budget for this message.
	MaxRetries int
	// Metadata is attached to the message. Trace context from ctx is added
	// on top of it.
	Metadata metadatapkg.Metadata
	// Delay postpones delivery relative to now. Ignored when At is set.
	Delay time.Duration
	// At postpones delivery until an absolute time.
	At time.Time
}

// DeadLetterHooks observe dead letter transitions on top of the built-in
// Prometheus counters. Nil callbacks are skipped.
type DeadLetterHooks struct {
	// OnDeadLetter fires when a message exhausts its retry budget. age is
	// the time since the message was first enqueued.
	OnDeadLetter func(queue string, retryCount int, age time.Duration)
	// OnReplay fires when a dead-lettered message is re-enqueued.
	OnReplay func(queue string)
	// OnPurge fires when dead letters are dropped in bulk.
	OnPurge func(queue string, count int)
}

// Manager owns the durable message log and the logical queues on top of it.
type Manager struct {
	log            MessageLog
	logger         loggingpkg.ServiceLogger
	maxRetries     int
	baseRetryDelay time.Duration
	now            func() time.Time
	dlqHooks       DeadLetterHooks

	mu     sync.RWMutex
	paused map[string]bool
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithBaseRetryDelay sets the unit of the exponential retry backoff.
func WithBaseRetryDelay(delay time.Duration) ManagerOption {
	return func(m *Manager) {
		if delay > 0 {
			m.baseRetryDelay = delay
		}
	}
}

// WithDeadLetterHooks installs callbacks that observe dead letter
// transitions made by the manager and its worker pools.
func WithDeadLetterHooks(hooks DeadLetterHooks) ManagerOption {
	return func(m *Manager) { m.dlqHooks = hooks }
}

// NewManager builds a queue manager. maxRetries <= 0 defaults to 3.
func NewManager(log MessageLog, logger loggingpkg.ServiceLogger, maxRetries int, opts ...ManagerOption) *Manager {
	if log == nil {
		panic("meshkit: message log cannot be nil")
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	m := &Manager{
		log:            log,
		logger:         logger,
		maxRetries:     maxRetries,
		baseRetryDelay: time.Second,
		now:            time.Now,
		paused:         map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send appends a message to a logical queue and returns the stored record.
// Trace context from ctx is injected into the message metadata so consumers
// continue the caller's trace, and a correlation id is minted when the
// caller did not supply one. Sending to a paused queue fails with
// ErrQueuePaused.
func (m *Manager) Send(ctx context.Context, queue string, payload []byte, opts SendOptions) (*Message, error) {
	if queue == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if m.IsPaused(queue) {
		return nil, errspkg.ErrQueuePaused
	}

	msg := m.buildMessage(ctx, queue, payload, opts)
	if err := m.log.Append(ctx, msg); err != nil {
		return nil, err
	}

	m.logger.Debug("message enqueued", loggingpkg.LogFields{
		"queue":      queue,
		"message_id": msg.ID,
		"priority":   int(msg.Priority),
		"status":     string(msg.Status),
	})
	observeEnqueued(queue)
	return msg.clone(), nil
}

// SendBulk enqueues several payloads with shared options in a single batch
// append, so either all of them land in the log or none do.
func (m *Manager) SendBulk(ctx context.Context, queue string, payloads [][]byte, opts SendOptions) ([]*Message, error) {
	if queue == "" {
		return nil, errspkg.ErrTopicRequired
	}
	if m.IsPaused(queue) {
		return nil, errspkg.ErrQueuePaused
	}

	messages := make([]*Message, len(payloads))
	for i, payload := range payloads {
		messages[i] = m.buildMessage(ctx, queue, payload, opts)
	}
	if err := m.log.AppendBatch(ctx, messages); err != nil {
		return nil, err
	}

	result := make([]*Message, len(messages))
	for i, msg := range messages {
		observeEnqueued(queue)
		result[i] = msg.clone()
	}
	m.logger.Debug("batch enqueued", loggingpkg.LogFields{
		"queue":    queue,
		"messages": len(result),
	})
	return result, nil
}

// buildMessage assembles the durable record for one enqueue: fresh ULID,
// trace and correlation metadata, clamped priority and resolved schedule.
func (m *Manager) buildMessage(ctx context.Context, queue string, payload []byte, opts SendOptions) *Message {
	now := m.now().UTC()

	md := tracingpkg.Inject(ctx, opts.Metadata)
	if md[handlerspkg.MetadataKeyCorrelationID] == "" {
		md = md.With(handlerspkg.MetadataKeyCorrelationID, idspkg.CreateULID())
	}

	msg := &Message{
		ID:           idspkg.CreateULID(),
		Queue:        queue,
		Payload:      payload,
		Metadata:     md,
		Priority:     clampPriority(opts.Priority),
		Status:       StatusPending,
		MaxRetries:   m.maxRetries,
		CreatedAt:    now,
		ScheduledFor: now,
	}
	if opts.MaxRetries > 0 {
		msg.MaxRetries = opts.MaxRetries
	}

	switch {
	case !opts.At.IsZero():
		msg.ScheduledFor = opts.At.UTC()
	case opts.Delay > 0:
		msg.ScheduledFor = now.Add(opts.Delay)
	}
	if msg.ScheduledFor.After(now) {
		msg.Status = StatusScheduled
	}
	return msg
}

// Schedule enqueues a message for delivery at an absolute time.
func (m *Manager) Schedule(ctx context.Context, queue string, payload []byte, at time.Time, opts SendOptions) (*Message, error) {
	opts.At = at
	return m.Send(ctx, queue, payload, opts)
}

// Cancel stops a message that has not been picked up yet. The record stays
// in the log as FAILED with reason "cancelled" and is never redelivered.
// Cancel reports false when the message was already processing or finished.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	msg, err := m.log.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if msg.Cancelled() {
		return false, nil
	}

	switch msg.Status {
	case StatusPending, StatusScheduled, StatusFailed:
		msg.Status = StatusFailed
		msg.LastError = CancelReason
		msg.CompletedAt = m.now().UTC()
		if err := m.log.Update(ctx, msg); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// Retry schedules another attempt for a failed message, consuming one retry
// from its budget. The attempt is delayed exponentially, doubling with each
// consumed retry. When the budget is already exhausted the message moves to
// the dead letter queue and Retry reports false.
func (m *Manager) Retry(ctx context.Context, id string) (bool, error) {
	msg, err := m.log.Get(ctx, id)
	if err != nil {
		return false, err
	}

	switch msg.Status {
	case StatusDeadLetter:
		return false, nil
	case StatusFailed:
	default:
		return false, errspkg.ErrMessageNotRetryable
	}

	now := m.now().UTC()
	if msg.RetryCount >= msg.MaxRetries {
		msg.Status = StatusDeadLetter
		msg.CompletedAt = now
		if err := m.log.Update(ctx, msg); err != nil {
			return false, err
		}
		observeDeadLettered(msg.Queue)
		if m.dlqHooks.OnDeadLetter != nil {
			m.dlqHooks.OnDeadLetter(msg.Queue, msg.RetryCount, now.Sub(msg.CreatedAt))
		}
		m.logger.Info("retry budget exhausted, message dead-lettered", loggingpkg.LogFields{
			"queue":      msg.Queue,
			"message_id": msg.ID,
		})
		return false, nil
	}

	msg.RetryCount++
	msg.Status = StatusPending
	msg.ScheduledFor = now.Add(retryBackoff(msg.RetryCount, m.baseRetryDelay))
	msg.CompletedAt = time.Time{}
	if err := m.log.Update(ctx, msg); err != nil {
		return false, err
	}
	m.logger.Debug("message retry scheduled", loggingpkg.LogFields{
		"queue":       msg.Queue,
		"message_id":  msg.ID,
		"retry_count": msg.RetryCount,
		"retry_at":    msg.ScheduledFor,
	})
	return true, nil
}

// Replay re-enqueues a dead-lettered message with a fresh retry budget.
func (m *Manager) Replay(ctx context.Context, id string) (*Message, error) {
	msg, err := m.log.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.Status != StatusDeadLetter {
		return nil, errspkg.ErrMessageNotRetryable
	}

	msg.Status = StatusPending
	msg.RetryCount = 0
	msg.LastError = ""
	msg.ScheduledFor = m.now().UTC()
	msg.CompletedAt = time.Time{}
	if err := m.log.Update(ctx, msg); err != nil {
		return nil, err
	}
	observeReplayed(msg.Queue)
	if m.dlqHooks.OnReplay != nil {
		m.dlqHooks.OnReplay(msg.Queue)
	}
	return msg.clone(), nil
}

// Status returns the current record of one message.
func (m *Manager) Status(ctx context.Context, id string) (*Message, error) {
	return m.log.Get(ctx, id)
}

// Stats summarises one queue, including whether it is paused.
func (m *Manager) Stats(ctx context.Context, queue string) (Stats, error) {
	stats, err := m.log.Stats(ctx, queue)
	if err != nil {
		return Stats{}, err
	}
	stats.Paused = m.IsPaused(queue)
	return stats, nil
}

// Queues lists the known logical queues.
func (m *Manager) Queues(ctx context.Context) ([]string, error) {
	return m.log.Queues(ctx)
}

// List returns up to limit messages of a queue filtered by status.
func (m *Manager) List(ctx context.Context, queue string, status MessageStatus, limit int) ([]*Message, error) {
	return m.log.List(ctx, queue, status, limit)
}

// Pause stops workers from picking up messages of a queue and rejects new
// sends until Resume.
func (m *Manager) Pause(queue string) {
	m.mu.Lock()
	m.paused[queue] = true
	m.mu.Unlock()
	m.logger.Info("queue paused", loggingpkg.LogFields{"queue": queue})
}

// Resume re-enables a paused queue.
func (m *Manager) Resume(queue string) {
	m.mu.Lock()
	delete(m.paused, queue)
	m.mu.Unlock()
	m.logger.Info("queue resumed", loggingpkg.LogFields{"queue": queue})
}

// IsPaused reports whether a queue is paused.
func (m *Manager) IsPaused(queue string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused[queue]
}

// Purge removes all messages of a queue and returns how many were removed.
func (m *Manager) Purge(ctx context.Context, queue string) (int, error) {
	removed, err := m.log.Purge(ctx, queue)
	if err != nil {
		return 0, err
	}
	m.logger.Info("queue purged", loggingpkg.LogFields{"queue": queue, "removed": removed})
	return removed, nil
}

// retryBackoff doubles per attempt: 2*base after the first failure, then
// 4*base, 8*base, capped at 64x.
func retryBackoff(retryCount int, base time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 6 {
		retryCount = 6
	}
	return time.Duration(1<<uint(retryCount)) * base
}

func clampPriority(p Priority) Priority {
	if p < PriorityLow {
		return PriorityLow
	}
	if p > PriorityCritical {
		return PriorityCritical
	}
	return p
}
