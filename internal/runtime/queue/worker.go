package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	handlerspkg "github.com/lernio/meshkit/internal/runtime/handlers"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
)

// Handler processes one claimed message. A non-nil error (or a panic) counts
// as a failed attempt and consumes one retry.
type Handler func(ctx context.Context, msg *Message) error

// Pool runs a fixed number of workers that claim due messages from the log
// and invoke the handler registered for their queue.
type Pool struct {
	manager      *Manager
	logger       loggingpkg.ServiceLogger
	tracer       *tracingpkg.Tracer
	workers      int
	timeout      time.Duration
	pollInterval time.Duration
	backoff      func(retryCount int) time.Duration
	service      string

	mu       sync.RWMutex
	handlers map[string]Handler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// PoolOption customises a Pool.
type PoolOption func(*Pool)

// WithTracer records a consumer span around every handled message,
// continuing the trace injected by Send.
func WithTracer(tracer *tracingpkg.Tracer, service string) PoolOption {
	return func(p *Pool) {
		p.tracer = tracer
		p.service = service
	}
}

// WithPollInterval sets how long an idle worker sleeps before re-polling.
func WithPollInterval(interval time.Duration) PoolOption {
	return func(p *Pool) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithBackoff overrides the retry backoff schedule, for tests.
func WithBackoff(backoff func(retryCount int) time.Duration) PoolOption {
	return func(p *Pool) { p.backoff = backoff }
}

// NewPool builds a worker pool. workers <= 0 defaults to 4; timeout <= 0
// defaults to 30s per handler invocation.
func NewPool(manager *Manager, logger loggingpkg.ServiceLogger, workers int, timeout time.Duration, opts ...PoolOption) *Pool {
	if manager == nil {
		panic("meshkit: queue manager cannot be nil")
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	if workers <= 0 {
		workers = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	p := &Pool{
		manager:      manager,
		logger:       logger,
		workers:      workers,
		timeout:      timeout,
		pollInterval: 250 * time.Millisecond,
		backoff:      defaultBackoff,
		handlers:     map[string]Handler{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// defaultBackoff doubles per attempt, capped at about a minute.
func defaultBackoff(retryCount int) time.Duration {
	return retryBackoff(retryCount, time.Second)
}

// Handle registers the handler for a logical queue. Queues without a handler
// are left untouched by the pool.
func (p *Pool) Handle(queue string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[queue] = handler
}

// Start launches the workers. They run until ctx is cancelled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(runCtx)
	}
}

// Stop cancels the workers and waits for in-flight handlers to return.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := p.manager.log.Dequeue(ctx, p.manager.now().UTC(), p.skip)
		if err != nil {
			p.logger.Error("dequeue failed", err, nil)
			p.sleep(ctx)
			continue
		}
		if msg == nil {
			p.sleep(ctx)
			continue
		}
		p.process(ctx, msg)
	}
}

// skip filters queues a worker must not drain: paused ones and those with
// no registered handler.
func (p *Pool) skip(queue string) bool {
	if p.manager.IsPaused(queue) {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.handlers[queue]
	return !ok
}

func (p *Pool) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}

func (p *Pool) process(ctx context.Context, msg *Message) {
	p.mu.RLock()
	handler := p.handlers[msg.Queue]
	p.mu.RUnlock()
	if handler == nil {
		// The handler was removed between skip and claim; put the message back.
		msg.Status = StatusPending
		if err := p.manager.log.Update(ctx, msg); err != nil {
			p.logger.Error("failed to release message", err, loggingpkg.LogFields{"message_id": msg.ID})
		}
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, p.messageTimeout(msg))
	defer cancel()

	var span *tracingpkg.Span
	if p.tracer != nil {
		handlerCtx = tracingpkg.Extract(handlerCtx, msg.Metadata)
		handlerCtx, span = p.tracer.StartSpan(handlerCtx, p.service, "queue.process",
			tracingpkg.WithTag("queue", msg.Queue),
			tracingpkg.WithTag("message_id", msg.ID))
	}

	err := p.invoke(handlerCtx, handler, msg)
	if err == nil && handlerCtx.Err() != nil {
		err = handlerCtx.Err()
	}
	if p.tracer != nil {
		p.tracer.Finish(span, err)
	}

	if err == nil {
		p.complete(ctx, msg)
		return
	}
	p.fail(ctx, msg, err)
}

// messageTimeout resolves how long one invocation may run: the message's
// own timeout metadata when present, the pool timeout otherwise.
func (p *Pool) messageTimeout(msg *Message) time.Duration {
	raw := msg.Metadata[handlerspkg.MetadataKeyTimeoutMs]
	if raw == "" {
		return p.timeout
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms <= 0 {
		return p.timeout
	}
	return time.Duration(ms) * time.Millisecond
}

// invoke runs the handler, converting panics into errors so one bad message
// cannot kill a worker.
func (p *Pool) invoke(ctx context.Context, handler Handler, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func (p *Pool) complete(ctx context.Context, msg *Message) {
	now := p.manager.now().UTC()
	msg.Status = StatusCompleted
	msg.CompletedAt = now
	if err := p.manager.log.Update(ctx, msg); err != nil {
		p.logger.Error("failed to mark message completed", err, loggingpkg.LogFields{"message_id": msg.ID})
		return
	}
	observeCompleted(msg.Queue)
}

func (p *Pool) fail(ctx context.Context, msg *Message, handlerErr error) {
	now := p.manager.now().UTC()
	msg.RetryCount++
	msg.LastError = handlerErr.Error()

	if msg.RetryCount > msg.MaxRetries {
		// The final attempt does not consume a retry; keep the persisted
		// count inside the budget.
		msg.RetryCount = msg.MaxRetries
		msg.Status = StatusDeadLetter
		msg.CompletedAt = now
		observeDeadLettered(msg.Queue)
		if p.manager.dlqHooks.OnDeadLetter != nil {
			p.manager.dlqHooks.OnDeadLetter(msg.Queue, msg.RetryCount, now.Sub(msg.CreatedAt))
		}
		p.logger.Error("message dead-lettered", handlerErr, loggingpkg.LogFields{
			"queue":       msg.Queue,
			"message_id":  msg.ID,
			"retry_count": msg.RetryCount,
		})
	} else {
		msg.Status = StatusFailed
		msg.ScheduledFor = now.Add(p.backoff(msg.RetryCount))
		observeFailed(msg.Queue)
		p.logger.Debug("message attempt failed", loggingpkg.LogFields{
			"queue":       msg.Queue,
			"message_id":  msg.ID,
			"retry_count": msg.RetryCount,
			"retry_at":    msg.ScheduledFor,
		})
	}

	if err := p.manager.log.Update(ctx, msg); err != nil {
		p.logger.Error("failed to record message failure", err, loggingpkg.LogFields{"message_id": msg.ID})
	}
}
