package runtime

import (
	"context"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

// JobContext describes one handler invocation as seen by job hooks.
type JobContext struct {
	HandlerName string
	Topic       string
	MessageUUID string
	Metadata    message.Metadata
	Context     context.Context
	StartedAt   time.Time
	// Duration is only populated for the done and error callbacks.
	Duration   time.Duration
	RetryCount int
}

// JobHooks are optional lifecycle callbacks around handler execution.
// Nil callbacks are skipped.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge returns hooks that invoke h's callbacks first, then other's.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrHooks(a, b func(JobContext, error)) func(JobContext, error) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// JobHooksMiddleware registers the hooks as router middleware so they
// fire for every handler on the service.
func JobHooksMiddleware(hooks JobHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "job_hooks",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			return jobHooksMiddleware(hooks), nil
		},
	}
}

func jobHooksMiddleware(hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			jobCtx := newJobContext(msg)

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)
			jobCtx.Duration = time.Since(jobCtx.StartedAt)

			if err != nil {
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
				return msgs, err
			}
			if hooks.OnJobDone != nil {
				hooks.OnJobDone(jobCtx)
			}
			return msgs, nil
		}
	}
}

func newJobContext(msg *message.Message) JobContext {
	jobCtx := JobContext{
		MessageUUID: msg.UUID,
		Metadata:    msg.Metadata,
		Context:     msg.Context(),
		StartedAt:   time.Now(),
		HandlerName: msg.Metadata.Get("meshkit_handler"),
		Topic:       msg.Metadata.Get("meshkit_topic"),
	}
	if raw := msg.Metadata.Get(handlerpkg.MetadataKeyRetryCount); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			jobCtx.RetryCount = n
		}
	}
	return jobCtx
}

// LoggingHooks logs every job transition through the service logger.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Info("Job started", loggingpkg.LogFields{
				"handler":      ctx.HandlerName,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"retry_count":  ctx.RetryCount,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Info("Job completed", loggingpkg.LogFields{
				"handler":      ctx.HandlerName,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, loggingpkg.LogFields{
				"handler":      ctx.HandlerName,
				"topic":        ctx.Topic,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
				"retry_count":  ctx.RetryCount,
			})
		},
	}
}

// MetricsHooks adapts plain counter callbacks into job hooks. Any of the
// three callbacks may be nil.
func MetricsHooks(onStart, onDone, onError func(handlerName, topic string)) JobHooks {
	hooks := JobHooks{}
	if onStart != nil {
		hooks.OnJobStart = func(ctx JobContext) { onStart(ctx.HandlerName, ctx.Topic) }
	}
	if onDone != nil {
		hooks.OnJobDone = func(ctx JobContext) { onDone(ctx.HandlerName, ctx.Topic) }
	}
	if onError != nil {
		hooks.OnJobError = func(ctx JobContext, err error) { onError(ctx.HandlerName, ctx.Topic) }
	}
	return hooks
}

// AlertingHooks fires alertFunc on failed jobs only.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{OnJobError: alertFunc}
}
