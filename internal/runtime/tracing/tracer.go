package tracing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

type ctxKey int

const (
	activeSpanKey ctxKey = iota
	remoteParentKey
)

// spanRef identifies a parent span extracted from incoming message headers.
type spanRef struct {
	traceID string
	spanID  string
}

// Tracer creates spans, links them through context.Context and records them
// in a SpanStore when they finish.
type Tracer struct {
	store      SpanStore
	logger     loggingpkg.ServiceLogger
	sampleRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// TracerOption customises a Tracer.
type TracerOption func(*Tracer)

// WithSampleRate sets the fraction of traces that are recorded, in [0,1].
// Child spans inherit the sampling decision of their parent.
func WithSampleRate(rate float64) TracerOption {
	return func(t *Tracer) {
		if rate < 0 {
			rate = 0
		}
		if rate > 1 {
			rate = 1
		}
		t.sampleRate = rate
	}
}

// NewTracer builds a Tracer backed by the given store. Every trace is
// recorded unless WithSampleRate lowers the rate.
func NewTracer(store SpanStore, logger loggingpkg.ServiceLogger, opts ...TracerOption) *Tracer {
	if store == nil {
		panic("meshkit: span store cannot be nil")
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	t := &Tracer{
		store:      store,
		logger:     logger,
		sampleRate: 1,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan begins a span for the given service operation. The parent is the
// active span in ctx, or a remote parent placed there by Extract; with
// neither, a new trace is started. The returned context carries the new span
// so nested calls form a tree.
func (t *Tracer) StartSpan(ctx context.Context, service, operation string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		SpanID:    newSpanID(),
		Service:   service,
		Operation: operation,
		Kind:      trace.SpanKindInternal,
		StartTime: time.Now().UTC(),
		Status:    StatusInProgress,
	}

	switch {
	case SpanFromContext(ctx) != nil:
		parent := SpanFromContext(ctx)
		span.TraceID = parent.TraceID
		span.ParentSpanID = parent.SpanID
		span.sampled = parent.sampled
	case remoteParent(ctx) != nil:
		parent := remoteParent(ctx)
		span.TraceID = parent.traceID
		span.ParentSpanID = parent.spanID
		span.sampled = true
	default:
		span.TraceID = newTraceID()
		span.sampled = t.sample()
	}

	for _, opt := range opts {
		opt(span)
	}

	return context.WithValue(ctx, activeSpanKey, span), span
}

// StartTrace begins a fresh trace with a root server span, ignoring any
// active or remote parent in ctx. Use it at the entry point of a request.
func (t *Tracer) StartTrace(ctx context.Context, service, operation string, opts ...SpanOption) (context.Context, *Span) {
	span := &Span{
		TraceID:   newTraceID(),
		SpanID:    newSpanID(),
		Service:   service,
		Operation: operation,
		Kind:      trace.SpanKindServer,
		StartTime: time.Now().UTC(),
		Status:    StatusInProgress,
		sampled:   t.sample(),
	}
	for _, opt := range opts {
		opt(span)
	}
	return context.WithValue(ctx, activeSpanKey, span), span
}

// StartChildSpan begins a span under an explicit parent, regardless of what
// ctx carries. A nil parent falls back to StartSpan.
func (t *Tracer) StartChildSpan(ctx context.Context, parent *Span, service, operation string, opts ...SpanOption) (context.Context, *Span) {
	if parent == nil {
		return t.StartSpan(ctx, service, operation, opts...)
	}
	span := &Span{
		TraceID:      parent.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: parent.SpanID,
		Service:      service,
		Operation:    operation,
		Kind:         trace.SpanKindInternal,
		StartTime:    time.Now().UTC(),
		Status:       StatusInProgress,
		sampled:      parent.sampled,
	}
	for _, opt := range opts {
		opt(span)
	}
	return context.WithValue(ctx, activeSpanKey, span), span
}

// Finish completes the span, computing its duration and status, and records
// it. A non-nil err marks the span as failed. Recording is fire-and-forget:
// store failures are logged, never returned.
func (t *Tracer) Finish(span *Span, err error) {
	if span == nil {
		return
	}
	span.EndTime = time.Now().UTC()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = StatusError
		span.Error = err.Error()
	} else if span.Status == StatusInProgress {
		span.Status = StatusOK
	}

	if !span.sampled {
		return
	}
	if saveErr := t.store.Save(context.Background(), span); saveErr != nil {
		t.logger.Error("failed to record span", saveErr, loggingpkg.LogFields{
			"trace_id":  span.TraceID,
			"span_id":   span.SpanID,
			"operation": span.Operation,
		})
	}
}

func (t *Tracer) sample() bool {
	if t.sampleRate >= 1 {
		return true
	}
	if t.sampleRate <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rng.Float64() < t.sampleRate
}

// SpanOption customises a span at start time.
type SpanOption func(*Span)

// WithKind sets the span kind (server, client, producer, consumer).
func WithKind(kind trace.SpanKind) SpanOption {
	return func(s *Span) { s.Kind = kind }
}

// WithTag attaches a tag at span start.
func WithTag(key, value string) SpanOption {
	return func(s *Span) { s.SetTag(key, value) }
}

// WithAttributes attaches OpenTelemetry attributes at span start.
func WithAttributes(attrs ...attribute.KeyValue) SpanOption {
	return func(s *Span) { s.SetAttributes(attrs...) }
}

// SpanFromContext returns the active span in ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if ctx == nil {
		return nil
	}
	span, _ := ctx.Value(activeSpanKey).(*Span)
	return span
}

func remoteParent(ctx context.Context) *spanRef {
	if ctx == nil {
		return nil
	}
	ref, _ := ctx.Value(remoteParentKey).(*spanRef)
	return ref
}
