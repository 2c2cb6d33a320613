package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
)

// UnprocessableEventError marks a payload that can never succeed, no
// matter how often it is retried. The default poison queue filter routes
// these to the poison topic instead of retrying them.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error { return e.err }

// NewUnprocessableEventError wraps err as permanently unprocessable.
func NewUnprocessableEventError(eventMessage string, err error) *UnprocessableEventError {
	return &UnprocessableEventError{eventMessage: eventMessage, err: err}
}

// ErrorCategory buckets handler failures for the stats breakdown.
type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier maps a handler error to a category. Services can
// install their own via ServiceDependencies.
type ErrorClassifier func(error) ErrorCategory

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var unprocessable *UnprocessableEventError
	if errors.As(err, &unprocessable) {
		return ErrorCategoryValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryDownstream
	}
	return ErrorCategoryOther
}

// HandlerInfo describes a registered handler for the management API.
type HandlerInfo struct {
	Name         string        `json:"name"`
	ConsumeQueue string        `json:"consume_queue"`
	PublishQueue string        `json:"publish_queue"`
	Stats        *HandlerStats `json:"stats"`
}

// HandlerStats accumulates per-handler counters and derived metrics.
// All mutation happens under mu through the onMessage hooks installed
// by handler registration.
type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	handlerName  string `json:"-"`
	consumeQueue string `json:"-"`
	publishQueue string `json:"-"`

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency      LatencyMetrics     `json:"latency"`
	Throughput   ThroughputMetrics  `json:"throughput"`
	Errors       ErrorBreakdown     `json:"errors"`
	Resource     ResourceUsage      `json:"resource"`
	Backlog      BacklogMetrics     `json:"backlog"`
	Dependencies []DependencyHealth `json:"dependencies"`

	latencyRing     *latencyRing     `json:"-"`
	rateWindow      *rateWindow      `json:"-"`
	resourceSampler *resourceTracker `json:"-"`
	dependencyIndex map[string]int   `json:"-"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

// Record bumps the counter matching category. A nil err with category
// none is a successful invocation and counts nothing.
func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// BacklogMetrics reports consumer lag. Depth and lag stay -1 until a
// transport supplies the backlog headers.
type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	LastQueueDepth     int64  `json:"last_queue_depth"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

type DependencyHealth struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	LastChecked time.Time `json:"last_checked"`
	Details     string    `json:"details,omitempty"`
}

const (
	DependencyStatusUnknown  = "unknown"
	DependencyStatusHealthy  = "healthy"
	DependencyStatusDegraded = "degraded"
)

func newHandlerStats(name, consumeQueue, publishQueue string, sampler *resourceTracker) *HandlerStats {
	stats := &HandlerStats{
		handlerName:     name,
		consumeQueue:    consumeQueue,
		publishQueue:    publishQueue,
		resourceSampler: sampler,
		latencyRing:     newLatencyRing(latencySampleSize),
		rateWindow:      newRateWindow(throughputWindowSize),
		Backlog:         BacklogMetrics{LastQueueDepth: -1, EstimatedLagMillis: -1},
		dependencyIndex: map[string]int{},
	}
	if consumeQueue != "" {
		stats.addDependency("subscriber:" + consumeQueue)
	}
	if publishQueue != "" {
		stats.addDependency("publisher:" + publishQueue)
	}
	return stats
}

func (h *HandlerStats) addDependency(name string) {
	if h.dependencyIndex == nil {
		h.dependencyIndex = map[string]int{}
	}
	h.Dependencies = append(h.Dependencies, DependencyHealth{
		Name:   name,
		Status: DependencyStatusUnknown,
	})
	h.dependencyIndex[name] = len(h.Dependencies) - 1
}

// handlerInvocationContext carries the backlog hints sampled when a
// message entered the handler, so onMessageFinish can record them.
type handlerInvocationContext struct {
	queueDepth     int64
	queueLagMillis int64
}

func (h *HandlerStats) onMessageStart(msg *message.Message) handlerInvocationContext {
	inv := handlerInvocationContext{queueDepth: -1, queueLagMillis: -1}
	if msg != nil {
		inv.queueDepth = backlogDepth(msg.Metadata)
		inv.queueLagMillis = backlogLagMillis(msg.Metadata)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.Backlog.InFlight++
	if h.Backlog.InFlight > h.Backlog.MaxInFlight {
		h.Backlog.MaxInFlight = h.Backlog.InFlight
	}
	return inv
}

func (h *HandlerStats) onMessageFinish(inv handlerInvocationContext, duration time.Duration, err error, classifier ErrorClassifier) {
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}
	if inv.queueDepth >= 0 {
		h.Backlog.LastQueueDepth = inv.queueDepth
	}
	if inv.queueLagMillis >= 0 {
		h.Backlog.EstimatedLagMillis = inv.queueLagMillis
	}

	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = now.UTC()

	if h.latencyRing != nil {
		h.latencyRing.Add(duration)
		lat := h.latencyRing.Snapshot()
		lat.LastNs = int64(duration)
		lat.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)
		h.Latency = lat
	}

	if h.rateWindow != nil {
		rate := h.rateWindow.AddAndSnapshot(now)
		h.Throughput.CurrentRPS = rate.perSecond
		h.Throughput.WindowSeconds = rate.windowSeconds
		h.Throughput.MessagesInWindow = uint64(rate.count)
	}
	h.Throughput.TotalMessages = h.MessagesProcessed

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}

	h.markDependencyLocked("subscriber:"+h.consumeQueue, DependencyStatusHealthy, "")
	if h.publishQueue != "" {
		status, details := DependencyStatusHealthy, ""
		if err != nil {
			status, details = DependencyStatusDegraded, err.Error()
		}
		h.markDependencyLocked("publisher:"+h.publishQueue, status, details)
	}
}

func (h *HandlerStats) markDependencyLocked(name, status, details string) {
	if name == "" {
		return
	}
	idx, ok := h.dependencyIndex[name]
	if !ok {
		h.Dependencies = append(h.Dependencies, DependencyHealth{Name: name})
		idx = len(h.Dependencies) - 1
		h.dependencyIndex[name] = idx
	}
	h.Dependencies[idx].Status = status
	h.Dependencies[idx].Details = details
	h.Dependencies[idx].LastChecked = time.Now().UTC()
}

// MarshalJSON snapshots the stats under the lock so the management API
// never serializes a half-updated struct.
func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type plain HandlerStats
	return json.Marshal((*plain)(h))
}

// Backlog hints are optional headers a subscriber transport may stamp on
// delivered messages. When present they feed the per-handler lag figures.
func backlogDepth(meta message.Metadata) int64 {
	raw := meta.Get(handlerpkg.MetadataKeyQueueDepth)
	if raw == "" {
		return -1
	}
	depth, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1
	}
	return depth
}

func backlogLagMillis(meta message.Metadata) int64 {
	raw := meta.Get(handlerpkg.MetadataKeyEnqueuedAt)
	if raw == "" {
		return -1
	}
	enqueued, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return -1
	}
	lag := time.Since(enqueued).Milliseconds()
	if lag < 0 {
		return 0
	}
	return lag
}
