package tracing

import (
	"context"
	"sort"
	"sync"
	"time"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
)

// SpanStore persists finished spans and answers trace queries.
type SpanStore interface {
	// Save records a finished span. Spans of the same trace may arrive out
	// of order.
	Save(ctx context.Context, span *Span) error

	// Trace returns all recorded spans for the given trace id, ordered by
	// start time. Returns ErrTraceNotFound when no span matches.
	Trace(ctx context.Context, traceID string) ([]*Span, error)

	// Search returns spans matching the query, newest first.
	Search(ctx context.Context, q SearchQuery) ([]*Span, error)

	// Prune removes spans that started before the cutoff and returns how
	// many were dropped.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// SearchQuery filters spans in SpanStore.Search. Zero fields match anything.
type SearchQuery struct {
	Service     string
	Operation   string
	Status      SpanStatus
	MinDuration time.Duration
	MaxDuration time.Duration
	Since       time.Time
	Until       time.Time
	// Tags must all be present on the span with equal values.
	Tags  map[string]string
	Limit int
}

func (q SearchQuery) matches(span *Span) bool {
	if q.Service != "" && span.Service != q.Service {
		return false
	}
	if q.Operation != "" && span.Operation != q.Operation {
		return false
	}
	if q.Status != "" && span.Status != q.Status {
		return false
	}
	if q.MinDuration > 0 && span.Duration < q.MinDuration {
		return false
	}
	if q.MaxDuration > 0 && span.Duration > q.MaxDuration {
		return false
	}
	if !q.Since.IsZero() && span.StartTime.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && span.StartTime.After(q.Until) {
		return false
	}
	for key, want := range q.Tags {
		if span.Tags[key] != want {
			return false
		}
	}
	return true
}

// MemoryStore keeps spans in process memory. Suitable for single-node
// deployments and tests; spans older than the retention window are pruned
// lazily on Save.
type MemoryStore struct {
	mu        sync.RWMutex
	traces    map[string][]*Span
	order     []*Span
	retention time.Duration
	lastPrune time.Time
}

// NewMemoryStore creates an in-memory span store. A zero retention disables
// automatic pruning.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		traces:    map[string][]*Span{},
		retention: retention,
	}
}

func (m *MemoryStore) Save(_ context.Context, span *Span) error {
	cloned := span.clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.traces[cloned.TraceID] = append(m.traces[cloned.TraceID], cloned)
	m.order = append(m.order, cloned)

	if m.retention > 0 && time.Since(m.lastPrune) > time.Minute {
		m.pruneLocked(time.Now().Add(-m.retention))
		m.lastPrune = time.Now()
	}
	return nil
}

func (m *MemoryStore) Trace(_ context.Context, traceID string) ([]*Span, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	spans, ok := m.traces[traceID]
	if !ok || len(spans) == 0 {
		return nil, errspkg.ErrTraceNotFound
	}

	result := make([]*Span, len(spans))
	for i, s := range spans {
		result[i] = s.clone()
	}
	sortSpansByStart(result)
	return result, nil
}

func (m *MemoryStore) Search(_ context.Context, q SearchQuery) ([]*Span, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Span
	for i := len(m.order) - 1; i >= 0; i-- {
		span := m.order[i]
		if !q.matches(span) {
			continue
		}
		result = append(result, span.clone())
		if q.Limit > 0 && len(result) >= q.Limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneLocked(before), nil
}

func (m *MemoryStore) pruneLocked(before time.Time) int {
	kept := m.order[:0]
	dropped := 0
	for _, span := range m.order {
		if span.StartTime.Before(before) {
			dropped++
			continue
		}
		kept = append(kept, span)
	}
	m.order = kept

	if dropped > 0 {
		for traceID, spans := range m.traces {
			keptSpans := spans[:0]
			for _, span := range spans {
				if !span.StartTime.Before(before) {
					keptSpans = append(keptSpans, span)
				}
			}
			if len(keptSpans) == 0 {
				delete(m.traces, traceID)
				continue
			}
			m.traces[traceID] = keptSpans
		}
	}
	return dropped
}

func sortSpansByStart(spans []*Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].StartTime.Before(spans[j].StartTime)
	})
}
