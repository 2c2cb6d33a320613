package tracing

import (
	"context"
	"time"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
)

// TraceNode is a span with its child spans, forming the trace tree.
type TraceNode struct {
	Span     *Span        `json:"span"`
	Children []*TraceNode `json:"children,omitempty"`
}

// Trace returns all recorded spans of a trace ordered by start time.
func (t *Tracer) Trace(ctx context.Context, traceID string) ([]*Span, error) {
	return t.store.Trace(ctx, traceID)
}

// TraceTree assembles the spans of a trace into a parent/child tree rooted at
// the span without a recorded parent. Spans whose parent was not recorded
// (for example when it was pruned) are attached to the root.
func (t *Tracer) TraceTree(ctx context.Context, traceID string) (*TraceNode, error) {
	spans, err := t.store.Trace(ctx, traceID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*TraceNode, len(spans))
	for _, span := range spans {
		nodes[span.SpanID] = &TraceNode{Span: span}
	}

	var root *TraceNode
	var orphans []*TraceNode
	for _, span := range spans {
		node := nodes[span.SpanID]
		if span.ParentSpanID == "" {
			if root == nil {
				root = node
			}
			continue
		}
		parent, ok := nodes[span.ParentSpanID]
		if !ok {
			orphans = append(orphans, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	if root == nil {
		return nil, errspkg.ErrTraceNotFound
	}
	root.Children = append(root.Children, orphans...)
	return root, nil
}

// SearchTraces returns spans matching the query, newest first.
func (t *Tracer) SearchTraces(ctx context.Context, q SearchQuery) ([]*Span, error) {
	return t.store.Search(ctx, q)
}

// Metrics summarises recorded spans per service.
type Metrics struct {
	TotalSpans  int                       `json:"total_spans"`
	ErrorSpans  int                       `json:"error_spans"`
	TotalTraces int                       `json:"total_traces"`
	Services    map[string]ServiceMetrics `json:"services"`
}

// ServiceMetrics aggregates span outcomes for one service.
type ServiceMetrics struct {
	Spans       int           `json:"spans"`
	Errors      int           `json:"errors"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
}

// Metrics computes aggregate tracing statistics over recorded spans.
func (t *Tracer) Metrics(ctx context.Context) (Metrics, error) {
	spans, err := t.store.Search(ctx, SearchQuery{})
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{Services: map[string]ServiceMetrics{}}
	traces := map[string]struct{}{}
	totals := map[string]time.Duration{}

	for _, span := range spans {
		m.TotalSpans++
		traces[span.TraceID] = struct{}{}
		if span.Status == StatusError {
			m.ErrorSpans++
		}

		svc := m.Services[span.Service]
		svc.Spans++
		if span.Status == StatusError {
			svc.Errors++
		}
		totals[span.Service] += span.Duration
		m.Services[span.Service] = svc
	}

	for name, svc := range m.Services {
		if svc.Spans > 0 {
			svc.AvgDuration = totals[name] / time.Duration(svc.Spans)
		}
		m.Services[name] = svc
	}
	m.TotalTraces = len(traces)
	return m, nil
}
