package tracing

import (
	"context"

	handlerspkg "github.com/lernio/meshkit/internal/runtime/handlers"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
)

// Inject writes the active span's trace context into outgoing message
// metadata. The input map is never mutated; without an active span it is
// returned unchanged.
func Inject(ctx context.Context, md metadatapkg.Metadata) metadatapkg.Metadata {
	span := SpanFromContext(ctx)
	if span == nil {
		return md
	}
	return md.WithAll(metadatapkg.Metadata{
		handlerspkg.MetadataKeyTraceID: span.TraceID,
		handlerspkg.MetadataKeySpanID:  span.SpanID,
	})
}

// Extract reads trace context from incoming message metadata and returns a
// context that continues the trace: the next StartSpan becomes a child of
// the sending span. Metadata without trace headers leaves ctx untouched.
func Extract(ctx context.Context, md metadatapkg.Metadata) context.Context {
	traceID := md[handlerspkg.MetadataKeyTraceID]
	spanID := md[handlerspkg.MetadataKeySpanID]
	if traceID == "" || spanID == "" {
		return ctx
	}
	return context.WithValue(ctx, remoteParentKey, &spanRef{traceID: traceID, spanID: spanID})
}
