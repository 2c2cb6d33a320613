package tracing

import (
	crand "crypto/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SpanStatus describes the outcome of a span.
type SpanStatus string

const (
	// StatusInProgress marks a span that has been started but not finished.
	StatusInProgress SpanStatus = "IN_PROGRESS"
	// StatusOK marks a span that finished without an error.
	StatusOK SpanStatus = "OK"
	// StatusError marks a span whose operation returned an error.
	StatusError SpanStatus = "ERROR"
)

// Span is a single timed operation within a trace. Identifiers follow the
// W3C/OpenTelemetry shape: 16-byte trace ids and 8-byte span ids, lower-hex
// encoded. The root span of a trace has an empty ParentSpanID.
type Span struct {
	TraceID      string            `json:"trace_id"`
	SpanID       string            `json:"span_id"`
	ParentSpanID string            `json:"parent_span_id,omitempty"`
	Service      string            `json:"service"`
	Operation    string            `json:"operation"`
	Kind         trace.SpanKind    `json:"kind"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time,omitempty"`
	Duration     time.Duration     `json:"duration_ns"`
	Status       SpanStatus        `json:"status"`
	Error        string            `json:"error,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
	Logs         []SpanLog         `json:"logs,omitempty"`

	sampled bool
}

// SpanLog is a timestamped annotation attached to a span.
type SpanLog struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// SetTag attaches a key/value annotation to the span.
func (s *Span) SetTag(key, value string) {
	if s == nil {
		return
	}
	if s.Tags == nil {
		s.Tags = map[string]string{}
	}
	s.Tags[key] = value
}

// SetAttributes records OpenTelemetry attributes as span tags, so callers
// already using semconv attribute constructors need no conversion.
func (s *Span) SetAttributes(attrs ...attribute.KeyValue) {
	for _, attr := range attrs {
		s.SetTag(string(attr.Key), attr.Value.Emit())
	}
}

// LogEvent appends an info-level log entry to the span.
func (s *Span) LogEvent(message string) {
	s.appendLog("info", message)
}

// LogInfo appends an info-level log entry to the span.
func (s *Span) LogInfo(message string) {
	s.appendLog("info", message)
}

// LogWarn appends a warn-level log entry to the span.
func (s *Span) LogWarn(message string) {
	s.appendLog("warn", message)
}

// LogError appends an error-level log entry to the span.
func (s *Span) LogError(message string) {
	s.appendLog("error", message)
}

func (s *Span) appendLog(level, message string) {
	if s == nil {
		return
	}
	s.Logs = append(s.Logs, SpanLog{Time: time.Now().UTC(), Level: level, Message: message})
}

// Sampled reports whether the span will be recorded on Finish.
func (s *Span) Sampled() bool {
	return s != nil && s.sampled
}

func (s *Span) clone() *Span {
	cloned := *s
	if s.Tags != nil {
		cloned.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			cloned.Tags[k] = v
		}
	}
	if s.Logs != nil {
		cloned.Logs = append([]SpanLog(nil), s.Logs...)
	}
	return &cloned
}

func newTraceID() string {
	var id trace.TraceID
	for {
		crand.Read(id[:])
		if id.IsValid() {
			return id.String()
		}
	}
}

func newSpanID() string {
	var id trace.SpanID
	for {
		crand.Read(id[:])
		if id.IsValid() {
			return id.String()
		}
	}
}
