package handlers

// Metadata key constants used throughout meshkit.
// These keys are reserved and should not be used for custom metadata.
const (
	// MetadataKeyCorrelationID tracks related messages across services.
	MetadataKeyCorrelationID = "correlation_id"

	// MetadataKeyEventSchema identifies the payload type of an emitted event.
	MetadataKeyEventSchema = "event_message_schema"

	// MetadataKeyQueueDepth indicates queue depth at time of enqueue.
	MetadataKeyQueueDepth = "meshkit_queue_depth"

	// MetadataKeyEnqueuedAt records when a message was enqueued.
	MetadataKeyEnqueuedAt = "meshkit_enqueued_at"

	// MetadataKeyMessageID carries the durable message log id across the wire.
	MetadataKeyMessageID = "meshkit_message_id"

	// MetadataKeyPriority carries the delivery priority (0-9).
	MetadataKeyPriority = "meshkit_priority"

	// MetadataKeyEventType carries the logical event type of a broadcast
	// event bus message.
	MetadataKeyEventType = "meshkit_event_type"

	// MetadataKeyEventSource names the component that published an event.
	MetadataKeyEventSource = "meshkit_event_source"

	// MetadataKeyRetryCount records how many deliveries have been attempted.
	MetadataKeyRetryCount = "meshkit_retry_count"

	// MetadataKeyTimeoutMs bounds a single handler invocation for this
	// message, in milliseconds. Workers fall back to their pool timeout.
	MetadataKeyTimeoutMs = "meshkit_timeout_ms"

	// MetadataKeyTraceID stores the distributed tracing trace ID.
	MetadataKeyTraceID = "trace_id"

	// MetadataKeySpanID stores the distributed tracing span ID.
	MetadataKeySpanID = "span_id"
)
