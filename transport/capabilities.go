package transport

// Capabilities describes what a transport backend can do natively. The
// runtime consults it to decide which concerns (delays, dead-lettering)
// it must emulate itself.
type Capabilities struct {
	// Name is the registered transport name.
	Name string `json:"name"`

	// Version is the transport/driver version, when known.
	Version string `json:"version,omitempty"`

	// SupportsDelay means the backend can hold a message back natively.
	SupportsDelay bool `json:"supports_delay"`

	// SupportsNativeDLQ means the backend routes failed messages to its
	// own dead letter store.
	SupportsNativeDLQ bool `json:"supports_native_dlq"`

	// SupportsOrdering means messages within a partition or stream are
	// delivered in publish order.
	SupportsOrdering bool `json:"supports_ordering"`

	// SupportsTracing means the backend propagates tracing headers.
	SupportsTracing bool `json:"supports_tracing"`

	// SupportsBatching means the backend accepts multi-message publishes.
	SupportsBatching bool `json:"supports_batching"`

	// SupportsAck and SupportsNack describe the acknowledgement model.
	SupportsAck  bool `json:"supports_ack"`
	SupportsNack bool `json:"supports_nack"`

	// SupportsPriority means the backend honours per-message priority.
	SupportsPriority bool `json:"supports_priority"`

	// SupportsPartitioning means the backend shards topics.
	SupportsPartitioning bool `json:"supports_partitioning"`

	// MaxMessageSize in bytes; 0 means unlimited or unknown.
	MaxMessageSize int64 `json:"max_message_size"`

	// MaxDelayDuration in milliseconds; 0 means unlimited or unknown.
	MaxDelayDuration int64 `json:"max_delay_duration_ms"`
}

// RequiresDelayEmulation reports whether the runtime must implement
// delayed delivery itself.
func (c Capabilities) RequiresDelayEmulation() bool {
	return !c.SupportsDelay
}

// RequiresDLQEmulation reports whether the runtime must route dead
// letters itself.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery reports whether the backend gives
// at-least-once semantics, which needs both ack and nack.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// GetCapabilities looks up the capabilities a transport registered with
// the default registry. Unknown names yield a zero set carrying only the
// name.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
