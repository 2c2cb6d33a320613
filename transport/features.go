package transport

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// The interfaces below are optional. The runtime type-asserts a built
// transport against them and degrades to application-level emulation
// when one is missing.

// CapabilitiesProvider reports what a transport instance supports.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// DLQManager manages a transport-owned dead letter store.
type DLQManager interface {
	GetDLQCount(topic string) (int64, error)
	ReplayDLQMessage(dlqID int64) error
	ReplayAllDLQ(topic string) (int64, error)
	PurgeDLQ(topic string) (int64, error)
}

// DLQLister pages through dead-lettered messages.
type DLQLister interface {
	ListDLQMessages(topic string, limit, offset int) ([]DLQMessage, error)
}

// DLQMessage is one dead-lettered message as reported by a DLQLister.
type DLQMessage struct {
	ID            int64             `json:"id"`
	UUID          string            `json:"uuid"`
	OriginalTopic string            `json:"original_topic"`
	Payload       []byte            `json:"payload"`
	Metadata      map[string]string `json:"metadata"`
	ErrorMessage  string            `json:"error_message"`
	FailedAt      time.Time         `json:"failed_at"`
	RetryCount    int               `json:"retry_count"`
}

// QueueIntrospector reports per-topic backlog so the management API can
// surface queue depth.
type QueueIntrospector interface {
	GetPendingCount(topic string) (int64, error)
}

// DelayedPublisher publishes messages that become visible only after the
// delay elapses.
type DelayedPublisher interface {
	PublishWithDelay(topic string, delay int64, messages ...*message.Message) error
}
