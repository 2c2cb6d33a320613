package queue

import (
	"time"

	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
)

// MessageStatus is the lifecycle state of a queued message.
type MessageStatus string

const (
	// StatusPending marks a message waiting for a worker.
	StatusPending MessageStatus = "PENDING"
	// StatusScheduled marks a message whose delivery time is in the future.
	StatusScheduled MessageStatus = "SCHEDULED"
	// StatusProcessing marks a message currently held by a worker.
	StatusProcessing MessageStatus = "PROCESSING"
	// StatusCompleted marks a message whose handler finished successfully.
	StatusCompleted MessageStatus = "COMPLETED"
	// StatusFailed marks a message whose last attempt failed but which still
	// has retries left, and cancelled messages (LastError "cancelled").
	StatusFailed MessageStatus = "FAILED"
	// StatusDeadLetter marks a message that exhausted its retries.
	StatusDeadLetter MessageStatus = "DEAD_LETTER"
)

// CancelReason is recorded as LastError when a message is cancelled.
const CancelReason = "cancelled"

// Priority orders delivery within a queue; 9 is most urgent, 0 least.
type Priority int

const (
	// PriorityLow is the default priority.
	PriorityLow Priority = 0
	// PriorityNormal is a mid-range priority.
	PriorityNormal Priority = 3
	// PriorityHigh jumps ahead of routine traffic.
	PriorityHigh Priority = 6
	// PriorityCritical is delivered before everything else.
	PriorityCritical Priority = 9
)

// Message is one durable entry in a logical queue.
type Message struct {
	ID           string               `json:"id"`
	Queue        string               `json:"queue"`
	Payload      []byte               `json:"payload"`
	Metadata     metadatapkg.Metadata `json:"metadata,omitempty"`
	Priority     Priority             `json:"priority"`
	Status       MessageStatus        `json:"status"`
	RetryCount   int                  `json:"retry_count"`
	MaxRetries   int                  `json:"max_retries"`
	LastError    string               `json:"last_error,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	ScheduledFor time.Time            `json:"scheduled_for"`
	ProcessedAt  time.Time            `json:"processed_at,omitempty"`
	CompletedAt  time.Time            `json:"completed_at,omitempty"`
}

// Cancelled reports whether the message was stopped by an operator. A
// cancelled message stays FAILED with reason "cancelled"; the settled
// CompletedAt timestamp keeps workers from picking it back up.
func (m *Message) Cancelled() bool {
	return m.Status == StatusFailed && !m.CompletedAt.IsZero()
}

// Terminal reports whether the message can no longer change state.
func (m *Message) Terminal() bool {
	switch m.Status {
	case StatusCompleted, StatusDeadLetter:
		return true
	}
	return m.Cancelled()
}

func (m *Message) clone() *Message {
	cloned := *m
	if m.Payload != nil {
		cloned.Payload = append([]byte(nil), m.Payload...)
	}
	if m.Metadata != nil {
		cloned.Metadata = m.Metadata.Clone()
	}
	return &cloned
}

// Stats summarises one logical queue.
type Stats struct {
	Queue      string        `json:"queue"`
	Pending    int           `json:"pending"`
	Scheduled  int           `json:"scheduled"`
	Processing int           `json:"processing"`
	Completed  int           `json:"completed"`
	Failed     int           `json:"failed"`
	DeadLetter int           `json:"dead_letter"`
	Cancelled  int           `json:"cancelled"` // subset of Failed stopped by operators
	Paused     bool          `json:"paused"`
	OldestWait time.Duration `json:"oldest_wait_ns"`
}
