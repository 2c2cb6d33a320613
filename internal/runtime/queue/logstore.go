package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
)

// MessageLog is the durable record backing logical queues. Implementations
// must make Dequeue atomic: a message handed to one worker is never handed
// to another.
type MessageLog interface {
	// Append stores a new message.
	Append(ctx context.Context, msg *Message) error

	// AppendBatch stores several new messages in one call. Implementations
	// backed by a database should write them in a single statement; either
	// the whole batch is stored or none of it.
	AppendBatch(ctx context.Context, msgs []*Message) error

	// Get returns one message by id, or ErrMessageNotFound.
	Get(ctx context.Context, id string) (*Message, error)

	// Update replaces a stored message. The message must exist.
	Update(ctx context.Context, msg *Message) error

	// Dequeue atomically claims the most urgent due message, flips it to
	// PROCESSING and returns it. Queues for which skip returns true are
	// ignored. Returns nil when nothing is due.
	Dequeue(ctx context.Context, now time.Time, skip func(queue string) bool) (*Message, error)

	// List returns up to limit messages of one queue filtered by status
	// (empty status matches all), newest first.
	List(ctx context.Context, queue string, status MessageStatus, limit int) ([]*Message, error)

	// Stats counts the messages of one queue per status.
	Stats(ctx context.Context, queue string) (Stats, error)

	// Purge removes all messages of one queue in the given statuses and
	// returns how many were removed. No statuses means every status.
	Purge(ctx context.Context, queue string, statuses ...MessageStatus) (int, error)

	// Queues lists the known logical queue names.
	Queues(ctx context.Context) ([]string, error)
}

// MemoryLog is an in-process MessageLog.
type MemoryLog struct {
	mu       sync.Mutex
	messages map[string]*Message
	order    []*Message
}

// NewMemoryLog creates an empty in-memory message log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{messages: map[string]*Message{}}
}

func (m *MemoryLog) Append(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendLocked(msg)
	return nil
}

func (m *MemoryLog) AppendBatch(_ context.Context, msgs []*Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range msgs {
		m.appendLocked(msg)
	}
	return nil
}

func (m *MemoryLog) appendLocked(msg *Message) {
	cloned := msg.clone()
	m.messages[cloned.ID] = cloned
	m.order = append(m.order, cloned)
}

func (m *MemoryLog) Get(_ context.Context, id string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return nil, errspkg.ErrMessageNotFound
	}
	return msg.clone(), nil
}

func (m *MemoryLog) Update(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.messages[msg.ID]
	if !ok {
		return errspkg.ErrMessageNotFound
	}
	*stored = *msg.clone()
	return nil
}

func (m *MemoryLog) Dequeue(_ context.Context, now time.Time, skip func(queue string) bool) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Message
	for _, msg := range m.order {
		if msg.Status != StatusPending && msg.Status != StatusScheduled && msg.Status != StatusFailed {
			continue
		}
		if msg.Cancelled() {
			continue
		}
		if msg.ScheduledFor.After(now) {
			continue
		}
		if skip != nil && skip(msg.Queue) {
			continue
		}
		if best == nil || moreUrgent(msg, best) {
			best = msg
		}
	}
	if best == nil {
		return nil, nil
	}

	best.Status = StatusProcessing
	best.ProcessedAt = now
	return best.clone(), nil
}

// moreUrgent orders candidates by priority, then by due time, then by
// insertion time.
func moreUrgent(a, b *Message) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *MemoryLog) List(_ context.Context, queue string, status MessageStatus, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Message
	for i := len(m.order) - 1; i >= 0; i-- {
		msg := m.order[i]
		if msg.Queue != queue {
			continue
		}
		if status != "" && msg.Status != status {
			continue
		}
		result = append(result, msg.clone())
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryLog) Stats(_ context.Context, queue string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Queue: queue}
	now := time.Now()
	for _, msg := range m.order {
		if msg.Queue != queue {
			continue
		}
		switch msg.Status {
		case StatusPending:
			stats.Pending++
			if wait := now.Sub(msg.CreatedAt); wait > stats.OldestWait {
				stats.OldestWait = wait
			}
		case StatusScheduled:
			stats.Scheduled++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
			if msg.Cancelled() {
				stats.Cancelled++
			}
		case StatusDeadLetter:
			stats.DeadLetter++
		}
	}
	return stats, nil
}

func (m *MemoryLog) Purge(_ context.Context, queue string, statuses ...MessageStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	match := func(msg *Message) bool {
		if msg.Queue != queue {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, status := range statuses {
			if msg.Status == status {
				return true
			}
		}
		return false
	}

	kept := m.order[:0]
	removed := 0
	for _, msg := range m.order {
		if match(msg) {
			delete(m.messages, msg.ID)
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	m.order = kept
	return removed, nil
}

func (m *MemoryLog) Queues(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]struct{}{}
	var queues []string
	for _, msg := range m.order {
		if _, ok := seen[msg.Queue]; ok {
			continue
		}
		seen[msg.Queue] = struct{}{}
		queues = append(queues, msg.Queue)
	}
	sort.Strings(queues)
	return queues, nil
}
