package queue

import "context"

// DeadLetters lists messages that exhausted their retry budget, newest first.
func (m *Manager) DeadLetters(ctx context.Context, queue string, limit int) ([]*Message, error) {
	return m.log.List(ctx, queue, StatusDeadLetter, limit)
}

// ReplayDeadLetters re-enqueues every dead-lettered message on the queue with a
// fresh retry budget. It returns the number of messages replayed.
func (m *Manager) ReplayDeadLetters(ctx context.Context, queue string) (int, error) {
	msgs, err := m.log.List(ctx, queue, StatusDeadLetter, 0)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, msg := range msgs {
		if _, err := m.Replay(ctx, msg.ID); err != nil {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

// PurgeDeadLetters drops all dead-lettered messages on the queue.
func (m *Manager) PurgeDeadLetters(ctx context.Context, queue string) (int, error) {
	removed, err := m.log.Purge(ctx, queue, StatusDeadLetter)
	if err != nil {
		return 0, err
	}
	if removed > 0 && m.dlqHooks.OnPurge != nil {
		m.dlqHooks.OnPurge(queue, removed)
	}
	return removed, nil
}
