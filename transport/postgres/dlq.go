package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/lernio/meshkit/transport"
)

// GetPendingCount reports how many messages are waiting on a topic.
func (t *Transport) GetPendingCount(topic string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.messages
		WHERE topic = $1 AND status = 'pending'
	`, t.config.SchemaName)

	var count int64
	err := t.db.QueryRow(query, topic).Scan(&count)
	return count, err
}

// GetDLQCount reports how many messages a topic has dead-lettered.
func (t *Transport) GetDLQCount(topic string) (int64, error) {
	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s.dead_letter_queue
		WHERE original_topic = $1
	`, t.config.SchemaName)

	var count int64
	err := t.db.QueryRow(query, topic).Scan(&count)
	return count, err
}

// ReplayDLQMessage moves one dead-lettered message back onto its
// original topic with a fresh retry budget.
func (t *Transport) ReplayDLQMessage(dlqID int64) error {
	tx, err := t.db.Begin()
	if err != nil {
		return err
	}
	defer t.rollback(tx)

	// The UUID gets a replay suffix because the original may still
	// exist in the messages table under a unique constraint.
	query := fmt.Sprintf(`
		WITH replayed AS (
			DELETE FROM %[1]s.dead_letter_queue WHERE id = $1
			RETURNING uuid, original_topic, payload, metadata
		)
		INSERT INTO %[1]s.messages (uuid, topic, payload, metadata, retry_count)
		SELECT uuid || '-replay-' || extract(epoch from now())::bigint, original_topic, payload, metadata, 0
		FROM replayed
	`, t.config.SchemaName)

	result, err := tx.Exec(query, dlqID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("dead-lettered message %d not found", dlqID)
	}

	return tx.Commit()
}

// ReplayAllDLQ moves every dead-lettered message for a topic back onto
// the topic and reports how many were moved.
func (t *Transport) ReplayAllDLQ(topic string) (int64, error) {
	tx, err := t.db.Begin()
	if err != nil {
		return 0, err
	}
	defer t.rollback(tx)

	query := fmt.Sprintf(`
		WITH replayed AS (
			DELETE FROM %[1]s.dead_letter_queue WHERE original_topic = $1
			RETURNING uuid, original_topic, payload, metadata
		)
		INSERT INTO %[1]s.messages (uuid, topic, payload, metadata, retry_count)
		SELECT uuid || '-replay-' || extract(epoch from now())::bigint || '-' || row_number() OVER (), original_topic, payload, metadata, 0
		FROM replayed
	`, t.config.SchemaName)

	result, err := tx.Exec(query, topic)
	if err != nil {
		return 0, err
	}

	affected, _ := result.RowsAffected()
	return affected, tx.Commit()
}

// PurgeDLQ drops every dead-lettered message for a topic and reports
// how many were dropped.
func (t *Transport) PurgeDLQ(topic string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s.dead_letter_queue WHERE original_topic = $1`, t.config.SchemaName)

	result, err := t.db.Exec(query, topic)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListDLQMessages pages through a topic's dead-lettered messages,
// newest failures first.
func (t *Transport) ListDLQMessages(topic string, limit, offset int) ([]transport.DLQMessage, error) {
	query := fmt.Sprintf(`
		SELECT id, uuid, original_topic, payload, metadata, error_message, failed_at, retry_count
		FROM %s.dead_letter_queue
		WHERE original_topic = $1
		ORDER BY failed_at DESC
		LIMIT $2 OFFSET $3
	`, t.config.SchemaName)

	rows, err := t.db.Query(query, topic, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []transport.DLQMessage
	for rows.Next() {
		var msg transport.DLQMessage
		var metadataJSON []byte
		if err := rows.Scan(&msg.ID, &msg.UUID, &msg.OriginalTopic, &msg.Payload, &metadataJSON, &msg.ErrorMessage, &msg.FailedAt, &msg.RetryCount); err != nil {
			return nil, err
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
				t.logger.Error("Unmarshalling DLQ metadata failed", err, nil)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CleanupExpiredLocks releases leases whose processing deadline passed,
// making crashed consumers' messages deliverable again.
func (t *Transport) CleanupExpiredLocks() (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s.messages
		SET locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until < NOW()
	`, t.config.SchemaName)

	result, err := t.db.Exec(query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// VacuumTables reclaims space in the queue tables after heavy churn.
func (t *Transport) VacuumTables() error {
	if _, err := t.db.Exec(fmt.Sprintf(`VACUUM %s.messages`, t.config.SchemaName)); err != nil {
		return err
	}
	if _, err := t.db.Exec(fmt.Sprintf(`VACUUM %s.dead_letter_queue`, t.config.SchemaName)); err != nil {
		return err
	}
	return nil
}
