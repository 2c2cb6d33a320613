// Package postgres provides a queue transport backed by a PostgreSQL
// database. Messages live in a table polled with FOR UPDATE SKIP
// LOCKED, so multiple subscriber processes can share one topic without
// double delivery. Exhausted messages move to a dead letter table that
// the management API can list, replay and purge.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lernio/meshkit/transport"
	_ "github.com/lib/pq" // postgres driver
)

// TransportName is the name this transport registers under.
// "postgresql" is accepted as an alias.
const TransportName = "postgres"

const (
	// DefaultPollInterval is how often each subscription checks for
	// newly available messages.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultMaxRetries is how many times a nacked message is retried
	// before it moves to the dead letter table.
	DefaultMaxRetries = 3

	// DefaultLockTimeout bounds how long a fetched message stays
	// invisible to other consumers.
	DefaultLockTimeout = 30 * time.Second

	// DefaultSchemaName is the schema holding the queue tables.
	DefaultSchemaName = "meshkit"

	// MetadataDelay holds a publish delay in milliseconds.
	MetadataDelay = "meshkit_delay_ms"
)

var capabilities = transport.Capabilities{
	Name:              TransportName,
	SupportsDelay:     true,
	SupportsNativeDLQ: true,
	SupportsOrdering:  true,
	SupportsBatching:  true,
	SupportsAck:       true,
	SupportsNack:      true,
	SupportsPriority:  true,
}

func init() {
	Register()
}

// Register adds the transport to the default registry under both the
// canonical name and the "postgresql" alias. Importing the package does
// this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
	transport.RegisterWithCapabilities("postgresql", Build, capabilities)
}

// Build opens the database from cfg and returns a transport whose
// publisher and subscriber share one connection pool.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{ConnectionString: cfg.GetPostgresURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities reports what the PostgreSQL transport supports.
func Capabilities() transport.Capabilities {
	return capabilities
}

// Config holds connection and queue tuning settings.
type Config struct {
	// ConnectionString is the PostgreSQL DSN.
	ConnectionString string

	// PollInterval is how often subscriptions poll for messages.
	PollInterval time.Duration

	// MaxRetries caps nack-driven retries before dead-lettering.
	MaxRetries int

	// LockTimeout is the per-message processing lease.
	LockTimeout time.Duration

	// SchemaName is the schema holding the queue tables.
	SchemaName string

	// MaxOpenConns and MaxIdleConns tune the connection pool.
	MaxOpenConns int
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	return c
}

// Transport is a watermill publisher and subscriber storing messages in
// PostgreSQL tables.
type Transport struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	closedMu   sync.RWMutex
	closed     bool
	closedChan chan struct{}
	wg         sync.WaitGroup
}

// New opens the database, creates the queue schema when missing and
// returns a ready transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("postgres connection string is required")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	t := &Transport{
		db:         db,
		config:     cfg,
		logger:     logger,
		closedChan: make(chan struct{}),
	}

	if err := t.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema %q: %w", cfg.SchemaName, err)
	}

	return t, nil
}

func (t *Transport) ensureSchema() error {
	if _, err := t.db.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, t.config.SchemaName)); err != nil {
		return err
	}

	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s.messages (
		id BIGSERIAL PRIMARY KEY,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		payload BYTEA NOT NULL,
		metadata JSONB DEFAULT '{}',
		created_at TIMESTAMPTZ DEFAULT NOW(),
		available_at TIMESTAMPTZ DEFAULT NOW(),
		locked_until TIMESTAMPTZ,
		retry_count INTEGER DEFAULT 0,
		status TEXT DEFAULT 'pending'
	);

	CREATE INDEX IF NOT EXISTS idx_messages_topic_status_available
		ON %[1]s.messages(topic, status, available_at)
		WHERE status = 'pending';

	CREATE INDEX IF NOT EXISTS idx_messages_uuid ON %[1]s.messages(uuid);
	CREATE INDEX IF NOT EXISTS idx_messages_locked_until ON %[1]s.messages(locked_until)
		WHERE locked_until IS NOT NULL;

	CREATE TABLE IF NOT EXISTS %[1]s.dead_letter_queue (
		id BIGSERIAL PRIMARY KEY,
		uuid TEXT NOT NULL,
		original_topic TEXT NOT NULL,
		payload BYTEA NOT NULL,
		metadata JSONB DEFAULT '{}',
		error_message TEXT,
		failed_at TIMESTAMPTZ DEFAULT NOW(),
		retry_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_dlq_topic ON %[1]s.dead_letter_queue(original_topic);
	CREATE INDEX IF NOT EXISTS idx_dlq_failed_at ON %[1]s.dead_letter_queue(failed_at);
	`, t.config.SchemaName)

	_, err := t.db.Exec(ddl)
	return err
}

// Publish inserts messages into the queue table. A MetadataDelay value
// in milliseconds moves the availability time into the future.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer t.rollback(tx)

	stmt, err := tx.Prepare(fmt.Sprintf(`
		INSERT INTO %s.messages (uuid, topic, payload, metadata, available_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.config.SchemaName))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		metadata, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		if _, err := stmt.Exec(msg.UUID, topic, msg.Payload, metadata, availableAt(msg)); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.UUID, err)
		}
	}

	return tx.Commit()
}

// PublishWithDelay publishes messages that become available to
// consumers only after delayMs milliseconds.
func (t *Transport) PublishWithDelay(topic string, delayMs int64, messages ...*message.Message) error {
	for _, msg := range messages {
		msg.Metadata.Set(MetadataDelay, strconv.FormatInt(delayMs, 10))
	}
	return t.Publish(topic, messages...)
}

func availableAt(msg *message.Message) time.Time {
	at := time.Now().UTC()
	if delayStr := msg.Metadata.Get(MetadataDelay); delayStr != "" {
		if delayMs, err := strconv.ParseInt(delayStr, 10, 64); err == nil && delayMs > 0 {
			at = at.Add(time.Duration(delayMs) * time.Millisecond)
		}
	}
	return at
}

// Subscribe starts a polling loop for topic and streams fetched
// messages until ctx is cancelled or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	output := make(chan *message.Message)

	t.wg.Add(1)
	go t.pollLoop(ctx, topic, output)

	return output, nil
}

func (t *Transport) pollLoop(ctx context.Context, topic string, output chan *message.Message) {
	defer t.wg.Done()
	defer close(output)

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		case <-ticker.C:
			t.deliverNext(ctx, topic, output)
		}
	}
}

func (t *Transport) deliverNext(ctx context.Context, topic string, output chan *message.Message) {
	id, msg, ok := t.fetchAndLock(ctx, topic)
	if !ok {
		return
	}

	select {
	case output <- msg:
		t.awaitOutcome(ctx, id, msg)
	case <-ctx.Done():
		t.unlock(ctx, id)
	case <-t.closedChan:
		t.unlock(ctx, id)
	}
}

// fetchAndLock claims the oldest available message for topic by setting
// its lock lease. SKIP LOCKED keeps concurrent pollers from contending
// on the same row.
func (t *Transport) fetchAndLock(ctx context.Context, topic string) (int64, *message.Message, bool) {
	now := time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE %[1]s.messages
		SET locked_until = $1
		WHERE id = (
			SELECT id FROM %[1]s.messages
			WHERE topic = $2
			AND status = 'pending'
			AND available_at <= $3
			AND (locked_until IS NULL OR locked_until < $3)
			ORDER BY available_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, uuid, payload, metadata
	`, t.config.SchemaName)

	var (
		id           int64
		uuid         string
		payload      []byte
		metadataJSON []byte
	)
	err := t.db.QueryRowContext(ctx, query, now.Add(t.config.LockTimeout), topic, now).
		Scan(&id, &uuid, &payload, &metadataJSON)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			t.logger.Error("Fetching message failed", err, watermill.LogFields{"topic": topic})
		}
		return 0, nil, false
	}

	msg := message.NewMessage(uuid, payload)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			t.logger.Error("Unmarshalling metadata failed", err, watermill.LogFields{"uuid": uuid})
		}
	}
	return id, msg, true
}

func (t *Transport) awaitOutcome(ctx context.Context, id int64, msg *message.Message) {
	select {
	case <-msg.Acked():
		t.ack(ctx, id)
	case <-msg.Nacked():
		t.nack(ctx, id)
	case <-ctx.Done():
		t.unlock(ctx, id)
	case <-t.closedChan:
		t.unlock(ctx, id)
	}
}

func (t *Transport) ack(ctx context.Context, id int64) {
	query := fmt.Sprintf(`DELETE FROM %s.messages WHERE id = $1`, t.config.SchemaName)
	if _, err := t.db.ExecContext(ctx, query, id); err != nil {
		t.logger.Error("Acking message failed", err, nil)
	}
}

// nack either schedules a retry with exponential backoff or moves the
// message to the dead letter table once retries are exhausted.
func (t *Transport) nack(ctx context.Context, id int64) {
	var retryCount int
	query := fmt.Sprintf(`SELECT retry_count FROM %s.messages WHERE id = $1`, t.config.SchemaName)
	if err := t.db.QueryRowContext(ctx, query, id).Scan(&retryCount); err != nil {
		t.logger.Error("Reading retry count failed", err, nil)
		return
	}

	if retryCount >= t.config.MaxRetries {
		t.deadLetter(ctx, id)
		return
	}

	backoff := time.Duration(1<<retryCount) * time.Second
	retry := fmt.Sprintf(`
		UPDATE %s.messages
		SET retry_count = retry_count + 1,
		    locked_until = NULL,
		    available_at = $1
		WHERE id = $2
	`, t.config.SchemaName)
	if _, err := t.db.ExecContext(ctx, retry, time.Now().UTC().Add(backoff), id); err != nil {
		t.logger.Error("Scheduling retry failed", err, nil)
	}
}

func (t *Transport) deadLetter(ctx context.Context, id int64) {
	query := fmt.Sprintf(`
		WITH moved AS (
			DELETE FROM %[1]s.messages WHERE id = $1
			RETURNING uuid, topic, payload, metadata, retry_count
		)
		INSERT INTO %[1]s.dead_letter_queue (uuid, original_topic, payload, metadata, error_message, retry_count)
		SELECT uuid, topic, payload, metadata, 'max retries exceeded', retry_count FROM moved
	`, t.config.SchemaName)
	if _, err := t.db.ExecContext(ctx, query, id); err != nil {
		t.logger.Error("Dead-lettering message failed", err, nil)
	}
}

func (t *Transport) unlock(ctx context.Context, id int64) {
	query := fmt.Sprintf(`UPDATE %s.messages SET locked_until = NULL WHERE id = $1`, t.config.SchemaName)
	if _, err := t.db.ExecContext(ctx, query, id); err != nil {
		t.logger.Error("Unlocking message failed", err, nil)
	}
}

func (t *Transport) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		t.logger.Error("Rolling back transaction failed", err, nil)
	}
}

func (t *Transport) checkOpen() error {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	if t.closed {
		return errors.New("postgres transport is closed")
	}
	return nil
}

// Close stops all polling loops and closes the database. It is safe to
// call more than once.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.wg.Wait()

	return t.db.Close()
}

// Capabilities reports what the PostgreSQL transport supports.
func (t *Transport) Capabilities() transport.Capabilities {
	return capabilities
}

// DB exposes the underlying pool for maintenance tooling.
func (t *Transport) DB() *sql.DB {
	return t.db
}
