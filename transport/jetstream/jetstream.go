// Package jetstream provides a persistent NATS JetStream transport.
//
// Delivery is at-least-once: every message is pulled from a durable
// consumer and acknowledged explicitly. Delayed delivery is emulated by
// stamping a deliver-at header on publish and NAKing early fetches with
// the remaining delay.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"

	"github.com/lernio/meshkit/transport"
)

// TransportName is the name this transport registers under.
const TransportName = "nats-jetstream"

const (
	// DefaultStreamName is used when Config.StreamName is empty.
	DefaultStreamName = "MESHKIT"

	// DefaultMaxDeliver bounds redelivery attempts per message.
	DefaultMaxDeliver = 3

	// DefaultAckWait is how long the server waits for an ack before
	// redelivering.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxAge is the stream retention age applied on creation.
	DefaultMaxAge = 7 * 24 * time.Hour

	// MetadataDelay holds a publish delay in milliseconds. Messages
	// carrying it are withheld from consumers until the delay elapses.
	MetadataDelay = "meshkit_delay_ms"

	headerMessageUUID = "meshkit_message_uuid"
	headerPublishedAt = "meshkit_published_at"
	headerDeliverAt   = "meshkit_deliver_at"

	fetchBatchSize = 10
	fetchMaxWait   = time.Second
)

var capabilities = transport.Capabilities{
	Name:              TransportName,
	SupportsDelay:     true,
	SupportsNativeDLQ: true,
	SupportsOrdering:  true,
	SupportsTracing:   true,
	SupportsBatching:  true,
	SupportsAck:       true,
	SupportsNack:      true,
	MaxMessageSize:    1 << 20, // server default max_payload
}

func init() {
	Register()
}

// Register adds the transport to the default registry under both the
// canonical name and the "jetstream" alias. Importing the package does
// this already; call it directly after resetting a registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, capabilities)
	transport.RegisterWithCapabilities("jetstream", Build, capabilities)
}

// Build connects to the NATS server from cfg and returns a transport
// whose publisher and subscriber share one JetStream connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	t, err := New(Config{URL: cfg.GetNATSURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  t,
		Subscriber: t,
	}, nil
}

// Capabilities reports what the JetStream transport supports.
func Capabilities() transport.Capabilities {
	return capabilities
}

// Config holds JetStream connection and stream settings.
type Config struct {
	// URL is the NATS server URL.
	URL string

	// StreamName names the stream all topics are nested under.
	// Defaults to DefaultStreamName.
	StreamName string

	// MaxDeliver caps delivery attempts per message.
	MaxDeliver int

	// AckWait is the server-side redelivery timeout.
	AckWait time.Duration

	// Replicas is the stream replica count for clustered servers.
	Replicas int

	// RetentionPolicy is "limits" (default), "interest" or "workqueue".
	RetentionPolicy string
}

func (c Config) withDefaults() Config {
	if c.StreamName == "" {
		c.StreamName = DefaultStreamName
	}
	if c.MaxDeliver <= 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	return c
}

func (c Config) retention() nats.RetentionPolicy {
	switch c.RetentionPolicy {
	case "interest":
		return nats.InterestPolicy
	case "workqueue":
		return nats.WorkQueuePolicy
	default:
		return nats.LimitsPolicy
	}
}

// Transport is a watermill publisher and subscriber backed by one
// JetStream stream. Topics map to subjects under the stream name and
// each subscription gets its own durable pull consumer.
type Transport struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	config Config
	logger watermill.LoggerAdapter

	subMu         sync.Mutex
	subscriptions []*nats.Subscription

	closedMu   sync.RWMutex
	closed     bool
	closedChan chan struct{}
}

// New connects to NATS, ensures the configured stream exists and
// returns a ready transport.
func New(cfg Config, logger watermill.LoggerAdapter) (*Transport, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open JetStream context: %w", err)
	}

	t := &Transport{
		nc:         nc,
		js:         js,
		config:     cfg,
		logger:     logger,
		closedChan: make(chan struct{}),
	}

	if err := t.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %q: %w", cfg.StreamName, err)
	}

	return t, nil
}

func (t *Transport) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      t.config.StreamName,
		Subjects:  []string{t.config.StreamName + ".>"},
		MaxAge:    DefaultMaxAge,
		Replicas:  t.config.Replicas,
		Retention: t.config.retention(),
	}

	if _, err := t.js.AddStream(streamCfg); err != nil {
		// The stream may already exist with a different shape; try to
		// reconcile it instead of failing startup.
		if _, err := t.js.UpdateStream(streamCfg); err != nil {
			return err
		}
	}

	return nil
}

// Publish writes messages to the stream subject for topic. A
// MetadataDelay value in milliseconds defers delivery.
func (t *Transport) Publish(topic string, messages ...*message.Message) error {
	if err := t.checkOpen(); err != nil {
		return err
	}

	subject := t.subjectFor(topic)

	for _, msg := range messages {
		natsMsg := &nats.Msg{
			Subject: subject,
			Data:    msg.Payload,
			Header:  buildHeaders(msg),
		}

		if _, err := t.js.PublishMsg(natsMsg); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	}

	return nil
}

// PublishWithDelay publishes messages that become visible to consumers
// only after delayMs milliseconds.
func (t *Transport) PublishWithDelay(topic string, delayMs int64, messages ...*message.Message) error {
	for _, msg := range messages {
		msg.Metadata.Set(MetadataDelay, strconv.FormatInt(delayMs, 10))
	}
	return t.Publish(topic, messages...)
}

func buildHeaders(msg *message.Message) nats.Header {
	headers := nats.Header{}
	for k, v := range msg.Metadata {
		headers.Set(k, v)
	}
	headers.Set(headerMessageUUID, msg.UUID)

	if delayStr := msg.Metadata.Get(MetadataDelay); delayStr != "" {
		if delayMs, err := strconv.ParseInt(delayStr, 10, 64); err == nil && delayMs > 0 {
			now := time.Now()
			headers.Set(headerPublishedAt, strconv.FormatInt(now.UnixMilli(), 10))
			headers.Set(headerDeliverAt, strconv.FormatInt(now.Add(time.Duration(delayMs)*time.Millisecond).UnixMilli(), 10))
		}
	}

	return headers
}

// Subscribe creates a durable pull consumer for topic and streams its
// messages until ctx is cancelled or the transport closes.
func (t *Transport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}

	subject := t.subjectFor(topic)
	consumerName := t.consumerFor(topic)

	consumerCfg := &nats.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: subject,
		AckPolicy:     nats.AckExplicitPolicy,
		MaxDeliver:    t.config.MaxDeliver,
		AckWait:       t.config.AckWait,
		DeliverPolicy: nats.DeliverAllPolicy,
	}

	if _, err := t.js.AddConsumer(t.config.StreamName, consumerCfg); err != nil {
		if _, err := t.js.UpdateConsumer(t.config.StreamName, consumerCfg); err != nil {
			return nil, fmt.Errorf("create consumer %s: %w", consumerName, err)
		}
	}

	sub, err := t.js.PullSubscribe(subject, consumerName)
	if err != nil {
		return nil, fmt.Errorf("pull subscribe to %s: %w", subject, err)
	}

	t.subMu.Lock()
	t.subscriptions = append(t.subscriptions, sub)
	t.subMu.Unlock()

	output := make(chan *message.Message)
	go t.fetchLoop(ctx, sub, output, topic)

	return output, nil
}

func (t *Transport) fetchLoop(ctx context.Context, sub *nats.Subscription, output chan<- *message.Message, topic string) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closedChan:
			return
		default:
		}

		batch, err := sub.Fetch(fetchBatchSize, nats.MaxWait(fetchMaxWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			t.logger.Error("Fetching messages failed", err, watermill.LogFields{"topic": topic})
			continue
		}

		for _, natsMsg := range batch {
			if t.deferIfNotDue(natsMsg) {
				continue
			}
			if !t.relay(ctx, natsMsg, output) {
				return
			}
		}
	}
}

// deferIfNotDue NAKs a message whose deliver-at time is still in the
// future so the server re-offers it once the delay has elapsed.
func (t *Transport) deferIfNotDue(natsMsg *nats.Msg) bool {
	deliverAtStr := natsMsg.Header.Get(headerDeliverAt)
	if deliverAtStr == "" {
		return false
	}
	deliverAt, err := strconv.ParseInt(deliverAtStr, 10, 64)
	if err != nil {
		return false
	}
	remaining := time.Duration(deliverAt-time.Now().UnixMilli()) * time.Millisecond
	if remaining <= 0 {
		return false
	}
	if err := natsMsg.NakWithDelay(remaining); err != nil {
		t.logger.Error("Deferring delayed message failed", err, nil)
	}
	return true
}

func (t *Transport) relay(ctx context.Context, natsMsg *nats.Msg, output chan<- *message.Message) bool {
	wmMsg := toWatermill(natsMsg)

	select {
	case output <- wmMsg:
	case <-ctx.Done():
		return false
	case <-t.closedChan:
		return false
	}

	select {
	case <-wmMsg.Acked():
		if err := natsMsg.Ack(); err != nil {
			t.logger.Error("Acking message failed", err, nil)
		}
	case <-wmMsg.Nacked():
		if err := natsMsg.Nak(); err != nil {
			t.logger.Error("Nacking message failed", err, nil)
		}
	case <-ctx.Done():
		return false
	case <-t.closedChan:
		return false
	}

	return true
}

func toWatermill(natsMsg *nats.Msg) *message.Message {
	uuid := natsMsg.Header.Get(headerMessageUUID)
	if uuid == "" {
		uuid = watermill.NewUUID()
	}

	wmMsg := message.NewMessage(uuid, natsMsg.Data)
	for k, v := range natsMsg.Header {
		if k == headerMessageUUID {
			continue
		}
		if len(v) > 0 {
			wmMsg.Metadata.Set(k, v[0])
		}
	}

	return wmMsg
}

func (t *Transport) subjectFor(topic string) string {
	return t.config.StreamName + "." + topic
}

// consumerFor derives a durable consumer name. Durable names must not
// contain dots, so topic separators are flattened.
func (t *Transport) consumerFor(topic string) string {
	return "meshkit_" + strings.ReplaceAll(topic, ".", "_")
}

func (t *Transport) checkOpen() error {
	t.closedMu.RLock()
	defer t.closedMu.RUnlock()
	if t.closed {
		return errors.New("jetstream transport is closed")
	}
	return nil
}

// Close unsubscribes all consumers and closes the NATS connection.
// It is safe to call more than once.
func (t *Transport) Close() error {
	t.closedMu.Lock()
	if t.closed {
		t.closedMu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closedChan)
	t.closedMu.Unlock()

	t.subMu.Lock()
	for _, sub := range t.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Error("Unsubscribing failed", err, nil)
		}
	}
	t.subscriptions = nil
	t.subMu.Unlock()

	t.nc.Close()

	return nil
}

// Capabilities reports what the JetStream transport supports.
func (t *Transport) Capabilities() transport.Capabilities {
	return capabilities
}
