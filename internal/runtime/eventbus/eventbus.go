// Package eventbus broadcasts typed application events over the durable
// message queue. Each event type maps to one logical queue, so events get
// the same retry, dead-letter and tracing behaviour as regular messages.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	handlerspkg "github.com/lernio/meshkit/internal/runtime/handlers"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	queuepkg "github.com/lernio/meshkit/internal/runtime/queue"
)

// topicPrefix keeps event queues apart from point-to-point message queues.
const topicPrefix = "events."

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

// Event is one broadcast occurrence delivered to a subscriber.
type Event struct {
	ID          string               `json:"id"`
	Type        string               `json:"type"`
	Source      string               `json:"source,omitempty"`
	Payload     []byte               `json:"payload"`
	Metadata    metadatapkg.Metadata `json:"metadata,omitempty"`
	PublishedAt time.Time            `json:"published_at"`
}

// EventHandler consumes one event. A non-nil error (or a panic) counts as a
// failed delivery attempt and consumes one retry.
type EventHandler func(ctx context.Context, event *Event) error

// Bus publishes and subscribes to typed events.
type Bus struct {
	queues *queuepkg.Manager
	pool   *queuepkg.Pool
	logger loggingpkg.ServiceLogger
}

// NewBus builds an event bus on top of the queue manager and worker pool.
func NewBus(queues *queuepkg.Manager, pool *queuepkg.Pool, logger loggingpkg.ServiceLogger) *Bus {
	if queues == nil {
		panic("meshkit: queue manager cannot be nil")
	}
	if pool == nil {
		panic("meshkit: worker pool cannot be nil")
	}
	if logger == nil {
		panic("meshkit: logger cannot be nil")
	}
	return &Bus{queues: queues, pool: pool, logger: logger}
}

// Topic returns the logical queue an event type is delivered on.
func Topic(eventType string) string {
	return topicPrefix + eventType
}

// Publish broadcasts one event. The trace context of ctx travels with the
// event so subscriber spans join the publisher's trace.
func (b *Bus) Publish(ctx context.Context, eventType, source string, payload []byte, opts queuepkg.SendOptions) (*Event, error) {
	if eventType == "" {
		return nil, errspkg.ErrTopicRequired
	}

	opts.Metadata = opts.Metadata.
		With(handlerspkg.MetadataKeyEventType, eventType).
		With(handlerspkg.MetadataKeyEventSource, source)

	msg, err := b.queues.Send(ctx, Topic(eventType), payload, opts)
	if err != nil {
		return nil, err
	}
	observePublished(eventType)
	return eventFromMessage(msg), nil
}

// PublishBulk broadcasts several payloads of the same event type. It stops
// at the first failure and returns the events published so far.
func (b *Bus) PublishBulk(ctx context.Context, eventType, source string, payloads [][]byte, opts queuepkg.SendOptions) ([]*Event, error) {
	events := make([]*Event, 0, len(payloads))
	for _, payload := range payloads {
		event, err := b.Publish(ctx, eventType, source, payload, opts)
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
	return events, nil
}

// PublishProto broadcasts a protobuf event as protojson, recording the
// concrete payload type so subscribers can pick the right decoder.
func (b *Bus) PublishProto(ctx context.Context, eventType, source string, event proto.Message, opts queuepkg.SendOptions) (*Event, error) {
	if event == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}

	payload, err := protoJSONMarshalOptions.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	opts.Metadata = opts.Metadata.With(handlerspkg.MetadataKeyEventSchema, fmt.Sprintf("%T", event))
	return b.Publish(ctx, eventType, source, payload, opts)
}

// Subscribe registers a handler for one event type. One handler per event
// type; delivery shares the pool's retry and timeout behaviour.
func (b *Bus) Subscribe(eventType string, handler EventHandler) error {
	if eventType == "" {
		return errspkg.ErrTopicRequired
	}
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}

	b.pool.Handle(Topic(eventType), func(ctx context.Context, msg *queuepkg.Message) error {
		return handler(ctx, eventFromMessage(msg))
	})
	b.logger.Info("event subscription registered", loggingpkg.LogFields{"event_type": eventType})
	return nil
}

// Stats summarises delivery of one event type.
func (b *Bus) Stats(ctx context.Context, eventType string) (queuepkg.Stats, error) {
	return b.queues.Stats(ctx, Topic(eventType))
}

// EventTypes lists the event types that have seen at least one publish.
func (b *Bus) EventTypes(ctx context.Context) ([]string, error) {
	queues, err := b.queues.Queues(ctx)
	if err != nil {
		return nil, err
	}
	var types []string
	for _, queue := range queues {
		if len(queue) > len(topicPrefix) && queue[:len(topicPrefix)] == topicPrefix {
			types = append(types, queue[len(topicPrefix):])
		}
	}
	return types, nil
}

func eventFromMessage(msg *queuepkg.Message) *Event {
	return &Event{
		ID:          msg.ID,
		Type:        msg.Metadata[handlerspkg.MetadataKeyEventType],
		Source:      msg.Metadata[handlerspkg.MetadataKeyEventSource],
		Payload:     msg.Payload,
		Metadata:    msg.Metadata,
		PublishedAt: msg.CreatedAt,
	}
}
