package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
	idspkg "github.com/lernio/meshkit/internal/runtime/ids"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
	tracingpkg "github.com/lernio/meshkit/internal/runtime/tracing"
)

// EmitUnpopulated keeps zero-value fields on the wire so consumers can
// distinguish an absent field from schema drift.
var protoWireFormat = protojson.MarshalOptions{EmitUnpopulated: true}

// Producer emits proto-based events onto the configured transport.
type Producer interface {
	PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error
}

// NewMessageFromProto wraps a proto event in a Watermill message:
// protojson payload, ULID message id and the schema header consumers use
// to pick an unmarshal target.
func NewMessageFromProto(event proto.Message, metadata metadatapkg.Metadata) (*message.Message, error) {
	if event == nil {
		return nil, errspkg.ErrEventPayloadRequired
	}

	payload, err := protoWireFormat.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(metadata)
	msg.Metadata[handlerpkg.MetadataKeyEventSchema] = fmt.Sprintf("%T", event)
	return msg, nil
}

// PublishProto marshals event and publishes it on topic through the
// given publisher. ctx, when non-nil, rides along on the message and
// any active span in it is injected into the metadata, so consumers
// join the publisher's trace.
func PublishProto(ctx context.Context, publisher message.Publisher, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	if ctx != nil {
		metadata = tracingpkg.Inject(ctx, metadata)
	}

	msg, err := NewMessageFromProto(event, metadata)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return publisher.Publish(topic, msg)
}

// PublishProto emits the event through the service's own publisher.
func (s *Service) PublishProto(ctx context.Context, topic string, event proto.Message, metadata metadatapkg.Metadata) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return PublishProto(ctx, s.publisher, topic, event, metadata)
}

// Publish sends raw Watermill messages on topic through the service's
// publisher. ctx rides along on each message and any active span in it
// is injected into the message metadata.
func (s *Service) Publish(ctx context.Context, topic string, messages ...*message.Message) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	for _, msg := range messages {
		if msg == nil {
			continue
		}
		if ctx != nil {
			msg.SetContext(ctx)
			for key, value := range tracingpkg.Inject(ctx, nil) {
				msg.Metadata.Set(key, value)
			}
		}
	}
	return s.publisher.Publish(topic, messages...)
}
