package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
)

// ProtoHandlerRegistration configures a typed protobuf handler. Incoming
// payloads are protojson-decoded into T; emitted events are marshalled
// through the service's message factory.
type ProtoHandlerRegistration[T proto.Message] struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      ProtoMessageHandler[T]
	Options      []ProtoHandlerOption
	// ValidateOutgoing, when set, runs against every emitted message
	// before publishing. A validation error fails the whole delivery.
	ValidateOutgoing func(proto.Message) error
}

// ProtoHandlerOption customises handler registration.
type ProtoHandlerOption func(*protoHandlerOptions)

type protoHandlerOptions struct {
	additionalPublishTypes []proto.Message
}

// ProtoHandlerOptions is the resolved form of a ProtoHandlerOption list.
type ProtoHandlerOptions struct {
	AdditionalPublishTypes []proto.Message
}

// ApplyProtoHandlerOptions folds the options into a concrete configuration.
// Nil entries are skipped.
func ApplyProtoHandlerOptions(opts []ProtoHandlerOption) ProtoHandlerOptions {
	var cfg protoHandlerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return ProtoHandlerOptions{AdditionalPublishTypes: cfg.additionalPublishTypes}
}

// WithPublishMessageTypes declares extra proto schemas this handler may
// emit, so consumers can resolve them by schema header.
func WithPublishMessageTypes(msgs ...proto.Message) ProtoHandlerOption {
	return func(cfg *protoHandlerOptions) {
		cfg.additionalPublishTypes = append(cfg.additionalPublishTypes, msgs...)
	}
}

// ProtoMessageContext gives a handler typed access to the payload plus
// the shared metadata helpers.
type ProtoMessageContext[T proto.Message] struct {
	MessageContextBase
	Payload T
}

// ProtoMessageOutput is one event to emit after the handler succeeds.
// Nil Metadata inherits the incoming message's headers.
type ProtoMessageOutput struct {
	Message  proto.Message
	Metadata metadatapkg.Metadata
}

// ProtoMessageHandler processes a typed protobuf payload and returns the
// events to emit.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, event ProtoMessageContext[T]) ([]ProtoMessageOutput, error)

// ProtoMessageFactory converts proto payloads into Watermill messages.
type ProtoMessageFactory func(proto.Message, metadatapkg.Metadata) (*message.Message, error)

// BuildProtoHandler turns a typed proto handler into a raw Watermill one.
// prototype supplies the concrete payload type; factory builds the
// outgoing wire messages.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoMessageHandler[T], validate func(proto.Message) error, factory ProtoMessageFactory, logger loggingpkg.ServiceLogger) (message.HandlerFunc, error) {
	switch {
	case handler == nil:
		return nil, errspkg.ErrHandlerRequired
	case isNilProto(prototype):
		return nil, errspkg.ErrPayloadTypeRequired
	case factory == nil:
		return nil, errors.New("proto message factory is required")
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		payload, err := freshInstance(prototype)
		if err != nil {
			return nil, err
		}
		if err := protojson.Unmarshal(msg.Payload, payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %T payload: %w", prototype, err)
		}

		evt := ProtoMessageContext[T]{
			MessageContextBase: MessageContextBase{
				Metadata: metadatapkg.FromWatermill(msg.Metadata),
				Logger:   logger,
			},
			Payload: payload,
		}

		outgoing, err := handler(msg.Context(), evt)
		if err != nil {
			return nil, err
		}

		if validate != nil {
			for _, out := range outgoing {
				if out.Message == nil {
					return nil, errors.New("proto handler emitted nil message")
				}
				if err := validate(out.Message); err != nil {
					return nil, err
				}
			}
		}

		return encodeProtoOutputs(outgoing, evt.Metadata, factory)
	}, nil
}

// freshInstance returns an empty message of the prototype's concrete type.
func freshInstance[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrPayloadTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}
	return typed, nil
}

// EnsureProtoPrototype resolves a usable prototype for T. A typed nil
// (the zero value of a pointer message type) is materialized through
// reflection; an interface type with no concrete element fails.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrPayloadPointerNeeded
	}

	typed, ok := reflect.New(typ.Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func encodeProtoOutputs(outputs []ProtoMessageOutput, fallback metadatapkg.Metadata, factory ProtoMessageFactory) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, len(outputs))
	for i, out := range outputs {
		headers := out.Metadata
		if headers == nil {
			headers = fallback
		}

		msg, err := factory(out.Message, headers)
		if err != nil {
			return nil, err
		}
		result[i] = msg
	}
	return result, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
