package handlers

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	idspkg "github.com/lernio/meshkit/internal/runtime/ids"
	jsoncodec "github.com/lernio/meshkit/internal/runtime/jsoncodec"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
)

// JSONHandlerRegistration wires a typed JSON handler to the router. T is
// the incoming payload type, O the emitted one; both must be pointers to
// structs.
type JSONHandlerRegistration[T any, O any] struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      JSONMessageHandler[T, O]
}

// JSONMessageContext exposes the decoded payload and headers to a JSON
// handler.
type JSONMessageContext[T any] struct {
	Payload  T
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// CloneMetadata copies the header map so handlers can derive outgoing
// headers without mutating the incoming ones.
func (c JSONMessageContext[T]) CloneMetadata() metadatapkg.Metadata {
	return c.Metadata.Clone()
}

// JSONMessageOutput is one event emitted by a JSON handler. Nil Metadata
// inherits the incoming message's headers.
type JSONMessageOutput[T any] struct {
	Message  T
	Metadata metadatapkg.Metadata
}

// JSONMessageHandler processes a JSON payload and returns the events to
// publish.
type JSONMessageHandler[T any, O any] func(ctx context.Context, event JSONMessageContext[T]) ([]JSONMessageOutput[O], error)

// BuildJSONHandler turns a typed JSON handler into a raw Watermill one:
// decode, invoke, encode the outputs.
func BuildJSONHandler[T any, O any](handler JSONMessageHandler[T, O], logger loggingpkg.ServiceLogger) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	alloc, err := jsonPayloadAllocator[T]()
	if err != nil {
		return nil, err
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		payload := alloc()
		if err := jsoncodec.Unmarshal(msg.Payload, payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
		}

		evt := JSONMessageContext[T]{
			Payload:  payload,
			Metadata: metadatapkg.FromWatermill(msg.Metadata),
			Logger:   logger,
		}

		outgoing, err := handler(msg.Context(), evt)
		if err != nil {
			return nil, err
		}
		return encodeJSONOutputs(outgoing, evt.Metadata)
	}, nil
}

// jsonPayloadAllocator validates at registration time that T is a struct
// pointer and returns a factory producing fresh instances per message.
func jsonPayloadAllocator[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}

	elem := typ.Elem()
	return func() T {
		return reflect.New(elem).Interface().(T)
	}, nil
}

func encodeJSONOutputs[T any](outputs []JSONMessageOutput[T], fallback metadatapkg.Metadata) ([]*message.Message, error) {
	if len(outputs) == 0 {
		return nil, nil
	}

	result := make([]*message.Message, len(outputs))
	for i, out := range outputs {
		if reflect.ValueOf(out.Message).IsZero() {
			return nil, errors.New("json handler emitted zero-value message")
		}

		payload, err := jsoncodec.Marshal(out.Message)
		if err != nil {
			return nil, err
		}

		headers := out.Metadata
		if headers == nil {
			headers = fallback
		}
		headers = headers.Clone()
		headers[MetadataKeyEventSchema] = fmt.Sprintf("%T", out.Message)

		msg := message.NewMessage(idspkg.CreateULID(), payload)
		msg.Metadata = metadatapkg.ToWatermill(headers)
		result[i] = msg
	}
	return result, nil
}
