package runtime

import (
	"google.golang.org/protobuf/proto"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
)

// RegisterJSONHandler wraps the typed JSON handler in the codec layer and
// attaches it to the service router.
func RegisterJSONHandler[T any, O any](svc *Service, cfg handlerpkg.JSONHandlerRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	raw, err := handlerpkg.BuildJSONHandler(cfg.Handler, svc.Logger)
	if err != nil {
		return err
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Handler:      raw,
	})
}

// RegisterProtoHandler wraps the typed protobuf handler in the protojson
// codec layer and attaches it to the service router. The consumed schema
// and any additional publish schemas are recorded so the management API
// can report them.
func RegisterProtoHandler[T proto.Message](svc *Service, cfg handlerpkg.ProtoHandlerRegistration[T]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	var zero T
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return err
	}

	raw, err := handlerpkg.BuildProtoHandler(prototype, cfg.Handler, cfg.ValidateOutgoing, NewMessageFromProto, svc.Logger)
	if err != nil {
		return err
	}

	reg := handlerRegistration{
		Name:               cfg.Name,
		ConsumeQueue:       cfg.ConsumeQueue,
		PublishQueue:       cfg.PublishQueue,
		Handler:            raw,
		consumeMessageType: prototype,
	}
	if err := svc.registerHandler(reg); err != nil {
		return err
	}

	for _, emitted := range handlerpkg.ApplyProtoHandlerOptions(cfg.Options).AdditionalPublishTypes {
		svc.registerProtoType(emitted)
	}
	return nil
}
