package runtime

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
)

// handlerRegistration is the resolved form every public registration
// helper funnels into. Subscriber and Publisher fall back to the
// service transport when unset.
type handlerRegistration struct {
	Name               string
	ConsumeQueue       string
	Subscriber         message.Subscriber
	PublishQueue       string
	Publisher          message.Publisher
	Handler            message.HandlerFunc
	consumeMessageType proto.Message
}

// normalize fills in the pieces callers may leave empty: transport
// endpoints default to the service's own, and handlers for a typed
// consume message get a name derived from the type.
func (r *handlerRegistration) normalize(s *Service) {
	if r.Subscriber == nil {
		r.Subscriber = s.subscriber
	}
	if r.Publisher == nil {
		r.Publisher = s.publisher
	}
	if r.Name == "" && r.consumeMessageType != nil {
		r.Name = fmt.Sprintf("%T-Handler", r.consumeMessageType)
	}
}

func (r *handlerRegistration) validate() error {
	switch {
	case r.Handler == nil:
		return errspkg.ErrHandlerRequired
	case r.ConsumeQueue == "":
		return errspkg.ErrConsumeQueueRequired
	case r.Name == "":
		return errspkg.ErrHandlerNameRequired
	}
	return nil
}

// MessageHandlerRegistration wires a raw Watermill handler without the
// typed JSON or proto helpers.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeQueue string
	PublishQueue string
	Handler      message.HandlerFunc
	Subscriber   message.Subscriber
	Publisher    message.Publisher
}

// RegisterMessageHandler attaches the provided handler to the service router.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeQueue: cfg.ConsumeQueue,
		PublishQueue: cfg.PublishQueue,
		Subscriber:   cfg.Subscriber,
		Publisher:    cfg.Publisher,
		Handler:      cfg.Handler,
	})
}

func (s *Service) registerHandler(reg handlerRegistration) error {
	reg.normalize(s)
	if err := reg.validate(); err != nil {
		return err
	}
	if reg.consumeMessageType != nil {
		s.registerProtoType(reg.consumeMessageType)
	}

	stats := newHandlerStats(reg.Name, reg.ConsumeQueue, reg.PublishQueue, s.getResourceTracker())
	s.trackHandler(&HandlerInfo{
		Name:         reg.Name,
		ConsumeQueue: reg.ConsumeQueue,
		PublishQueue: reg.PublishQueue,
		Stats:        stats,
	})

	s.router.AddHandler(
		reg.Name,
		reg.ConsumeQueue,
		reg.Subscriber,
		reg.PublishQueue,
		reg.Publisher,
		wrapHandlerWithStats(reg.Handler, stats, s.getErrorClassifier()),
	)
	return nil
}

func (s *Service) trackHandler(info *HandlerInfo) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers = append(s.handlers, info)
}

// RegisterProtoMessage makes a proto type known to the service without
// attaching a handler, so incoming payloads of that type can be decoded.
func (s *Service) RegisterProtoMessage(msg proto.Message) {
	s.registerProtoType(msg)
}

func (s *Service) registerProtoType(msg proto.Message) {
	if msg == nil {
		return
	}

	typeName := fmt.Sprintf("%T", msg)

	s.protoRegistryMu.Lock()
	defer s.protoRegistryMu.Unlock()
	s.protoRegistry[typeName] = func() proto.Message {
		return msg.ProtoReflect().New().Interface()
	}
}

// wrapHandlerWithStats surrounds a handler with the stats bookkeeping
// that feeds the management API's handler endpoint.
func wrapHandlerWithStats(handler message.HandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		invocation := stats.onMessageStart(msg)
		start := time.Now()

		msgs, err := handler(msg)

		stats.onMessageFinish(invocation, time.Since(start), err, classifier)
		return msgs, err
	}
}
