package runtime

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	errspkg "github.com/lernio/meshkit/internal/runtime/errors"
	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
	idspkg "github.com/lernio/meshkit/internal/runtime/ids"
)

func noopHandler(msg *message.Message) ([]*message.Message, error) { return nil, nil }

func TestRegisterMessageHandler(t *testing.T) {
	t.Run("nil service", func(t *testing.T) {
		err := RegisterMessageHandler(nil, MessageHandlerRegistration{})
		assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
	})

	t.Run("registers on the router", func(t *testing.T) {
		svc := newTestService(t)
		require.NoError(t, RegisterMessageHandler(svc, MessageHandlerRegistration{
			Name:         "raw",
			ConsumeQueue: "orders.incoming",
			PublishQueue: "orders.audit",
			Handler:      noopHandler,
		}))
		assert.Contains(t, svc.router.Handlers(), "raw")
	})

	t.Run("validation sentinels", func(t *testing.T) {
		svc := newTestService(t)

		err := RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "x", ConsumeQueue: "q"})
		assert.ErrorIs(t, err, errspkg.ErrHandlerRequired)

		err = RegisterMessageHandler(svc, MessageHandlerRegistration{Name: "x", Handler: noopHandler})
		assert.ErrorIs(t, err, errspkg.ErrConsumeQueueRequired)

		err = RegisterMessageHandler(svc, MessageHandlerRegistration{ConsumeQueue: "q", Handler: noopHandler})
		assert.ErrorIs(t, err, errspkg.ErrHandlerNameRequired)
	})
}

func TestRegisterProtoMessageToleratesNil(t *testing.T) {
	svc := newTestService(t)
	svc.RegisterProtoMessage(nil)

	svc.RegisterProtoMessage(&structpb.Struct{})
	assert.Contains(t, svc.protoRegistry, "*structpb.Struct")
}

func TestRegisterProtoHandler(t *testing.T) {
	okHandler := func(ctx context.Context, evt handlerpkg.ProtoMessageContext[*structpb.Struct]) ([]handlerpkg.ProtoMessageOutput, error) {
		return nil, nil
	}

	t.Run("nil service", func(t *testing.T) {
		err := RegisterProtoHandler[*structpb.Struct](nil, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{})
		assert.ErrorIs(t, err, errspkg.ErrServiceRequired)
	})

	t.Run("nil handler", func(t *testing.T) {
		svc := newTestService(t)
		err := RegisterProtoHandler[*structpb.Struct](svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
			Name: "test",
		})
		assert.Error(t, err)
	})

	t.Run("missing consume queue", func(t *testing.T) {
		svc := newTestService(t)
		err := RegisterProtoHandler[*structpb.Struct](svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
			Name:    "test",
			Handler: okHandler,
		})
		assert.ErrorIs(t, err, errspkg.ErrConsumeQueueRequired)
	})

	t.Run("registers additional publish types", func(t *testing.T) {
		svc := newTestService(t)
		require.NoError(t, RegisterProtoHandler[*structpb.Struct](svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
			Name:         "test",
			ConsumeQueue: "queue",
			Handler:      okHandler,
			Options: []handlerpkg.ProtoHandlerOption{
				handlerpkg.WithPublishMessageTypes(&structpb.Value{}),
			},
		}))
		assert.Contains(t, svc.protoRegistry, "*structpb.Value")
	})

	t.Run("outgoing validation failure surfaces", func(t *testing.T) {
		svc := newTestService(t)
		require.NoError(t, RegisterProtoHandler[*structpb.Struct](svc, handlerpkg.ProtoHandlerRegistration[*structpb.Struct]{
			Name:         "validated",
			ConsumeQueue: "queue",
			ValidateOutgoing: func(m proto.Message) error {
				return errors.New("invalid")
			},
			Handler: func(ctx context.Context, evt handlerpkg.ProtoMessageContext[*structpb.Struct]) ([]handlerpkg.ProtoMessageOutput, error) {
				return []handlerpkg.ProtoMessageOutput{{Message: &structpb.Struct{}}}, nil
			},
		}))

		handler := svc.router.Handlers()["validated"]
		_, err := handler(message.NewMessage(idspkg.CreateULID(), []byte("{}")))
		assert.ErrorContains(t, err, "invalid")
	})
}
