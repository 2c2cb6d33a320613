package jetstream

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lernio/meshkit/transport"
)

func TestRegister(t *testing.T) {
	saved := transport.DefaultRegistry
	transport.DefaultRegistry = transport.NewRegistry()
	t.Cleanup(func() { transport.DefaultRegistry = saved })

	Register()

	assert.True(t, transport.Has(TransportName))
	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "nats-jetstream", caps.Name)
	assert.True(t, caps.SupportsDelay)
	assert.True(t, caps.SupportsNativeDLQ)
	assert.True(t, caps.SupportsAck)
	assert.True(t, caps.SupportsNack)
	assert.True(t, caps.SupportsReliableDelivery())
}

func TestConfigWithDefaults(t *testing.T) {
	t.Run("zero config", func(t *testing.T) {
		cfg := Config{}.withDefaults()

		assert.Equal(t, DefaultStreamName, cfg.StreamName)
		assert.Equal(t, DefaultMaxDeliver, cfg.MaxDeliver)
		assert.Equal(t, DefaultAckWait, cfg.AckWait)
		assert.Equal(t, 1, cfg.Replicas)
	})

	t.Run("explicit values survive", func(t *testing.T) {
		cfg := Config{
			URL:             "nats://queue-1:4222",
			StreamName:      "ORDERS",
			MaxDeliver:      5,
			AckWait:         time.Minute,
			Replicas:        3,
			RetentionPolicy: "workqueue",
		}.withDefaults()

		assert.Equal(t, "ORDERS", cfg.StreamName)
		assert.Equal(t, 5, cfg.MaxDeliver)
		assert.Equal(t, time.Minute, cfg.AckWait)
		assert.Equal(t, 3, cfg.Replicas)
	})

	t.Run("negative values fall back", func(t *testing.T) {
		cfg := Config{MaxDeliver: -1, AckWait: -time.Second, Replicas: -1}.withDefaults()

		assert.Equal(t, DefaultMaxDeliver, cfg.MaxDeliver)
		assert.Equal(t, DefaultAckWait, cfg.AckWait)
		assert.Equal(t, 1, cfg.Replicas)
	})
}

func TestConfigRetention(t *testing.T) {
	assert.Equal(t, nats.LimitsPolicy, Config{}.retention())
	assert.Equal(t, nats.InterestPolicy, Config{RetentionPolicy: "interest"}.retention())
	assert.Equal(t, nats.WorkQueuePolicy, Config{RetentionPolicy: "workqueue"}.retention())
	assert.Equal(t, nats.LimitsPolicy, Config{RetentionPolicy: "bogus"}.retention())
}

func TestSubjectAndConsumerNaming(t *testing.T) {
	tr := &Transport{config: Config{StreamName: "MESHKIT"}}

	assert.Equal(t, "MESHKIT.orders.created", tr.subjectFor("orders.created"))
	assert.Equal(t, "meshkit_orders_created", tr.consumerFor("orders.created"))
}

func TestBuildHeaders(t *testing.T) {
	t.Run("metadata and uuid copied", func(t *testing.T) {
		msg := message.NewMessage("msg-1", []byte(`{"id":"ord-9"}`))
		msg.Metadata.Set("tenant", "acme")

		headers := buildHeaders(msg)

		assert.Equal(t, "acme", headers.Get("tenant"))
		assert.Equal(t, "msg-1", headers.Get(headerMessageUUID))
		assert.Empty(t, headers.Get(headerDeliverAt))
	})

	t.Run("delay stamps deliver-at", func(t *testing.T) {
		msg := message.NewMessage("msg-2", nil)
		msg.Metadata.Set(MetadataDelay, "1500")

		before := time.Now()
		headers := buildHeaders(msg)

		deliverAt, err := strconv.ParseInt(headers.Get(headerDeliverAt), 10, 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, deliverAt, before.Add(1500*time.Millisecond).UnixMilli())
		assert.NotEmpty(t, headers.Get(headerPublishedAt))
	})

	t.Run("non-positive delay ignored", func(t *testing.T) {
		msg := message.NewMessage("msg-3", nil)
		msg.Metadata.Set(MetadataDelay, "0")

		headers := buildHeaders(msg)

		assert.Empty(t, headers.Get(headerDeliverAt))
	})
}

func TestToWatermill(t *testing.T) {
	t.Run("uuid restored from header", func(t *testing.T) {
		natsMsg := &nats.Msg{
			Data: []byte(`{"total":42}`),
			Header: nats.Header{
				headerMessageUUID: []string{"msg-7"},
				"tenant":          []string{"globex"},
			},
		}

		wmMsg := toWatermill(natsMsg)

		assert.Equal(t, "msg-7", wmMsg.UUID)
		assert.Equal(t, "globex", wmMsg.Metadata.Get("tenant"))
		assert.Empty(t, wmMsg.Metadata.Get(headerMessageUUID))
		assert.Equal(t, []byte(`{"total":42}`), []byte(wmMsg.Payload))
	})

	t.Run("missing uuid generates one", func(t *testing.T) {
		wmMsg := toWatermill(&nats.Msg{Data: []byte("x")})

		assert.NotEmpty(t, wmMsg.UUID)
	})
}

func TestClosedTransportRejectsOperations(t *testing.T) {
	tr := &Transport{closed: true, closedChan: make(chan struct{})}

	err := tr.Publish("orders.created", message.NewMessage("m", nil))
	assert.ErrorContains(t, err, "closed")

	_, err = tr.Subscribe(context.Background(), "orders.created")
	assert.ErrorContains(t, err, "closed")
}

func TestOptionalFeatureInterfaces(t *testing.T) {
	var tr interface{} = (*Transport)(nil)

	_, ok := tr.(transport.DelayedPublisher)
	assert.True(t, ok)
	_, ok = tr.(transport.CapabilitiesProvider)
	assert.True(t, ok)
}
