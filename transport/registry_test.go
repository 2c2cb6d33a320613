package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConfig struct {
	system string
}

func (c *stubConfig) GetPubSubSystem() string       { return c.system }
func (c *stubConfig) GetKafkaBrokers() []string     { return nil }
func (c *stubConfig) GetKafkaConsumerGroup() string { return "" }
func (c *stubConfig) GetRabbitMQURL() string        { return "" }
func (c *stubConfig) GetNATSURL() string            { return "" }
func (c *stubConfig) GetHTTPServerAddress() string  { return "" }
func (c *stubConfig) GetHTTPPublisherURL() string   { return "" }
func (c *stubConfig) GetPostgresURL() string        { return "" }
func (c *stubConfig) GetAWSRegion() string          { return "" }
func (c *stubConfig) GetAWSAccountID() string       { return "" }
func (c *stubConfig) GetAWSAccessKeyID() string     { return "" }
func (c *stubConfig) GetAWSSecretAccessKey() string { return "" }
func (c *stubConfig) GetAWSEndpoint() string        { return "" }

type stubPublisher struct{}

func (*stubPublisher) Publish(string, ...*message.Message) error { return nil }
func (*stubPublisher) Close() error                              { return nil }

type stubSubscriber struct{}

func (*stubSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}
func (*stubSubscriber) Close() error { return nil }

func stubBuilder(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{Publisher: &stubPublisher{}, Subscriber: &stubSubscriber{}}, nil
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	reg := NewRegistry()
	require.Empty(t, reg.Names())
	assert.False(t, reg.Has("memstream"))

	reg.Register("memstream", stubBuilder)
	assert.True(t, reg.Has("memstream"))
	assert.Equal(t, []string{"memstream"}, reg.Names())

	built, err := reg.Build(context.Background(), &stubConfig{system: "memstream"}, nil)
	require.NoError(t, err)
	assert.NotNil(t, built.Publisher)
	assert.NotNil(t, built.Subscriber)
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()

	t.Run("nil config", func(t *testing.T) {
		_, err := reg.Build(context.Background(), nil, nil)
		assert.ErrorContains(t, err, "config is required")
	})

	t.Run("unknown transport", func(t *testing.T) {
		reg.Register("memstream", stubBuilder)
		_, err := reg.Build(context.Background(), &stubConfig{system: "carrier-pigeon"}, nil)
		assert.ErrorContains(t, err, `unknown transport: "carrier-pigeon"`)
		assert.ErrorContains(t, err, "memstream", "error lists the registered names")
	})

	t.Run("builder failure propagates", func(t *testing.T) {
		boom := errors.New("broker unreachable")
		reg.Register("flaky", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
			return Transport{}, boom
		})
		_, err := reg.Build(context.Background(), &stubConfig{system: "flaky"}, nil)
		assert.ErrorIs(t, err, boom)
	})
}

func TestRegistryCapabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterWithCapabilities("memstream", stubBuilder, Capabilities{
		Name:              "memstream",
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
	})

	caps := reg.GetCapabilities("memstream")
	assert.Equal(t, "memstream", caps.Name)
	assert.True(t, caps.SupportsDelay)
	assert.True(t, caps.SupportsNativeDLQ)

	unknown := reg.GetCapabilities("carrier-pigeon")
	assert.Equal(t, "carrier-pigeon", unknown.Name)
	assert.False(t, unknown.SupportsDelay)
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	reg.Register("zeta", stubBuilder)
	reg.Register("alpha", stubBuilder)
	reg.Register("mid", stubBuilder)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg.Register("memstream", stubBuilder)
				reg.Has("memstream")
				reg.Names()
				reg.GetCapabilities("memstream")
			}
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("memstream"))
}

func TestDefaultRegistryHelpers(t *testing.T) {
	Register("registry-helper-test", stubBuilder)
	assert.True(t, DefaultRegistry.Has("registry-helper-test"))

	RegisterWithCapabilities("registry-helper-caps-test", stubBuilder, Capabilities{
		Name:          "registry-helper-caps-test",
		SupportsDelay: true,
	})
	assert.True(t, GetCapabilities("registry-helper-caps-test").SupportsDelay)

	_, err := Build(context.Background(), &stubConfig{system: "never-registered"}, nil)
	assert.Error(t, err)
}
