package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/protobuf/proto"

	configpkg "github.com/lernio/meshkit/internal/runtime/config"
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
)

// testPublisher records every publish so tests can assert on topics and
// message contents.
type testPublisher struct {
	mu        sync.Mutex
	topics    []string
	published []*message.Message
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.published = append(p.published, messages...)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

// testSubscriber hands out an already-closed channel, which is enough
// for router wiring tests that never consume messages.
type testSubscriber struct {
	err error
}

func (s *testSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (s *testSubscriber) Close() error { return nil }

func newTestService(t *testing.T) *Service {
	t.Helper()

	log := newTestLogger()
	router, err := message.NewRouter(message.RouterConfig{}, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		t.Fatalf("router init failed: %v", err)
	}

	return &Service{
		Conf:          &configpkg.Config{},
		Logger:        log,
		router:        router,
		publisher:     &testPublisher{},
		subscriber:    &testSubscriber{},
		protoRegistry: make(map[string]func() proto.Message),
	}
}
