package transport

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

type fakeDLQStore struct {
	replayed []int64
}

func (s *fakeDLQStore) GetDLQCount(string) (int64, error) { return int64(len(s.replayed)), nil }
func (s *fakeDLQStore) ReplayDLQMessage(id int64) error {
	s.replayed = append(s.replayed, id)
	return nil
}
func (s *fakeDLQStore) ReplayAllDLQ(string) (int64, error) { return 0, nil }
func (s *fakeDLQStore) PurgeDLQ(string) (int64, error)     { return 0, nil }
func (s *fakeDLQStore) ListDLQMessages(string, int, int) ([]DLQMessage, error) {
	return nil, nil
}
func (s *fakeDLQStore) GetPendingCount(string) (int64, error) { return 0, nil }
func (s *fakeDLQStore) PublishWithDelay(string, int64, ...*message.Message) error {
	return nil
}
func (s *fakeDLQStore) Capabilities() Capabilities { return Capabilities{Name: "fake"} }

// The optional feature interfaces are discovered by type assertion, so a
// transport satisfying them must keep these exact method sets.
var (
	_ DLQManager           = (*fakeDLQStore)(nil)
	_ DLQLister            = (*fakeDLQStore)(nil)
	_ QueueIntrospector    = (*fakeDLQStore)(nil)
	_ DelayedPublisher     = (*fakeDLQStore)(nil)
	_ CapabilitiesProvider = (*fakeDLQStore)(nil)
)

func TestFeatureDiscoveryByAssertion(t *testing.T) {
	var built any = &fakeDLQStore{}

	mgr, ok := built.(DLQManager)
	assert.True(t, ok)
	assert.NoError(t, mgr.ReplayDLQMessage(7))

	count, err := mgr.GetDLQCount("orders.failed")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, ok = built.(interface{ NotAFeature() })
	assert.False(t, ok)
}
