package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCapabilitiesForRegisteredBackends(t *testing.T) {
	// The blank imports in factory.go register every backend, so all of
	// these resolve through the default registry.
	for _, name := range []string{"channel", "kafka", "rabbitmq", "nats", "nats-jetstream", "aws", "http", "postgres"} {
		t.Run(name, func(t *testing.T) {
			caps := GetCapabilities(name)
			assert.NotEmpty(t, caps.Name)
		})
	}
}

func TestGetCapabilitiesAliases(t *testing.T) {
	assert.Equal(t, GetCapabilities("postgres"), GetCapabilities("postgresql"))
	assert.Equal(t, GetCapabilities("nats-jetstream"), GetCapabilities("jetstream"))
	assert.Equal(t, GetCapabilities("channel"), GetCapabilities("gochannel"))
}

func TestGetCapabilitiesUnknown(t *testing.T) {
	caps := GetCapabilities("carrier-pigeon")

	assert.Equal(t, "carrier-pigeon", caps.Name)
	assert.False(t, caps.SupportsDelay)
	assert.False(t, caps.SupportsNativeDLQ)
}
