package handlers

import (
	loggingpkg "github.com/lernio/meshkit/internal/runtime/logging"
	metadatapkg "github.com/lernio/meshkit/internal/runtime/metadata"
)

// MessageContextBase carries the pieces every typed handler context shares:
// the incoming headers and a logger scoped to the delivery.
type MessageContextBase struct {
	Metadata metadatapkg.Metadata
	Logger   loggingpkg.ServiceLogger
}

// Get returns the header value for key, or "" when absent.
func (b MessageContextBase) Get(key string) string {
	return b.Metadata[key]
}

// CorrelationID returns the correlation header stamped by the publisher,
// or "" when the message arrived without one.
func (b MessageContextBase) CorrelationID() string {
	return b.Metadata[MetadataKeyCorrelationID]
}

// CloneMetadata copies the headers so a handler can derive outgoing ones
// without mutating the incoming map.
func (b MessageContextBase) CloneMetadata() metadatapkg.Metadata {
	return b.Metadata.Clone()
}
