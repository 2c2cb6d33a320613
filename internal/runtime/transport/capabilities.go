// Package transport adapts the runtime to the pluggable transport
// registry. The backend implementations live under
// github.com/lernio/meshkit/transport; importing this package pulls all
// of them in.
package transport

import (
	newtransport "github.com/lernio/meshkit/transport"
)

// Capabilities mirrors the transport package type so runtime code does
// not need a second import.
type Capabilities = newtransport.Capabilities

// CapabilitiesProvider mirrors the transport package interface.
type CapabilitiesProvider = newtransport.CapabilitiesProvider

// GetCapabilities looks up a transport's capabilities by name.
func GetCapabilities(transportName string) Capabilities {
	return newtransport.GetCapabilities(transportName)
}
