// Package jsoncodec routes every JSON conversion in the runtime through
// sonic with encoding/json compatible behaviour.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// api is the shared sonic instance. ConfigStd matches encoding/json
// semantics (sorted keys, HTML escaping) so payloads stay stable across
// transports.
var api = sonic.ConfigStd

// Marshal serializes v to JSON.
func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

// MarshalIndent serializes v with the given prefix and indentation.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }

// Encode streams v as JSON onto w.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Decode reads a JSON value from r into v.
func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
