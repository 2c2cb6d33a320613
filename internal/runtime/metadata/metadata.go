// Package metadata holds the string headers that travel with every
// message: trace context, correlation ids, priorities and retry bookkeeping.
package metadata

// Metadata is the header map attached to a message. All mutating helpers
// return copies so a map handed to a publisher is never written to later.
type Metadata map[string]string

// New builds a Metadata map from alternating key/value pairs. A trailing
// key without a value is dropped.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// Clone returns an independent copy. Cloning a nil map yields an empty,
// writable map.
func (m Metadata) Clone() Metadata {
	return m.copyWithRoom(0)
}

// With returns a copy of m with one entry added or replaced.
func (m Metadata) With(key, value string) Metadata {
	out := m.copyWithRoom(1)
	out[key] = value
	return out
}

// WithAll returns a copy of m merged with entries. Entries win on
// conflicting keys.
func (m Metadata) WithAll(entries Metadata) Metadata {
	out := m.copyWithRoom(len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out
}

func (m Metadata) copyWithRoom(extra int) Metadata {
	out := make(Metadata, len(m)+extra)
	for k, v := range m {
		out[k] = v
	}
	return out
}
