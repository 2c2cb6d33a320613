package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies Watermill message metadata into a Metadata map.
// The result never aliases the input.
func FromWatermill(md message.Metadata) Metadata {
	out := make(Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}

// ToWatermill copies a Metadata map into the shape Watermill publishers
// expect. The result never aliases the input.
func ToWatermill(md Metadata) message.Metadata {
	out := make(message.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
