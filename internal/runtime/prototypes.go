package runtime

import (
	"google.golang.org/protobuf/proto"

	handlerpkg "github.com/lernio/meshkit/internal/runtime/handlers"
)

// NewProtoMessage returns a fresh zero value of the protobuf type T.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	return handlerpkg.EnsureProtoPrototype(zero)
}

// MustProtoMessage is NewProtoMessage for static message types; it panics
// when T cannot be instantiated, which only happens for interface types.
func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}
