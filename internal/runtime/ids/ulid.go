// Package ids generates the identifiers the runtime stamps on messages
// and registry entries.
package ids

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a 26-character ULID. Message and correlation ids use
// this form because it sorts by creation time.
func CreateULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Now(), entropy).String()
}

// CreateInstanceID returns a random UUID for a registry instance.
func CreateInstanceID() string {
	return uuid.New().String()
}
