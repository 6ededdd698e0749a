// Package ids generates opaque session identifiers.
package ids

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator returns a new unique identifier on each call.
type Generator func() string

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// UUID returns a random (version 4) UUID string.
func UUID() string {
	return uuid.NewString()
}

// ULID returns a time-sortable ULID encoded as a 26-character string.
func ULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Named resolves a generator by its configuration name. The empty name
// selects UUID.
func Named(name string) (Generator, error) {
	switch name {
	case "", "uuid":
		return UUID, nil
	case "ulid":
		return ULID, nil
	default:
		return nil, fmt.Errorf("ids: unknown generator %q", name)
	}
}
