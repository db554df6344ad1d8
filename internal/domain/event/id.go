package event

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// [MONOTONIC_IDS]
// ULIDs sort lexically by creation time; the monotonic reader keeps ids
// generated within the same millisecond strictly increasing, so an id is a
// valid tie breaker for publish order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new, strictly increasing event identifier.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
