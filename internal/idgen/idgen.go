// Package idgen generates sortable unique identifiers for append-only
// records. Grounded on the oklog/ulid/v2 dependency pulled into the pack
// via the retrieval corpus's broader storage tooling; ULIDs give the
// traffic sink a monotonic-ish, collision-resistant id without a round
// trip to the database sequence.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID string, safe for concurrent use.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
