package util

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewULID returns a lowercase ULID for the current time.
func NewULID() string {
	return NewULIDAt(time.Now())
}

// NewULIDAt returns a lowercase ULID whose timestamp part is t. Ids created for the same
// millisecond still sort in creation order.
func NewULIDAt(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(t), entropy).String())
}
