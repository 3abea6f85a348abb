package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
)

// ErrLockNotHeld is returned by Unlock when the caller no longer owns the
// lock, either because it expired or was never taken.
var ErrLockNotHeld = errors.New("cache: lock not held")

// Locker provides cross-process mutual exclusion.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// HashOutcomes hashes the first limit values of seq. A non-positive limit
// hashes the whole slice.
func HashOutcomes(seq []int, limit int) string {
	if limit <= 0 || limit > len(seq) {
		limit = len(seq)
	}
	buf := make([]byte, 0, limit*2)
	for _, n := range seq[:limit] {
		buf = binary.AppendUvarint(buf, uint64(n))
	}
	return strconv.FormatUint(xxh3.Hash(buf), 16)
}
