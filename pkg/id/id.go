// Package id generates time-sortable identifiers for gateway events.
package id

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy io.Reader
)

func init() {
	// Monotonic keeps ids minted within one millisecond increasing.
	entropy = ulid.Monotonic(rand.New(rand.NewSource(seedFrom(cryptorand.Reader))), 0)
}

// seedFrom reads a seed from r, falling back to the clock when r fails.
func seedFrom(r io.Reader) int64 {
	var seed int64
	if err := binary.Read(r, binary.LittleEndian, &seed); err != nil || seed == 0 {
		return time.Now().UnixNano()
	}
	return seed
}

// New returns a ULID for the given instant.
func New(at time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at.UTC()), entropy).String()
}

// Time extracts the embedded timestamp of a ULID string.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
