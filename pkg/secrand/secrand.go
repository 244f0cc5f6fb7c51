// Package secrand wraps a cryptographically strong source of randomness
// for every component that shuffles, samples or fabricates identifiers.
// Weak randomness here would reopen the correlation attacks the client
// exists to prevent, so nothing in this module may use math/rand.
package secrand

import (
	"encoding/hex"
	"time"

	"lukechampine.com/frand"
)

// Bytes returns n random bytes.
func Bytes(n int) []byte {
	return frand.Bytes(n)
}

// Intn returns a uniform random int in [0, n). n must be > 0.
func Intn(n int) int {
	return frand.Intn(n)
}

// Shuffle randomly permutes n elements through the given swap function.
func Shuffle(n int, swap func(i, j int)) {
	frand.Shuffle(n, swap)
}

// Hex32 returns 32 random bytes hex encoded, the same width as an x-only
// pubkey or an event id. Dummy identifiers are drawn from this full
// identifier space rather than derived from any real data.
func Hex32() string {
	return hex.EncodeToString(frand.Bytes(32))
}

// SubID returns a short random subscription identifier.
func SubID() string {
	return hex.EncodeToString(frand.Bytes(8))
}

// Duration returns a uniform random duration in [min, max]. A degenerate
// range collapses to min.
func Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(frand.Intn(int(max-min)+1))
}
