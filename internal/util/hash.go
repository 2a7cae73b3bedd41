// ABOUTME: Content hashing helpers shared by ingestion, segmentation, and the raw store
// ABOUTME: All digests are hex-encoded BLAKE3-256
package util

import (
	"encoding/hex"
	"hash"

	"github.com/zeebo/blake3"
)

// HashSize is the length in bytes of every digest produced here
const HashSize = 32

// HashString returns the hex digest of s.
func HashString(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashBytes returns the hex digest of b.
func HashBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NewHasher returns a streaming hasher producing the same digests as HashBytes.
func NewHasher() hash.Hash {
	return blake3.New()
}

// HexSum finalizes a hasher from NewHasher.
func HexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
