// Package crypto provides the hashing and signing primitives shared by
// every other package in this module: a 32-byte content digest, Ed25519
// signing, and a streaming file hasher used for content-addressed storage.
package crypto

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the width, in bytes, of every digest produced by this package.
const HashSize = 32

// Hash is a 32-byte content digest. Zero value is GenesisHash.
type Hash [HashSize]byte

// GenesisHash is the all-zero hash, used as the author-chain's genesis
// parent and as the "absent" sentinel for optional parent hashes.
var GenesisHash = Hash{}

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Bytes returns a copy of the hash bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// String renders the hash as lowercase hex, for logging.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Less orders hashes lexicographically by byte value.
func (h Hash) Less(other Hash) bool {
	for i := range h {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// BytesToHash truncates or zero-pads b into a Hash, right-aligned.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) >= HashSize {
		copy(h[:], b[len(b)-HashSize:])
	} else {
		copy(h[HashSize-len(b):], b)
	}
	return h
}

// HashBytes returns the 32-byte BLAKE3 digest of value, the content
// digest used project-wide for events, blocks, and checkpoints.
func HashBytes(value []byte) Hash {
	return Hash(blake3.Sum256(value))
}

// NewHasher returns a fresh streaming hasher (an io.Writer plus Sum32), for
// callers that need to feed a digest in segments (event preimages, file
// hashing) rather than hashing one []byte in one call.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Hasher is a streaming wrapper around the project digest function.
type Hasher struct {
	h *blake3.Hasher
}

func (s *Hasher) Write(p []byte) (int, error) { return s.h.Write(p) }

// Sum32 returns the 32-byte digest of everything written so far without
// resetting the hasher's state.
func (s *Hasher) Sum32() Hash {
	var out Hash
	copy(out[:], s.h.Sum(nil))
	return out
}
