// Package author defines the participant identity types used throughout the
// consensus core: a 32-byte public key (Author) and the keypair that backs
// it (Identity), persisted to and loaded from a local file.
package author

import (
	"bytes"
	"encoding/hex"

	"github.com/coregraph-labs/hashgraph/crypto/ed25519"
)

// Size is the width, in bytes, of an Author.
const Size = ed25519.PublicKeySize

// Author identifies a participant by its Ed25519 public key. Authors are
// totally ordered by their byte representation, which is the canonical
// ordering used for committee lists, witness sets, and sync vectors.
type Author [Size]byte

// FromPublicKey converts an ed25519.PublicKey into an Author.
func FromPublicKey(pub ed25519.PublicKey) Author {
	var a Author
	copy(a[:], pub)
	return a
}

// PublicKey returns a's bytes as an ed25519.PublicKey.
func (a Author) PublicKey() ed25519.PublicKey {
	pub := make(ed25519.PublicKey, Size)
	copy(pub, a[:])
	return pub
}

// Bytes returns a copy of a's bytes.
func (a Author) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, a[:])
	return out
}

// String renders a as lowercase hex, for logging.
func (a Author) String() string { return hex.EncodeToString(a[:]) }

// Less reports whether a sorts before other under the canonical byte order.
func (a Author) Less(other Author) bool {
	return bytes.Compare(a[:], other[:]) < 0
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// other, matching sort.Slice/slices.SortFunc conventions.
func (a Author) Compare(other Author) int {
	return bytes.Compare(a[:], other[:])
}

// List is a slice of Authors with the sorting and lookup helpers every
// committee-shaped structure in this module needs.
type List []Author

func (l List) Len() int           { return len(l) }
func (l List) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }
func (l List) Less(i, j int) bool { return l[i].Less(l[j]) }

// Contains reports whether author is present in l. l need not be sorted.
func (l List) Contains(author Author) bool {
	for _, a := range l {
		if a == author {
			return true
		}
	}
	return false
}

// IndexOf returns the index of author in l, or -1 if absent.
func (l List) IndexOf(author Author) int {
	for i, a := range l {
		if a == author {
			return i
		}
	}
	return -1
}

// Clone returns an independent copy of l.
func (l List) Clone() List {
	out := make(List, len(l))
	copy(out, l)
	return out
}
