// Package chain implements the author chain: a persistent, signed linked
// list of committee delta blocks. Each block toggles membership of the
// authors it lists; a block is final once it carries threshold-many valid
// signatures from the committee it was proposed against.
package chain

import (
	"encoding/binary"
	"errors"
	"sort"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
)

// ErrMalformedBlock is returned when decoding a persisted block fails.
var ErrMalformedBlock = errors.New("chain: malformed block")

// Block is one committee delta: the authors listed toggle membership
// (present in the current committee means removed, absent means added)
// against whatever committee Parent's chain produced.
type Block struct {
	Parent  crypto.Hash
	Authors author.List
}

// sortedAuthors returns a canonically ordered (ascending by bytes) copy of
// b.Authors, the order every encoding and hash uses.
func (b Block) sortedAuthors() author.List {
	out := b.Authors.Clone()
	sort.Sort(out)
	return out
}

// Encode returns the unsigned wire form of b: parent ∥ authors_len:u64 BE
// ∥ author×authors_len. Its hash (see Hash) is what SignBlock signatures
// are computed over, so a block's identity never changes as signatures
// accumulate during proposal.
func (b Block) Encode() []byte {
	authors := b.sortedAuthors()
	buf := make([]byte, 0, 32+8+len(authors)*author.Size)
	buf = append(buf, b.Parent[:]...)
	buf = appendUint64(buf, uint64(len(authors)))
	for _, a := range authors {
		buf = append(buf, a[:]...)
	}
	return buf
}

// Hash returns the content hash of b's unsigned encoding: the block's
// identity, used both as the chain's lookup key and as the signature
// preimage.
func (b Block) Hash() crypto.Hash {
	return crypto.HashBytes(b.Encode())
}

// SignedBlock is a Block plus the signatures collected over its hash,
// persisted as parent:32 ∥ authors_len:u64 BE ∥ author:32×authors_len ∥
// sigs_len:u64 BE ∥ sig:64×sigs_len.
type SignedBlock struct {
	Block
	Signatures []crypto.Signature
}

// Encode returns the full persisted wire form, including signatures.
func (sb SignedBlock) Encode() []byte {
	buf := sb.Block.Encode()
	buf = appendUint64(buf, uint64(len(sb.Signatures)))
	for _, sig := range sb.Signatures {
		buf = append(buf, sig[:]...)
	}
	return buf
}

// DecodeSignedBlock parses the persisted wire layout back into a
// SignedBlock.
func DecodeSignedBlock(buf []byte) (SignedBlock, error) {
	if len(buf) < crypto.HashSize+8 {
		return SignedBlock{}, ErrMalformedBlock
	}
	var sb SignedBlock
	copy(sb.Parent[:], buf[:crypto.HashSize])
	buf = buf[crypto.HashSize:]

	n := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if uint64(len(buf)) < n*uint64(author.Size) {
		return SignedBlock{}, ErrMalformedBlock
	}
	sb.Authors = make(author.List, n)
	for i := range sb.Authors {
		copy(sb.Authors[i][:], buf[:author.Size])
		buf = buf[author.Size:]
	}

	if len(buf) < 8 {
		return SignedBlock{}, ErrMalformedBlock
	}
	m := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if uint64(len(buf)) < m*uint64(crypto.SignatureSize) {
		return SignedBlock{}, ErrMalformedBlock
	}
	sb.Signatures = make([]crypto.Signature, m)
	for i := range sb.Signatures {
		copy(sb.Signatures[i][:], buf[:crypto.SignatureSize])
		buf = buf[crypto.SignatureSize:]
	}
	return sb, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// threshold is the minimum valid-signature count required for a block (or
// checkpoint) covering a committee of size n to be final: n − 2n/3,
// equivalently ⌈n/3⌉, enough that at least one honest author signed.
func threshold(n int) int {
	t := n - 2*n/3
	if t < 1 {
		t = 1
	}
	return t
}

// Threshold exports the committee signature threshold formula for callers
// outside this package (the checkpoint package applies the same rule to
// checkpoint signatures).
func Threshold(n int) int { return threshold(n) }

// applyDelta toggles every author in delta against committee (ascending by
// bytes throughout) and returns the resulting committee: an author present
// in committee is removed, one absent is added.
func applyDelta(committee author.List, delta author.List) author.List {
	set := make(map[author.Author]struct{}, len(committee))
	for _, a := range committee {
		set[a] = struct{}{}
	}
	for _, a := range delta {
		if _, ok := set[a]; ok {
			delete(set, a)
		} else {
			set[a] = struct{}{}
		}
	}
	out := make(author.List, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	sort.Sort(out)
	return out
}
