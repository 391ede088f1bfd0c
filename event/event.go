// Package event defines the signed gossip event: its wire form (RawEvent),
// its in-memory derived form (Event), and the transaction payload it
// carries.
package event

import (
	"encoding/binary"
	"errors"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/crypto/ed25519"
)

// ErrInvalidSignature is returned when an event's signature does not
// verify against its claimed author and recomputed hash.
var ErrInvalidSignature = errors.New("event: invalid signature")

// RawEvent is the over-the-wire form of an event: exactly what one author
// signs and gossips.
type RawEvent struct {
	Payload   []Transaction
	SelfHash  crypto.Hash // zero means "no self parent" (this author's first event)
	OtherHash crypto.Hash // zero means "no other parent"
	Time      int64       // wall-clock nanoseconds since epoch, claimed by Author
	Author    author.Author
	Signature crypto.Signature
}

// HasSelfParent reports whether SelfHash is a real parent reference.
func (r *RawEvent) HasSelfParent() bool { return !r.SelfHash.IsZero() }

// HasOtherParent reports whether OtherHash is a real parent reference.
func (r *RawEvent) HasOtherParent() bool { return !r.OtherHash.IsZero() }

// Preimage returns the exact byte sequence that is hashed to produce the
// event's hash and signed to produce its signature:
//
//	self_hash ∥ other_hash ∥ author ∥ time_nanos_be(u128) ∥ Σ encode(payload_i)
func (r *RawEvent) Preimage() []byte {
	buf := make([]byte, 0, 32+32+32+16+len(r.Payload)*32)
	buf = append(buf, r.SelfHash[:]...)
	buf = append(buf, r.OtherHash[:]...)
	buf = append(buf, r.Author[:]...)
	buf = appendTimeU128(buf, r.Time)
	for _, tx := range r.Payload {
		buf = append(buf, tx.Encode()...)
	}
	return buf
}

// Hash returns the content hash of the event's preimage.
func (r *RawEvent) Hash() crypto.Hash {
	return crypto.HashBytes(r.Preimage())
}

// Sign computes the event's hash and signs it with priv, storing the
// signature on the RawEvent and returning the hash.
func (r *RawEvent) Sign(priv ed25519.PrivateKey) crypto.Hash {
	h := r.Hash()
	r.Signature = crypto.Sign(priv, h[:])
	return h
}

// Verify recomputes the event's hash and checks the signature against
// Author. It returns the recomputed hash on success.
func (r *RawEvent) Verify() (crypto.Hash, error) {
	h := r.Hash()
	if !crypto.Verify(r.Author.PublicKey(), h[:], r.Signature) {
		return crypto.Hash{}, ErrInvalidSignature
	}
	return h, nil
}

func appendTimeU128(buf []byte, nanos int64) []byte {
	var hi, lo [8]byte
	// nanos is always representable as an unsigned 64-bit value for any
	// wall-clock time this system will ever see, so the high 64 bits of
	// the big-endian u128 are always zero.
	binary.BigEndian.PutUint64(lo[:], uint64(nanos))
	buf = append(buf, hi[:]...)
	return append(buf, lo[:]...)
}

// Event is a RawEvent plus the fields the voter derives as it processes
// the graph. Every derived field starts at its zero value (absent) and
// transitions exactly once, absent → known.
type Event struct {
	RawEvent

	Hash crypto.Hash

	Seq      uint64
	Children map[crypto.Hash]struct{}

	RoundCreated uint64
	Witness      bool

	Votes map[crypto.Hash]bool

	FameKnown bool
	Famous    bool

	RoundReceivedKnown bool
	RoundReceived      uint64

	TimeReceivedKnown bool
	TimeReceived      int64

	WhitenedSignature crypto.Signature
}

// NewEvent materializes an Event from a verified RawEvent and its
// precomputed hash and sequence number. Children, Votes, and all
// round/fame/order fields start empty/absent.
func NewEvent(raw RawEvent, hash crypto.Hash, seq uint64) *Event {
	return &Event{
		RawEvent: raw,
		Hash:     hash,
		Seq:      seq,
		Children: make(map[crypto.Hash]struct{}),
		Votes:    make(map[crypto.Hash]bool),
	}
}
