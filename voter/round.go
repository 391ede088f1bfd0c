// Package voter implements the round engine: it assigns every inserted
// event to a round, detects witnesses, elects fame for witnesses via the
// virtual-voting protocol, assigns round-received and consensus timestamps,
// and emits the deterministic total commit order.
package voter

import (
	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
)

// freqCoinRounds is the frequency, in round-distance terms, at which an
// indecisive fame vote falls back to the coin-flip rule instead of a
// plain majority.
const freqCoinRounds = 10

// Round holds one round's committee snapshot and the witnesses that have
// entered it so far.
type Round struct {
	Number uint64
	Block  uint64
	// Authors is the committee snapshot this round started with, ordered
	// by byte value.
	Authors author.List

	// Witnesses holds the hash of every witness that entered this round.
	// An author without forks contributes at most one (its first event in
	// the round), but a fork can introduce a second witness hash for the
	// same author; the fame/UFW machinery below accounts for that
	// explicitly, so this is a set of hashes, not a map keyed by author.
	Witnesses map[crypto.Hash]struct{}

	Decided bool
}

// threshold is 2*|authors|/3: the count of strongly-seen witnesses must
// exceed it to force a round increment, and the "votes for the winning
// side" must exceed it to decide fame.
func (r *Round) threshold() int {
	return 2 * len(r.Authors) / 3
}

func newRound(number, block uint64, authors author.List) *Round {
	return &Round{
		Number:    number,
		Block:     block,
		Authors:   authors.Clone(),
		Witnesses: make(map[crypto.Hash]struct{}),
	}
}
