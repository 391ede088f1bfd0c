package voter

import (
	"sort"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/event"
	"github.com/coregraph-labs/hashgraph/graph"
)

// graphView is the subset of *graph.Graph the voter depends on. Declared
// as an interface so round-engine tests can exercise the algorithm
// without constructing a full Graph, in the same spirit as
// tosdb.KeyValueReader/Writer.
type graphView interface {
	Get(hash crypto.Hash) (*event.Event, bool)
	Mutate(hash crypto.Hash, fn func(*event.Event))
	See(x, y crypto.Hash) bool
	StronglySee(x, y crypto.Hash, authors author.List) bool
	IsAncestor(x, y crypto.Hash) bool
	SelfAncestors(hash crypto.Hash) []crypto.Hash
}

// CommitteeSource supplies a fresh committee snapshot when a witness opens
// a round that does not yet exist. It is implemented by chain.Chain; the
// voter depends only on this narrow method set to avoid an import cycle
// between voter and chain.
type CommitteeSource interface {
	StartRound() (block uint64, authors author.List, err error)
}

// Voter maintains the ordered list of live rounds and drives round
// assignment, fame election, round-received assignment, and the
// deterministic total commit order. It is owned exclusively by the
// coordinator: none of its methods take an internal lock.
type Voter struct {
	graph     graphView
	committee CommitteeSource

	rounds   []*Round
	byNumber map[uint64]*Round

	// pending holds hashes of events whose RoundReceived is still absent,
	// in the order they were added. ProcessRounds drains entries out of
	// this slice as it assigns round-received.
	pending []crypto.Hash
}

// New returns a Voter backed by g, requesting committee snapshots from
// committee whenever a witness opens an unseen round.
func New(g graphView, committee CommitteeSource) *Voter {
	return &Voter{
		graph:     g,
		committee: committee,
		byNumber:  make(map[uint64]*Round),
	}
}

// Rounds returns the voter's live rounds in ascending order. Rounds are
// never deleted by this package; only a checkpoint supersedes them.
func (v *Voter) Rounds() []*Round { return v.rounds }

// Round returns the live round numbered n, if any.
func (v *Voter) Round(n uint64) (*Round, bool) {
	r, ok := v.byNumber[n]
	return r, ok
}

// AddEvent performs round assignment for a freshly inserted event: it
// computes the event's round_created, decides whether it is a witness, and
// opens a new Round (pulling a fresh committee snapshot) the first time a
// witness reaches an unseen round number. Must be called exactly once per
// event, in the order the events were added to the graph (parents before
// children).
func (v *Voter) AddEvent(hash crypto.Hash) error {
	e, ok := v.graph.Get(hash)
	if !ok {
		return graph.ErrInvalidEvent
	}

	var pr uint64
	var selfRound uint64
	hasSelfParent := e.HasSelfParent()
	if hasSelfParent {
		if sp, ok := v.graph.Get(e.SelfHash); ok {
			selfRound = sp.RoundCreated
			pr = sp.RoundCreated
		}
	}
	if e.HasOtherParent() {
		if op, ok := v.graph.Get(e.OtherHash); ok && op.RoundCreated > pr {
			pr = op.RoundCreated
		}
	}

	prRound, havePrRound := v.byNumber[pr]
	newRoundNum := pr
	if !havePrRound {
		newRoundNum = pr + 1
	} else {
		k := 0
		for w := range prRound.Witnesses {
			if v.graph.StronglySee(hash, w, prRound.Authors) {
				k++
			}
		}
		if k > prRound.threshold() {
			newRoundNum = pr + 1
		}
	}

	witness := !hasSelfParent || newRoundNum > selfRound

	if _, exists := v.byNumber[newRoundNum]; !exists {
		block, authors, err := v.committee.StartRound()
		if err != nil {
			return err
		}
		r := newRound(newRoundNum, block, authors)
		v.byNumber[newRoundNum] = r
		v.rounds = append(v.rounds, r)
		sort.Slice(v.rounds, func(i, j int) bool { return v.rounds[i].Number < v.rounds[j].Number })
	}

	v.graph.Mutate(hash, func(ev *event.Event) {
		ev.RoundCreated = newRoundNum
		ev.Witness = witness
	})
	if witness {
		v.byNumber[newRoundNum].Witnesses[hash] = struct{}{}
	}

	v.pending = append(v.pending, hash)
	return nil
}

// ProcessRounds elects fame for every witness now decidable, assigns
// round-received and consensus timestamps to every event that now
// qualifies, and returns the hashes of newly finalized events in the
// deterministic total order (ascending round_received, then
// time_received, then whitened signature).
func (v *Voter) ProcessRounds() []crypto.Hash {
	v.electFame()
	return v.assignReceived()
}

// electFame runs one ascending pass over the live rounds, casting votes
// for each undecided witness against every later round's witnesses and
// deciding fame once a supermajority is reached. Rounds are decided
// strictly in order: the pass stops at the first round that remains
// undecided, so a later round is never marked decided ahead of an earlier
// one. Re-running this on an already-decided round is a cheap no-op; fame
// never changes once decided.
func (v *Voter) electFame() {
	for _, r := range v.rounds {
		if r.Decided {
			continue
		}
		allKnown := true
		for wHash := range r.Witnesses {
			we, ok := v.graph.Get(wHash)
			if !ok || we.FameKnown {
				continue
			}
			if !v.decideWitnessFame(r, wHash) {
				allKnown = false
			}
		}
		if !allKnown {
			break
		}
		r.Decided = true
	}
}

// decideWitnessFame attempts to decide fame for witness wHash of round r
// by walking every later live round in ascending order and casting votes.
// It returns true iff fame was decided during this call (it may already
// have been decided by this same call's vote at a lower diff).
func (v *Voter) decideWitnessFame(r *Round, wHash crypto.Hash) bool {
	for _, r2 := range v.rounds {
		if r2.Number <= r.Number {
			continue
		}
		diff := r2.Number - r.Number
		for vHash := range r2.Witnesses {
			var vote bool
			if diff == 1 {
				vote = v.graph.See(vHash, wHash)
				v.graph.Mutate(vHash, func(ev *event.Event) { ev.Votes[wHash] = vote })
				continue
			}

			prevRound, ok := v.byNumber[r2.Number-1]
			yes, no := 0, 0
			if ok {
				for sHash := range prevRound.Witnesses {
					if !v.graph.StronglySee(vHash, sHash, r2.Authors) {
						continue
					}
					se, ok := v.graph.Get(sHash)
					if !ok {
						continue
					}
					if sv, cast := se.Votes[wHash]; cast && sv {
						yes++
					} else if cast {
						no++
					}
				}
			}
			maj := yes >= no
			num := yes
			if no > num {
				num = no
			}

			if diff%freqCoinRounds != 0 {
				v.graph.Mutate(vHash, func(ev *event.Event) { ev.Votes[wHash] = maj })
				if num > r2.threshold() {
					v.graph.Mutate(wHash, func(ev *event.Event) {
						ev.Famous = maj
						ev.FameKnown = true
					})
					return true
				}
				continue
			}

			// Coin round: either confirm the majority (if one exists) or
			// flip the deterministic coin derived from v's signature byte
			// 32. A coin round never decides fame by itself; it only seeds
			// the vote later rounds will build a majority on.
			if num > r2.threshold() {
				vote = maj
			} else {
				ve, ok := v.graph.Get(vHash)
				if ok {
					vote = ve.Signature[32]&1 == 1
				}
			}
			v.graph.Mutate(vHash, func(ev *event.Event) { ev.Votes[wHash] = vote })
		}
	}
	we, ok := v.graph.Get(wHash)
	return ok && we.FameKnown
}

// uniqueFamousWitnesses returns the famous witnesses of a decided round
// whose author contributed exactly one witness to it; forked authors are
// excluded.
func (v *Voter) uniqueFamousWitnesses(r *Round) []crypto.Hash {
	counts := make(map[author.Author]int, len(r.Witnesses))
	for h := range r.Witnesses {
		if e, ok := v.graph.Get(h); ok {
			counts[e.Author]++
		}
	}
	var out []crypto.Hash
	for h := range r.Witnesses {
		e, ok := v.graph.Get(h)
		if !ok || !e.Famous {
			continue
		}
		if counts[e.Author] == 1 {
			out = append(out, h)
		}
	}
	return out
}

// assignReceived scans the pending queue against every decided round in
// ascending order, assigning round_received, time_received, and whitened
// signature to any event whose UFW-descendant closure is now complete. It
// returns the newly finalized hashes in total commit order.
func (v *Voter) assignReceived() []crypto.Hash {
	var finalized []crypto.Hash

	// Evaluate one round's UFW set at a time so an event that qualifies at
	// an earlier round is never re-examined against a later one (the
	// round_received must be the smallest qualifying round).
	stillPending := append([]crypto.Hash(nil), v.pending...)
	for _, r := range v.rounds {
		if !r.Decided {
			// An undecided round blocks finalization past it: a pending
			// event might still receive here once the round decides.
			break
		}
		ufw := v.uniqueFamousWitnesses(r)
		if len(ufw) == 0 {
			continue
		}
		var notYet []crypto.Hash
		for _, eh := range stillPending {
			if v.allDescend(eh, ufw) {
				v.finalize(eh, r.Number, ufw)
				finalized = append(finalized, eh)
			} else {
				notYet = append(notYet, eh)
			}
		}
		stillPending = notYet
	}
	v.pending = stillPending

	sort.Slice(finalized, func(i, j int) bool { return v.less(finalized[i], finalized[j]) })
	return finalized
}

// allDescend reports whether e is an ancestor of every hash in ufw (i.e.
// every UFW is a descendant of e).
func (v *Voter) allDescend(e crypto.Hash, ufw []crypto.Hash) bool {
	for _, w := range ufw {
		if !v.graph.IsAncestor(w, e) {
			return false
		}
	}
	return true
}

// finalize sets round_received, the consensus timestamp, and the whitened
// signature for e, given the UFW set of the round it was just received
// into.
func (v *Voter) finalize(e crypto.Hash, round uint64, ufw []crypto.Hash) {
	var times []int64
	var whitened crypto.Signature
	for _, w := range ufw {
		if t, ok := v.firstReceivingTime(w, e); ok {
			times = append(times, t)
		}
		if we, ok := v.graph.Get(w); ok {
			whitened = xorSignature(whitened, we.Signature)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	median := medianTime(times)

	ee, ok := v.graph.Get(e)
	if !ok {
		return
	}
	whitened = xorSignature(whitened, ee.Signature)

	v.graph.Mutate(e, func(ev *event.Event) {
		ev.RoundReceivedKnown = true
		ev.RoundReceived = round
		ev.TimeReceivedKnown = true
		ev.TimeReceived = median
		ev.WhitenedSignature = whitened
	})
}

// firstReceivingTime walks w's self-ancestors from genesis toward w and
// returns the claimed time of the earliest one whose ancestry has come to
// include e, i.e. the moment w's author's chain first received e. This is
// the standard Hashgraph "received time" contribution of one famous
// witness to the consensus timestamp median.
func (v *Voter) firstReceivingTime(w, e crypto.Hash) (int64, bool) {
	chain := v.graph.SelfAncestors(w) // w, self_parent(w), ..., genesis
	prevReceived := false
	for i := len(chain) - 1; i >= 0; i-- {
		a := chain[i]
		received := v.graph.IsAncestor(a, e)
		if received && !prevReceived {
			if ae, ok := v.graph.Get(a); ok {
				return ae.Time, true
			}
			return 0, false
		}
		prevReceived = received
	}
	return 0, false
}

// less implements the total commit order: ascending round_received, then
// ascending time_received, then ascending whitened signature.
func (v *Voter) less(a, b crypto.Hash) bool {
	ae, _ := v.graph.Get(a)
	be, _ := v.graph.Get(b)
	if ae.RoundReceived != be.RoundReceived {
		return ae.RoundReceived < be.RoundReceived
	}
	if ae.TimeReceived != be.TimeReceived {
		return ae.TimeReceived < be.TimeReceived
	}
	return ae.WhitenedSignature.Less(be.WhitenedSignature)
}

func xorSignature(a, b crypto.Signature) crypto.Signature {
	var out crypto.Signature
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// medianTime picks the upper-median element: for an even count the later
// of the two middle timestamps, never an average, so the consensus time is
// always a time some author actually claimed.
func medianTime(sorted []int64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)/2]
}
