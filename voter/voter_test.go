package voter

import (
	"sort"
	"testing"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/crypto/ed25519"
	"github.com/coregraph-labs/hashgraph/event"
	"github.com/coregraph-labs/hashgraph/graph"
)

// fixedCommittee is a CommitteeSource that always hands back the same
// block number and committee snapshot, standing in for the author chain in
// round-engine tests that don't need committee rotation.
type fixedCommittee struct{ authors author.List }

func (f fixedCommittee) StartRound() (uint64, author.List, error) {
	return 1, f.authors, nil
}

// simNode is a minimal stand-in for the coordinator, just enough to drive
// the graph and voter through a scripted sync sequence: each node owns its
// own graph/voter pair and a monotonically increasing logical clock for
// event timestamps.
type simNode struct {
	name     string
	identity author.Author
	priv     ed25519.PrivateKey
	graph    *graph.Graph
	voter    *Voter
	selfHash crypto.Hash
	clock    int64
}

func newSimNode(t *testing.T, name string) *simNode {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return &simNode{
		name:     name,
		identity: author.FromPublicKey(kp.Public),
		priv:     kp.Private,
		graph:    graph.New(),
	}
}

// own creates and inserts n's next event, referencing other as its other
// parent (zero meaning none), updating n.selfHash.
func (n *simNode) own(t *testing.T, other crypto.Hash) crypto.Hash {
	t.Helper()
	n.clock++
	raw := event.RawEvent{
		SelfHash:  n.selfHash,
		OtherHash: other,
		Time:      n.clock,
		Author:    n.identity,
	}
	raw.Sign(n.priv)
	hash, err := n.graph.AddEvent(raw)
	if err != nil {
		t.Fatalf("%s: own AddEvent: %v", n.name, err)
	}
	if err := n.voter.AddEvent(hash); err != nil {
		t.Fatalf("%s: voter AddEvent: %v", n.name, err)
	}
	n.selfHash = hash
	return hash
}

// syncFrom merges every event src has that dst doesn't (in topological
// order) into dst's graph and voter, then has dst author a new event
// whose other parent is src's latest hash, modeling one gossip round
// trip's effect on dst.
func (dst *simNode) syncFrom(t *testing.T, src *simNode, committee author.List) {
	t.Helper()
	peerState := dst.graph.SyncState(committee)
	missing := src.graph.Sync(peerState)
	for _, raw := range missing {
		hash, err := dst.graph.AddEvent(raw)
		if err != nil {
			t.Fatalf("%s: merge AddEvent from %s: %v", dst.name, src.name, err)
		}
		if err := dst.voter.AddEvent(hash); err != nil {
			t.Fatalf("%s: merge voter AddEvent from %s: %v", dst.name, src.name, err)
		}
	}
	dst.own(t, src.selfHash)
}

// TestFourNodeFamousWitness replays the well-known four-node sync
// sequence and checks the resulting fame decisions for the round 1 and
// round 2 witness sets.
func TestFourNodeFamousWitness(t *testing.T) {
	a := newSimNode(t, "A")
	b := newSimNode(t, "B")
	c := newSimNode(t, "C")
	d := newSimNode(t, "D")

	committee := author.List{a.identity, b.identity, c.identity, d.identity}
	sort.Sort(committee)
	for _, n := range []*simNode{a, b, c, d} {
		n.voter = New(n.graph, fixedCommittee{authors: committee})
	}
	nodes := map[string]*simNode{"A": a, "B": b, "C": c, "D": d}

	// Each author's genesis event: round 1 witness, no parents.
	for _, n := range []*simNode{a, b, c, d} {
		n.own(t, crypto.Hash{})
	}

	// Sync sequence as "dst-src" pairs: each entry has dst pull from src
	// and then author one event in response.
	sequence := []string{
		"D-B", "B-D", "D-B", "A-B", "B-C", "D-B", "C-B", "B-D", "D-A", "A-D",
		"B-D", "A-C", "A-B", "C-A", "D-B", "D-A", "B-A", "B-D", "A-B", "D-B",
		"B-A", "A-B", "D-C", "C-D", "B-D", "A-B", "D-B", "B-A", "D-C", "B-D",
	}
	for _, pair := range sequence {
		dst, src := nodes[pair[:1]], nodes[pair[2:]]
		dst.syncFrom(t, src, committee)
	}

	// Run fame election on every node's voter; use D, which the sequence
	// carries furthest (into round 4), to read back the decisions.
	for _, n := range []*simNode{a, b, c, d} {
		n.voter.ProcessRounds()
	}

	r2, ok := d.voter.Round(2)
	if !ok {
		t.Fatalf("D's voter never opened round 2")
	}
	if !r2.Decided {
		t.Fatalf("D's round 2 was never decided")
	}

	// Expected fame for the round 2 witness set: every witness famous
	// except C's.
	wantRound2 := map[string]bool{"A": true, "B": true, "C": false, "D": true}

	famousByAuthor := make(map[author.Author]bool)
	for h := range r2.Witnesses {
		e, ok := d.graph.Get(h)
		if !ok {
			t.Fatalf("round 2 witness %s missing from graph", h)
		}
		famousByAuthor[e.Author] = e.Famous
	}
	for letter, n := range nodes {
		got, ok := famousByAuthor[n.identity]
		if !ok {
			t.Fatalf("no round 2 witness recorded for %s", letter)
		}
		if want := wantRound2[letter]; got != want {
			t.Fatalf("round 2 witness by %s: famous=%v, want %v", letter, got, want)
		}
	}

	// Re-running fame election on an already-decided round must not
	// change any witness's fame.
	before := make(map[crypto.Hash]bool, len(r2.Witnesses))
	for h := range r2.Witnesses {
		e, _ := d.graph.Get(h)
		before[h] = e.Famous
	}
	d.voter.ProcessRounds()
	for h, wasFamous := range before {
		e, _ := d.graph.Get(h)
		if e.Famous != wasFamous {
			t.Fatalf("fame flipped on re-processing for witness %s: was %v now %v", h, wasFamous, e.Famous)
		}
	}

	r1, ok := d.voter.Round(1)
	if !ok {
		t.Fatalf("D's voter never opened round 1")
	}
	if !r1.Decided {
		t.Fatalf("D's round 1 was never decided")
	}
	for h := range r1.Witnesses {
		e, ok := d.graph.Get(h)
		if !ok {
			t.Fatalf("round 1 witness %s missing from graph", h)
		}
		if !e.Famous {
			t.Fatalf("round 1 witness by %s should be famous", e.Author)
		}
	}
}
