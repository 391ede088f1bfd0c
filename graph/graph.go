// Package graph implements the gossip DAG of signed events: storage,
// ancestor/self-ancestor/descendant traversal, the see/strongly-see
// visibility predicates, and the pairwise sync diff.
//
// The public type guards its maps with a sync.RWMutex for the rare
// concurrent-read case (a host's RPC layer inspecting state). The
// coordinator is the sole writer, so AddEvent is never called concurrently
// with itself and no finer-grained locking is needed.
package graph

import (
	"errors"
	"sync"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/event"
)

// ErrInvalidEvent is returned by AddEvent for any structurally or
// cryptographically invalid event. A failed AddEvent never leaves a
// partial mutation: the graph is bit-identical to before the call.
var ErrInvalidEvent = errors.New("graph: invalid event")

// Graph stores every known event keyed by hash, plus each author's
// high-water sequence number.
type Graph struct {
	mu     sync.RWMutex
	events map[crypto.Hash]*event.Event
	state  map[author.Author]uint64
	root   crypto.Hash
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		events: make(map[crypto.Hash]*event.Event),
		state:  make(map[author.Author]uint64),
	}
}

// Has reports whether hash is a known event.
func (g *Graph) Has(hash crypto.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.events[hash]
	return ok
}

// Get returns the event stored under hash, if any.
func (g *Graph) Get(hash crypto.Hash) (*event.Event, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.events[hash]
	return e, ok
}

// Root returns the most recently added event's hash, the starting point
// for Sync.
func (g *Graph) Root() (crypto.Hash, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.root.IsZero() {
		return crypto.Hash{}, false
	}
	return g.root, true
}

// Len returns the number of events in the graph.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.events)
}

// All returns the hashes of every event currently stored, in no particular
// order.
func (g *Graph) All() []crypto.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]crypto.Hash, 0, len(g.events))
	for h := range g.events {
		out = append(out, h)
	}
	return out
}

// Mutate applies fn to the event stored under hash while holding the
// graph's write lock. It is the voter's hook for setting derived fields
// (round, witness, votes, fame, round_received, time_received, whitened
// signature) on an event the graph already owns. No-op if hash is unknown.
func (g *Graph) Mutate(hash crypto.Hash, fn func(*event.Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.events[hash]; ok {
		fn(e)
	}
}

// IsAncestor reports whether y is an ancestor of x, or y equals x.
func (g *Graph) IsAncestor(x, y crypto.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, h := range g.dfs(x, func(e *event.Event) []crypto.Hash { return Parents(e) }) {
		if h == y {
			return true
		}
	}
	return false
}

// AddEvent validates and inserts raw, returning its hash. It rejects the
// event (without mutating the graph) if a declared parent is unknown or if
// signature verification fails.
func (g *Graph) AddEvent(raw event.RawEvent) (crypto.Hash, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var selfParent *event.Event
	if raw.HasSelfParent() {
		sp, ok := g.events[raw.SelfHash]
		if !ok {
			return crypto.Hash{}, ErrInvalidEvent
		}
		selfParent = sp
	}
	if raw.HasOtherParent() {
		if _, ok := g.events[raw.OtherHash]; !ok {
			return crypto.Hash{}, ErrInvalidEvent
		}
	}
	hash, err := raw.Verify()
	if err != nil {
		return crypto.Hash{}, ErrInvalidEvent
	}
	if _, exists := g.events[hash]; exists {
		return hash, nil
	}

	seq := uint64(1)
	if selfParent != nil {
		seq = selfParent.Seq + 1
	}

	e := event.NewEvent(raw, hash, seq)
	g.events[hash] = e
	if raw.HasSelfParent() {
		selfParent.Children[hash] = struct{}{}
	}
	if raw.HasOtherParent() {
		g.events[raw.OtherHash].Children[hash] = struct{}{}
	}
	if cur := g.state[raw.Author]; seq > cur {
		g.state[raw.Author] = seq
	}
	g.root = hash
	return hash, nil
}

// Parents returns the up-to-two parent hashes of e, self-parent first.
func Parents(e *event.Event) []crypto.Hash {
	var out []crypto.Hash
	if e.HasSelfParent() {
		out = append(out, e.SelfHash)
	}
	if e.HasOtherParent() {
		out = append(out, e.OtherHash)
	}
	return out
}

// SelfParent returns the hash of e's self parent, if any.
func SelfParent(e *event.Event) (crypto.Hash, bool) {
	if e.HasSelfParent() {
		return e.SelfHash, true
	}
	return crypto.Hash{}, false
}

// Children returns the set of hashes of events that name hash as a parent.
func (g *Graph) Children(hash crypto.Hash) []crypto.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.events[hash]
	if !ok {
		return nil
	}
	out := make([]crypto.Hash, 0, len(e.Children))
	for c := range e.Children {
		out = append(out, c)
	}
	return out
}

// Ancestors returns hash and every ancestor reachable from it via
// self-parent/other-parent edges, in DFS order with hash first, each
// visited exactly once.
func (g *Graph) Ancestors(hash crypto.Hash) []crypto.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dfs(hash, func(e *event.Event) []crypto.Hash { return Parents(e) })
}

// SelfAncestors returns hash and every event reachable by following only
// self-parent edges, starting at hash.
func (g *Graph) SelfAncestors(hash crypto.Hash) []crypto.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []crypto.Hash
	cur, ok := hash, true
	for ok {
		e, exists := g.events[cur]
		if !exists {
			break
		}
		out = append(out, cur)
		cur, ok = SelfParent(e)
	}
	return out
}

// Descendants returns hash and every event reachable from it via child
// edges, in DFS order with hash first, each visited exactly once.
func (g *Graph) Descendants(hash crypto.Hash) []crypto.Hash {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dfs(hash, func(e *event.Event) []crypto.Hash {
		out := make([]crypto.Hash, 0, len(e.Children))
		for c := range e.Children {
			out = append(out, c)
		}
		return out
	})
}

// See reports whether y is an ancestor of x and no fork of y's author is
// also an ancestor of x: x "sees" y if y is reachable from x and every event
// by y's author found in x's ancestry lies on a single self-parent chain
// (i.e. none of them is a fork of another).
func (g *Graph) See(x, y crypto.Hash) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.seeLocked(x, y)
}

// StronglySee reports whether x strongly-sees y with respect to authors:
// at least n − n/3 of the n authors (integer division; exactly two thirds
// when n is a multiple of three, otherwise more than two thirds) contribute
// an event that lies on a path from y up to x. Per author, that holds when
// the highest seq among x's ancestors by that author reaches the lowest seq
// among y's
// descendants by that author.
func (g *Graph) StronglySee(x, y crypto.Hash, authors author.List) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.events[x]; !ok {
		return false
	}
	if _, ok := g.events[y]; !ok {
		return false
	}

	// maxAncestorSeq[a] = highest seq among x's ancestors authored by a.
	maxAncestorSeq := make(map[author.Author]uint64, len(authors))
	for _, h := range g.dfs(x, func(e *event.Event) []crypto.Hash { return Parents(e) }) {
		e := g.events[h]
		if cur, ok := maxAncestorSeq[e.Author]; !ok || e.Seq > cur {
			maxAncestorSeq[e.Author] = e.Seq
		}
	}
	// minDescendantSeq[a] = lowest seq among y's descendants authored by a.
	minDescendantSeq := make(map[author.Author]uint64, len(authors))
	for _, h := range g.dfs(y, func(e *event.Event) []crypto.Hash {
		out := make([]crypto.Hash, 0, len(e.Children))
		for c := range e.Children {
			out = append(out, c)
		}
		return out
	}) {
		e := g.events[h]
		if cur, ok := minDescendantSeq[e.Author]; !ok || e.Seq < cur {
			minDescendantSeq[e.Author] = e.Seq
		}
	}

	count := 0
	for _, a := range authors {
		max, sawAncestor := maxAncestorSeq[a]
		min, sawDescendant := minDescendantSeq[a]
		if sawAncestor && sawDescendant && max >= min {
			count++
		}
	}
	return count >= len(authors)-len(authors)/3
}

// seeLocked is See's body for callers that already hold g.mu.
func (g *Graph) seeLocked(x, y crypto.Hash) bool {
	ye, ok := g.events[y]
	if !ok {
		return false
	}
	sameAuthor := make(map[crypto.Hash]*event.Event)
	found := false
	for _, h := range g.dfs(x, func(e *event.Event) []crypto.Hash { return Parents(e) }) {
		e, ok := g.events[h]
		if !ok {
			continue
		}
		if h == y {
			found = true
		}
		if e.Author == ye.Author {
			sameAuthor[h] = e
		}
	}
	if !found {
		return false
	}
	// y's author may legitimately appear many times in x's ancestry: its
	// whole self-parent chain up to the highest-seq event x carries. That is
	// not a fork. A fork is two same-author events neither of which is a
	// self-ancestor of the other, which self-ancestor-chain membership below
	// catches directly.
	var top crypto.Hash
	var topSeq uint64
	for h, e := range sameAuthor {
		if e.Seq >= topSeq {
			top, topSeq = h, e.Seq
		}
	}
	chain := map[crypto.Hash]struct{}{}
	for cur, ok := top, true; ok; {
		chain[cur] = struct{}{}
		e := g.events[cur]
		cur, ok = SelfParent(e)
	}
	for h := range sameAuthor {
		if _, onChain := chain[h]; !onChain {
			return false
		}
	}
	return true
}

// SyncState returns, for each author in authors that the graph has seen at
// least one event from, that author's highest known sequence number. A
// peer sends this to describe what it already has.
func (g *Graph) SyncState(authors author.List) map[author.Author]uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[author.Author]uint64, len(authors))
	for _, a := range authors {
		if seq, ok := g.state[a]; ok {
			out[a] = seq
		}
	}
	return out
}

// Sync returns every event the graph knows about that peerState does not,
// in an order safe to replay with AddEvent one at a time (parents always
// precede children). Events whose seq is at or below the peer's high-water
// mark for their author are skipped, assumed already known.
func (g *Graph) Sync(peerState map[author.Author]uint64) []event.RawEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.root.IsZero() {
		return nil
	}
	// Iterative post-order walk from the root: push unexplored parents
	// first, emit an event only once both its parents have been emitted.
	// Pre-order reversed is not equivalent here: diamond ancestries would
	// emit a child before one of its parents.
	type frame struct {
		hash     crypto.Hash
		expanded bool
	}
	visited := map[crypto.Hash]struct{}{}
	var out []event.RawEvent
	stack := []frame{{hash: g.root}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		e := g.events[f.hash]
		if e.Seq <= peerState[e.Author] {
			// The peer holds this event, which implies it holds every
			// ancestor too; no need to walk further down this branch.
			visited[f.hash] = struct{}{}
			stack = stack[:len(stack)-1]
			continue
		}
		if !f.expanded {
			f.expanded = true
			for _, p := range Parents(e) {
				if _, seen := visited[p]; !seen {
					stack = append(stack, frame{hash: p})
				}
			}
			continue
		}
		stack = stack[:len(stack)-1]
		if _, seen := visited[f.hash]; seen {
			continue
		}
		visited[f.hash] = struct{}{}
		out = append(out, e.RawEvent)
	}
	return out
}

// dfs performs a finite, visited-set-deduplicated depth-first walk over
// hash and its neighbors as defined by next, with hash emitted first. It
// must be called with g.mu already held.
func (g *Graph) dfs(hash crypto.Hash, next func(*event.Event) []crypto.Hash) []crypto.Hash {
	if _, ok := g.events[hash]; !ok {
		return nil
	}
	visited := map[crypto.Hash]struct{}{}
	var order []crypto.Hash
	var stack []crypto.Hash
	stack = append(stack, hash)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[h]; seen {
			continue
		}
		visited[h] = struct{}{}
		order = append(order, h)
		e, ok := g.events[h]
		if !ok {
			continue
		}
		neighbors := next(e)
		for i := len(neighbors) - 1; i >= 0; i-- {
			if _, seen := visited[neighbors[i]]; !seen {
				stack = append(stack, neighbors[i])
			}
		}
	}
	return order
}
