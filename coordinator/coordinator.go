// Package coordinator wires the gossip graph, round engine, author chain,
// state machine, and checkpoint manager into the single entry point a
// transport layer drives: submit a transaction, accept an inbound sync
// batch, answer an outbound sync request.
package coordinator

import (
	"errors"
	"time"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/chain"
	"github.com/coregraph-labs/hashgraph/checkpoint"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/event"
	"github.com/coregraph-labs/hashgraph/graph"
	"github.com/coregraph-labs/hashgraph/internal/xlog"
	"github.com/coregraph-labs/hashgraph/state"
	"github.com/coregraph-labs/hashgraph/voter"
)

// ErrInvalidSync is returned by OutboundSync when the request names a block
// number this node has no round committee snapshot for.
var ErrInvalidSync = errors.New("coordinator: unknown block in sync request")

// ErrConfigDir is returned by New when no checkpoint directory is
// configured; the coordinator has nowhere to stage checkpoint files.
var ErrConfigDir = errors.New("coordinator: no checkpoint directory configured")

// Config holds the small amount of host-supplied configuration the
// coordinator needs beyond its storage and identity.
type Config struct {
	// CheckpointDir is where exported/imported checkpoint files are staged,
	// passed straight through to checkpoint.NewManager.
	CheckpointDir string
}

// Coordinator is the only component a host process drives directly. It
// owns no internal lock: it is built for a single-writer driving loop,
// with Submit as the lone entry point safe to call from other goroutines.
type Coordinator struct {
	identity *author.Identity

	graph      *graph.Graph
	voter      *voter.Voter
	chain      *chain.Chain
	state      *state.Machine
	checkpoint *checkpoint.Manager

	queue queue

	selfHash  crypto.Hash
	otherHash crypto.Hash

	// awaiting maps the hash of a locally authored event to the pending
	// transactions it carries, so their futures can be resolved in payload
	// order once that event is finalized.
	awaiting map[crypto.Hash][]pendingTx
}

// New returns a Coordinator over an already-initialized chain and state
// (via Genesis or FromTree/Import) and a fresh graph.
func New(id *author.Identity, g *graph.Graph, c *chain.Chain, m *state.Machine, cfg Config) (*Coordinator, error) {
	if cfg.CheckpointDir == "" {
		return nil, ErrConfigDir
	}
	return &Coordinator{
		identity:   id,
		graph:      g,
		voter:      voter.New(g, c),
		chain:      c,
		state:      m,
		checkpoint: checkpoint.NewManager(cfg.CheckpointDir, c, m),
		awaiting:   make(map[crypto.Hash][]pendingTx),
	}, nil
}

// Submit queues tx for inclusion in this node's next authored event. The
// returned channel receives exactly one Result once the transaction has
// been applied, which may be several InboundSync calls away.
func (co *Coordinator) Submit(tx event.Transaction) <-chan Result {
	return co.queue.Submit(tx)
}

// Checkpoint returns the coordinator's checkpoint manager, for a host that
// wants to trigger an export or hand a SignCheckpoint transaction's
// acceptance along to a joining node.
func (co *Coordinator) Checkpoint() *checkpoint.Manager { return co.checkpoint }

// Graph returns the coordinator's gossip graph, for a host's sync
// transport to inspect.
func (co *Coordinator) Graph() *graph.Graph { return co.graph }

// Chain returns the coordinator's author chain.
func (co *Coordinator) Chain() *chain.Chain { return co.chain }

// State returns the coordinator's key-value state machine.
func (co *Coordinator) State() *state.Machine { return co.state }

// InboundSync accepts a batch of raw events gossiped by a peer (as returned
// by that peer's OutboundSync), adds each to the graph and round engine in
// order, builds and signs this node's own event carrying every queued
// transaction, runs fame election and round-received assignment, and
// dispatches every newly finalized transaction to the chain, state, or
// checkpoint manager as appropriate. Individual transaction outcomes are
// delivered through the futures Submit handed out; only storage failures
// surface as an error here.
func (co *Coordinator) InboundSync(raws []event.RawEvent) error {
	self := co.identity.Author()

	for _, raw := range raws {
		hash := raw.Hash()
		if co.graph.Has(hash) {
			continue
		}
		newHash, err := co.graph.AddEvent(raw)
		if err != nil {
			xlog.Warn("coordinator: dropping invalid inbound event", "author", raw.Author, "err", err)
			continue
		}
		if err := co.voter.AddEvent(newHash); err != nil {
			return err
		}
		if raw.Author != self {
			co.otherHash = newHash
		}
	}

	pending := co.queue.Drain()
	payload := make([]event.Transaction, 0, len(pending))
	for _, p := range pending {
		payload = append(payload, p.tx)
	}

	own := event.RawEvent{
		Payload:   payload,
		SelfHash:  co.selfHash,
		OtherHash: co.otherHash,
		Time:      time.Now().UnixNano(),
		Author:    self,
	}
	own.Sign(co.identity.Private)
	insertedHash, err := co.graph.AddEvent(own)
	if err != nil {
		return err
	}
	if err := co.voter.AddEvent(insertedHash); err != nil {
		return err
	}
	co.selfHash = insertedHash
	if len(pending) > 0 {
		co.awaiting[insertedHash] = pending
	}

	finalized := co.voter.ProcessRounds()
	for _, h := range finalized {
		co.applyFinalized(h)
	}

	if err := co.chain.DB().Flush(); err != nil {
		return err
	}
	return co.state.DB().Flush()
}

// applyFinalized dispatches every transaction carried by the finalized
// event h to the chain or state machine, and resolves any locally submitted
// futures waiting on h.
func (co *Coordinator) applyFinalized(h crypto.Hash) {
	e, ok := co.graph.Get(h)
	if !ok {
		return
	}
	waiters, hasWaiters := co.awaiting[h]
	for i, tx := range e.Payload {
		err := co.applyTransaction(e.Author, tx)
		if hasWaiters && i < len(waiters) {
			waiters[i].result <- Result{Err: err}
			close(waiters[i].result)
		}
	}
	if hasWaiters {
		delete(co.awaiting, h)
	}
}

func (co *Coordinator) applyTransaction(a author.Author, tx event.Transaction) error {
	switch tx.Kind {
	case event.KindAddAuthor:
		co.chain.AddAuthor(tx.Author, tx.Block)
		return nil
	case event.KindRemAuthor:
		co.chain.RemAuthor(tx.Author, tx.Block)
		return nil
	case event.KindSignBlock:
		return co.chain.SignBlock(a, tx.Signature)
	case event.KindSignCheckpoint:
		return co.checkpoint.SignCheckpoint(a, tx.Signature)
	default:
		return co.state.Commit(a, tx)
	}
}
