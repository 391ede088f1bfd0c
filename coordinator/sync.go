package coordinator

import (
	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/event"
)

// SyncRequest describes what a peer already has: the block number that
// parameterizes the committee ordering its sequence vector is indexed
// against, plus one optional sequence number per committee member (nil
// meaning "nothing from this author yet").
type SyncRequest struct {
	Block uint64
	Seqs  []*uint64
}

// SyncRequest builds the request this node sends to a peer to describe its
// own graph contents, indexed against its author chain's current committee.
func (co *Coordinator) SyncRequest() SyncRequest {
	committee := co.chain.Committee()
	state := co.graph.SyncState(committee)
	seqs := make([]*uint64, len(committee))
	for i, a := range committee {
		if seq, ok := state[a]; ok {
			v := seq
			seqs[i] = &v
		}
	}
	return SyncRequest{Block: co.chain.BlockNumber(), Seqs: seqs}
}

// OutboundSync answers a peer's SyncRequest with every event this node
// knows about that the peer does not, per the committee snapshot in effect
// when req.Block was the live proposal. It returns ErrInvalidSync if this
// node has no round committee recorded for that block number (the peer is
// too far behind or ahead for this node to interpret its sequence vector).
func (co *Coordinator) OutboundSync(req SyncRequest) ([]event.RawEvent, error) {
	committee, ok := co.committeeForBlock(req.Block)
	if !ok {
		return nil, ErrInvalidSync
	}
	peerState := make(map[author.Author]uint64, len(committee))
	for i, a := range committee {
		if i < len(req.Seqs) && req.Seqs[i] != nil {
			peerState[a] = *req.Seqs[i]
		}
	}
	return co.graph.Sync(peerState), nil
}

// committeeForBlock returns the committee snapshot recorded for the round
// opened against block, if this node's voter still has a live round for it.
func (co *Coordinator) committeeForBlock(block uint64) (author.List, bool) {
	for _, r := range co.voter.Rounds() {
		if r.Block == block {
			return r.Authors, true
		}
	}
	return nil, false
}
