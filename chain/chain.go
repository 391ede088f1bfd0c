package chain

import (
	"errors"
	"sort"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/tosdb"
	lru "github.com/hashicorp/golang-lru"
)

// ErrInvalidBlock is returned when a block does not carry enough valid
// signatures from its committee, or a proposal is malformed.
var ErrInvalidBlock = errors.New("chain: invalid block")

// ErrInvalidState is returned by FromTree when replaying the persisted
// chain fails validation.
var ErrInvalidState = errors.New("chain: invalid state")

// committeeCacheSize bounds the ARC cache of validated committee
// snapshots keyed by block hash.
const committeeCacheSize = 64

// proposal is a frozen block collecting committee signatures. Its hash is
// fixed at freeze time, so every signature added afterwards covers the
// exact bytes the block will be persisted as. AddAuthor/RemAuthor
// requests arriving later accumulate in Chain.pending for the next
// proposal instead of mutating this one out from under its signees.
type proposal struct {
	block   Block
	hash    crypto.Hash
	sigs    []crypto.Signature
	signers map[author.Author]struct{}
}

// Chain is the in-memory, persistence-backed author chain: the committee's
// history of signed delta blocks, the delta set pending for the next
// proposal, and the frozen proposal currently collecting signatures.
type Chain struct {
	db tosdb.Database

	genesisHash crypto.Hash
	tip         crypto.Hash
	committee   author.List
	blockNumber uint64

	pending  author.List
	proposed *proposal

	cache *lru.ARCCache
}

// New returns a Chain backed by db. Callers must call either Genesis (for
// a brand-new chain) or FromTree (to resume an existing one) before use.
func New(db tosdb.Database) *Chain {
	cache, _ := lru.NewARC(committeeCacheSize)
	return &Chain{db: db, cache: cache}
}

// GenesisHash returns the chain's genesis block hash, or the zero hash if
// the chain has not been initialized yet.
func (c *Chain) GenesisHash() crypto.Hash { return c.genesisHash }

// Committee returns a copy of the chain's current (ascending-by-bytes)
// committee.
func (c *Chain) Committee() author.List { return c.committee.Clone() }

// BlockNumber returns the number of the block currently being proposed.
func (c *Chain) BlockNumber() uint64 { return c.blockNumber }

// ProposedBlock returns the frozen block currently collecting signatures,
// if StartRound has proposed one. Committee members hash this to produce
// the preimage their SignBlock signatures cover.
func (c *Chain) ProposedBlock() (Block, bool) {
	if c.proposed == nil {
		return Block{}, false
	}
	return c.proposed.block, true
}

// DB returns the chain's backing store, for the checkpoint package's
// deterministic dump/restore walk.
func (c *Chain) DB() tosdb.Database { return c.db }

// Clear erases every persisted block and lookup pointer, for checkpoint
// import to reset the chain before replaying an imported one.
func (c *Chain) Clear() error { return c.clearStorage() }

// Genesis clears any existing chain state and writes set as the genesis
// committee. Genesis requires no signatures: it is the trusted bootstrap
// every subsequent block is validated against.
func (c *Chain) Genesis(set author.List) error {
	if err := c.clearStorage(); err != nil {
		return err
	}
	committee := set.Clone()
	sort.Sort(committee)

	genesis := SignedBlock{Block: Block{Parent: crypto.GenesisHash, Authors: committee}}
	hash := genesis.Block.Hash()

	WriteBlock(c.db, hash, genesis)
	WriteGenesisHash(c.db, hash)

	c.genesisHash = hash
	c.tip = hash
	c.committee = committee
	c.blockNumber = 1
	c.pending = nil
	c.proposed = nil
	return c.db.Flush()
}

// FromTree replays a persisted chain from GENESIS_HASH, following
// lookup(parent) → child_hash pointers and validating every non-genesis
// block against the committee it was proposed against. It returns
// ErrInvalidState on any validation failure.
func (c *Chain) FromTree() error {
	genesisHash := ReadGenesisHash(c.db)
	if genesisHash.IsZero() {
		return ErrInvalidState
	}
	genesis, ok := ReadBlock(c.db, genesisHash)
	if !ok || genesis.Parent != crypto.GenesisHash {
		return ErrInvalidState
	}

	c.genesisHash = genesisHash
	c.tip = genesisHash
	committee := genesis.Authors.Clone()
	sort.Sort(committee)
	c.committee = committee
	c.blockNumber = 1

	cur := genesisHash
	for {
		childHash, ok := ReadChild(c.db, cur)
		if !ok {
			break
		}
		if cached, ok := c.cache.Get(childHash); ok {
			c.committee = cached.(author.List).Clone()
			c.blockNumber++
			cur = childHash
			continue
		}
		sb, ok := ReadBlock(c.db, childHash)
		if !ok {
			return ErrInvalidState
		}
		if err := c.validate(sb, c.committee); err != nil {
			return ErrInvalidState
		}
		c.committee = applyDelta(c.committee, sb.Authors)
		c.cache.Add(childHash, c.committee.Clone())
		c.blockNumber++
		cur = childHash
	}
	c.tip = cur
	c.pending = nil
	c.proposed = nil
	return nil
}

// validate checks that sb carries at least threshold(len(committee)) valid,
// distinct-author signatures from committee members over sb's unsigned
// block hash.
func (c *Chain) validate(sb SignedBlock, committee author.List) error {
	need := threshold(len(committee))
	hash := sb.Block.Hash()
	seen := make(map[author.Author]struct{}, len(sb.Signatures))
	valid := 0
	for _, sig := range sb.Signatures {
		for _, a := range committee {
			if _, dup := seen[a]; dup {
				continue
			}
			if crypto.Verify(a.PublicKey(), hash[:], sig) {
				seen[a] = struct{}{}
				valid++
				break
			}
		}
	}
	if valid < need {
		return ErrInvalidBlock
	}
	return nil
}

// AddAuthor queues author a for addition in the next proposed block,
// honored only if block matches the current block number and a is not
// already a committee member. A mismatched block number is a silent
// no-op: the request was raced by a block boundary and is stale.
func (c *Chain) AddAuthor(a author.Author, block uint64) {
	if block != c.blockNumber || c.committee.Contains(a) {
		return
	}
	if !c.pending.Contains(a) {
		c.pending = append(c.pending, a)
	}
}

// RemAuthor queues author a for removal in the next proposed block,
// honored only if block matches the current block number and a is
// currently a committee member.
func (c *Chain) RemAuthor(a author.Author, block uint64) {
	if block != c.blockNumber || !c.committee.Contains(a) {
		return
	}
	if !c.pending.Contains(a) {
		c.pending = append(c.pending, a)
	}
}

// SignBlock records a's signature over the currently proposed block, if a
// is a committee member, the signature verifies against the frozen
// proposal hash, and a has not already signed it. Signatures arriving
// while no proposal is frozen are dropped: they cannot name a block.
func (c *Chain) SignBlock(a author.Author, sig crypto.Signature) error {
	if c.proposed == nil {
		return nil
	}
	if !c.committee.Contains(a) {
		return ErrInvalidBlock
	}
	if _, dup := c.proposed.signers[a]; dup {
		return nil
	}
	if !crypto.Verify(a.PublicKey(), c.proposed.hash[:], sig) {
		return ErrInvalidBlock
	}
	c.proposed.signers[a] = struct{}{}
	c.proposed.sigs = append(c.proposed.sigs, sig)
	return nil
}

// StartRound commits the proposed block if it now carries threshold-many
// signatures, freezes the pending delta into a fresh proposal if no
// proposal is live, and returns the (possibly just-advanced) current block
// number alongside the current committee snapshot. An under-signed
// proposal stays live across calls and keeps collecting signatures.
func (c *Chain) StartRound() (uint64, author.List, error) {
	if p := c.proposed; p != nil && len(p.sigs) >= threshold(len(c.committee)) {
		sb := SignedBlock{Block: p.block, Signatures: append([]crypto.Signature{}, p.sigs...)}
		WriteBlock(c.db, p.hash, sb)
		c.committee = applyDelta(c.committee, p.block.Authors)
		c.cache.Add(p.hash, c.committee.Clone())
		c.tip = p.hash
		c.blockNumber++
		c.proposed = nil
		if err := c.db.Flush(); err != nil {
			return 0, nil, err
		}
	}
	if c.proposed == nil && len(c.pending) > 0 {
		block := Block{Parent: c.tip, Authors: c.pending.Clone()}
		c.proposed = &proposal{
			block:   block,
			hash:    block.Hash(),
			signers: make(map[author.Author]struct{}),
		}
		c.pending = nil
	}
	return c.blockNumber, c.committee.Clone(), nil
}

func (c *Chain) clearStorage() error {
	for _, prefix := range [][]byte{blockPrefix, childPrefix} {
		it := c.db.NewIterator(prefix, nil)
		var keys [][]byte
		for it.Next() {
			keys = append(keys, append([]byte{}, it.Key()...))
		}
		it.Release()
		for _, k := range keys {
			if err := c.db.Delete(k); err != nil {
				return err
			}
		}
	}
	if err := c.db.Delete(genesisKey); err != nil {
		return err
	}
	return c.db.Flush()
}
