package checkpoint

import (
	"errors"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/chain"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/state"
)

// ErrNoProposal is returned by SignCheckpoint when no checkpoint has been
// exported yet.
var ErrNoProposal = errors.New("checkpoint: no proposal to sign")

// Manager owns the locally staged checkpoint proposal: it accumulates
// SignCheckpoint transactions until threshold is reached, at which point
// the proposal becomes a SignedCheckpoint ready to export to a joiner.
type Manager struct {
	dir   string
	chain *chain.Chain
	state *state.Machine

	proposed *ProposedCheckpoint
	signers  map[author.Author]struct{}
	signed   *SignedCheckpoint
}

// NewManager returns a Manager that exports/imports checkpoints under dir
// against c's and m's backing stores.
func NewManager(dir string, c *chain.Chain, m *state.Machine) *Manager {
	return &Manager{dir: dir, chain: c, state: m}
}

// Export stages a fresh checkpoint of the current chain/state trees,
// discarding any prior unsigned proposal (its signatures no longer apply
// to the new content hash).
func (mgr *Manager) Export() (*ProposedCheckpoint, error) {
	proposed, err := Export(mgr.dir, mgr.chain, mgr.state)
	if err != nil {
		return nil, err
	}
	mgr.proposed = proposed
	mgr.signers = make(map[author.Author]struct{})
	mgr.signed = nil
	return proposed, nil
}

// Proposed returns the currently staged proposal, if any.
func (mgr *Manager) Proposed() (*ProposedCheckpoint, bool) {
	return mgr.proposed, mgr.proposed != nil
}

// Signed returns the checkpoint once threshold signatures have
// accumulated, ready to export to a joining node.
func (mgr *Manager) Signed() (*SignedCheckpoint, bool) {
	return mgr.signed, mgr.signed != nil
}

// SignCheckpoint records a's signature over the currently staged proposal.
// Once the committee's signature threshold is met, the proposal is
// promoted to a SignedCheckpoint.
func (mgr *Manager) SignCheckpoint(a author.Author, sig crypto.Signature) error {
	if mgr.proposed == nil {
		return ErrNoProposal
	}
	if !mgr.chain.Committee().Contains(a) {
		return ErrInvalidCheckpoint
	}
	if !crypto.Verify(a.PublicKey(), mgr.proposed.Hash[:], sig) {
		return ErrInvalidCheckpoint
	}
	if _, dup := mgr.signers[a]; dup {
		return nil
	}
	mgr.signers[a] = struct{}{}
	mgr.proposed.Signatures = append(mgr.proposed.Signatures, sig)

	need := chain.Threshold(len(mgr.chain.Committee()))
	if len(mgr.proposed.Signatures) >= need {
		mgr.signed = &SignedCheckpoint{
			Hash:       mgr.proposed.Hash,
			Signatures: append([]crypto.Signature{}, mgr.proposed.Signatures...),
		}
	}
	return nil
}

// Import delegates to the package-level Import against mgr's chain and
// state.
func (mgr *Manager) Import(signed SignedCheckpoint) error {
	return Import(mgr.dir, signed, mgr.chain, mgr.state)
}
