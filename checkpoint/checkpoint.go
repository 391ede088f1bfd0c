// Package checkpoint implements the deterministic, content-addressed
// export/import of the author-chain and state trees used for recovery and
// for new nodes joining the committee.
package checkpoint

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/chain"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/state"
	"github.com/coregraph-labs/hashgraph/tosdb"
)

// ErrInvalidCheckpoint is returned for any malformed, digest-mismatched,
// wrong-fork, or under-signed checkpoint.
var ErrInvalidCheckpoint = errors.New("checkpoint: invalid checkpoint")

// ProposedCheckpoint is a freshly exported, not-yet-threshold-signed
// checkpoint staged locally.
type ProposedCheckpoint struct {
	Hash       crypto.Hash
	Path       string
	Signatures []crypto.Signature
}

// SignedCheckpoint is a checkpoint that has accumulated threshold-many
// committee signatures and is ready to hand to a joining node.
type SignedCheckpoint struct {
	Hash       crypto.Hash
	Signatures []crypto.Signature
}

// Export streams a deterministic dump of c's and m's backing stores
// (author-chain tree first, then state tree, each as a count-prefixed
// sequence of length-prefixed key/value records) through a
// content-addressing file hasher, and returns the resulting proposal.
func Export(dir string, c *chain.Chain, m *state.Machine) (*ProposedCheckpoint, error) {
	fh, err := crypto.NewFileHasher(dir)
	if err != nil {
		return nil, err
	}
	if err := dumpTree(fh, c.DB()); err != nil {
		fh.Abort()
		return nil, err
	}
	if err := dumpTree(fh, m.DB()); err != nil {
		fh.Abort()
		return nil, err
	}
	path, digest, err := fh.Finalize()
	if err != nil {
		return nil, err
	}
	return &ProposedCheckpoint{Hash: digest, Path: path}, nil
}

// Import clears both trees, verifies and replays the checkpoint file named
// by signed.Hash, re-derives the author chain, and requires threshold
// valid signatures from the imported committee before committing the
// result. On any failure both trees are left empty.
func Import(dir string, signed SignedCheckpoint, c *chain.Chain, m *state.Machine) error {
	previousGenesis := c.GenesisHash()

	if err := c.Clear(); err != nil {
		return err
	}
	if err := m.Clear(); err != nil {
		return err
	}

	// Stream the file through a verifying reader so the digest check covers
	// exactly the bytes decoded below; a mismatch at Finish discards the
	// partially decoded entries before they ever touch either tree.
	r, err := crypto.OpenFileVerifyReader(crypto.ContentAddress(dir, signed.Hash))
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		r.Finish(signed.Hash)
		return err
	}
	if err := r.Finish(signed.Hash); err != nil {
		_ = c.Clear()
		_ = m.Clear()
		if errors.Is(err, crypto.ErrDigestMismatch) {
			return ErrInvalidCheckpoint
		}
		return err
	}

	authorEntries, rest, err := decodeTree(data)
	if err != nil {
		return ErrInvalidCheckpoint
	}
	stateEntries, rest, err := decodeTree(rest)
	if err != nil {
		return ErrInvalidCheckpoint
	}
	if len(rest) != 0 {
		return ErrInvalidCheckpoint
	}

	for _, e := range authorEntries {
		if err := c.DB().Put(e.key, e.value); err != nil {
			_ = c.Clear()
			_ = m.Clear()
			return err
		}
	}
	for _, e := range stateEntries {
		if err := m.DB().Put(e.key, e.value); err != nil {
			_ = c.Clear()
			_ = m.Clear()
			return err
		}
	}
	if err := c.DB().Flush(); err != nil {
		_ = c.Clear()
		_ = m.Clear()
		return err
	}
	if err := m.DB().Flush(); err != nil {
		_ = c.Clear()
		_ = m.Clear()
		return err
	}

	if err := c.FromTree(); err != nil {
		_ = c.Clear()
		_ = m.Clear()
		return ErrInvalidCheckpoint
	}

	if !previousGenesis.IsZero() && previousGenesis != c.GenesisHash() {
		_ = c.Clear()
		_ = m.Clear()
		return ErrInvalidCheckpoint
	}

	committee := c.Committee()
	need := chain.Threshold(len(committee))
	if countValidSignatures(committee, signed.Hash, signed.Signatures) < need {
		_ = c.Clear()
		_ = m.Clear()
		return ErrInvalidCheckpoint
	}
	return nil
}

func countValidSignatures(committee author.List, hash crypto.Hash, sigs []crypto.Signature) int {
	seen := make(map[author.Author]struct{}, len(sigs))
	valid := 0
	for _, sig := range sigs {
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
	return valid
}

type entry struct{ key, value []byte }

// dumpTree writes db's entire contents, walked in ascending key order for
// reproducibility across backends, as a record-count followed by that many
// length-prefixed key/value pairs.
func dumpTree(w io.Writer, db tosdb.Database) error {
	count := 0
	counter := db.NewIterator(nil, nil)
	for counter.Next() {
		count++
	}
	counter.Release()
	if err := counter.Error(); err != nil {
		return err
	}

	if err := writeUint64(w, uint64(count)); err != nil {
		return err
	}
	it := db.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		if err := writeBytes(w, it.Key()); err != nil {
			return err
		}
		if err := writeBytes(w, it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

// decodeTree parses one count-prefixed record sequence off the front of
// buf, returning the decoded entries and the unconsumed remainder.
func decodeTree(buf []byte) ([]entry, []byte, error) {
	if len(buf) < 8 {
		return nil, nil, ErrInvalidCheckpoint
	}
	count := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	entries := make([]entry, 0, count)
	for i := uint64(0); i < count; i++ {
		var e entry
		var err error
		if e.key, buf, err = readBytes(buf); err != nil {
			return nil, nil, err
		}
		if e.value, buf, err = readBytes(buf); err != nil {
			return nil, nil, err
		}
		entries = append(entries, e)
	}
	return entries, buf, nil
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 8 {
		return nil, nil, ErrInvalidCheckpoint
	}
	n := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if uint64(len(buf)) < n {
		return nil, nil, ErrInvalidCheckpoint
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, buf[n:], nil
}
