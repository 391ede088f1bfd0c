package checkpoint

import (
	"os"
	"testing"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/chain"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/event"
	"github.com/coregraph-labs/hashgraph/state"
	"github.com/coregraph-labs/hashgraph/tosdb/memorydb"
)

func newKeyPair(t *testing.T) (author.Author, crypto.KeyPair) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return author.FromPublicKey(kp.Public), kp
}

// TestCheckpointRoundTrip: export, sign to threshold, import into a fresh
// node, and re-export must reproduce the same digest.
func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	aAuthor, aKP := newKeyPair(t)
	bAuthor, _ := newKeyPair(t)

	c := chain.New(memorydb.New())
	if err := c.Genesis(author.List{aAuthor, bAuthor}); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	m := state.New(memorydb.New())
	if err := m.Insert(aAuthor, event.Key{Prefix: []byte("p"), Key: []byte("k")}, []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	proposed, err := Export(dir, c, m)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	h := proposed.Hash

	sig := crypto.Sign(aKP.Private, h[:])
	signed := SignedCheckpoint{Hash: h, Signatures: []crypto.Signature{sig}}

	c2 := chain.New(memorydb.New())
	m2 := state.New(memorydb.New())
	if err := Import(dir, signed, c2, m2); err != nil {
		t.Fatalf("Import: %v", err)
	}

	v, ok, err := m2.Get(event.Key{Prefix: []byte("p"), Key: []byte("k")})
	if err != nil || !ok || string(v) != "v" {
		t.Fatalf("imported state missing expected value: v=%q ok=%v err=%v", v, ok, err)
	}

	reproposed, err := Export(dir, c2, m2)
	if err != nil {
		t.Fatalf("re-Export: %v", err)
	}
	if reproposed.Hash != h {
		t.Fatalf("re-exported digest differs: got %s want %s", reproposed.Hash, h)
	}
}

// TestImportRejectsCorruptFile: a corrupted checkpoint file must fail
// with ErrInvalidCheckpoint and leave both trees empty.
func TestImportRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	aAuthor, aKP := newKeyPair(t)
	bAuthor, _ := newKeyPair(t)

	c := chain.New(memorydb.New())
	if err := c.Genesis(author.List{aAuthor, bAuthor}); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	m := state.New(memorydb.New())
	if err := m.Insert(aAuthor, event.Key{Prefix: []byte("p"), Key: []byte("k")}, []byte("v")); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	proposed, err := Export(dir, c, m)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	h := proposed.Hash

	path := crypto.ContentAddress(dir, h)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	sig := crypto.Sign(aKP.Private, h[:])
	signed := SignedCheckpoint{Hash: h, Signatures: []crypto.Signature{sig}}

	c2 := chain.New(memorydb.New())
	m2 := state.New(memorydb.New())
	if err := Import(dir, signed, c2, m2); err != ErrInvalidCheckpoint {
		t.Fatalf("expected ErrInvalidCheckpoint, got %v", err)
	}
	if c2.DB().NewIterator(nil, nil).Next() {
		t.Fatalf("chain tree must be empty after a failed import")
	}
	if m2.DB().NewIterator(nil, nil).Next() {
		t.Fatalf("state tree must be empty after a failed import")
	}
}

// TestImportRejectsInsufficientSignatures ensures a checkpoint lacking
// threshold signatures from the imported committee is rejected.
func TestImportRejectsInsufficientSignatures(t *testing.T) {
	dir := t.TempDir()
	aAuthor, _ := newKeyPair(t)
	bAuthor, _ := newKeyPair(t)
	cAuthor, _ := newKeyPair(t)

	c := chain.New(memorydb.New())
	if err := c.Genesis(author.List{aAuthor, bAuthor, cAuthor}); err != nil {
		t.Fatalf("Genesis: %v", err)
	}
	m := state.New(memorydb.New())

	proposed, err := Export(dir, c, m)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	h := proposed.Hash

	unsigned := SignedCheckpoint{Hash: h} // threshold(3) == 1, zero signatures must fail
	c2 := chain.New(memorydb.New())
	m2 := state.New(memorydb.New())
	if err := Import(dir, unsigned, c2, m2); err != ErrInvalidCheckpoint {
		t.Fatalf("expected ErrInvalidCheckpoint for unsigned checkpoint, got %v", err)
	}
}
