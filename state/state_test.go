package state

import (
	"bytes"
	"testing"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/event"
	"github.com/coregraph-labs/hashgraph/tosdb/memorydb"
)

func testAuthor(t *testing.T) author.Author {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return author.FromPublicKey(kp.Public)
}

// TestACLEnforcement: the first writer to an unowned prefix becomes sole
// owner; a non-member write is rejected and leaves the value untouched;
// granting membership lets the new author write successfully.
func TestACLEnforcement(t *testing.T) {
	a := testAuthor(t)
	b := testAuthor(t)
	m := New(memorydb.New())
	key := event.Key{Prefix: []byte("p"), Key: []byte("k")}

	if err := m.Insert(a, key, []byte("v1")); err != nil {
		t.Fatalf("A's first insert should succeed: %v", err)
	}

	err := m.Insert(b, key, []byte("v2"))
	if err != ErrPermission {
		t.Fatalf("expected ErrPermission for B, got %v", err)
	}
	v, ok, err := m.Get(key)
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("value must be unchanged after rejected write: v=%q ok=%v err=%v", v, ok, err)
	}

	if err := m.AddAuthorToPrefix(a, key.Prefix, b); err != nil {
		t.Fatalf("A should be able to add B to the prefix: %v", err)
	}

	if err := m.Insert(b, key, []byte("v2")); err != nil {
		t.Fatalf("B's insert should now succeed: %v", err)
	}
	v, ok, err = m.Get(key)
	if err != nil || !ok || string(v) != "v2" {
		t.Fatalf("expected v2 after B's insert: v=%q ok=%v err=%v", v, ok, err)
	}
}

func TestCompareAndSwap(t *testing.T) {
	a := testAuthor(t)
	m := New(memorydb.New())
	key := event.Key{Prefix: []byte("p"), Key: []byte("k")}

	if err := m.CompareAndSwap(a, key, nil, false, []byte("v1"), true); err != nil {
		t.Fatalf("CAS from absent should succeed: %v", err)
	}

	err := m.CompareAndSwap(a, key, []byte("wrong"), true, []byte("v2"), true)
	var casErr *CompareAndSwapError
	if err == nil {
		t.Fatalf("expected CompareAndSwapError on mismatch")
	}
	if !asCASError(err, &casErr) {
		t.Fatalf("expected *CompareAndSwapError, got %T: %v", err, err)
	}
	if !bytes.Equal(casErr.Current, []byte("v1")) {
		t.Fatalf("CAS error should report current value, got %q", casErr.Current)
	}

	if err := m.CompareAndSwap(a, key, []byte("v1"), true, []byte("v2"), true); err != nil {
		t.Fatalf("CAS with correct expectation should succeed: %v", err)
	}
	v, ok, _ := m.Get(key)
	if !ok || string(v) != "v2" {
		t.Fatalf("expected v2 after successful CAS, got %q ok=%v", v, ok)
	}
}

func asCASError(err error, target **CompareAndSwapError) bool {
	if e, ok := err.(*CompareAndSwapError); ok {
		*target = e
		return true
	}
	return false
}

// TestAddAuthorToPrefixUnownedGrantsOnlyTarget: adding an author to an
// unowned prefix makes the target its sole owner; the caller gains
// nothing from the call itself.
func TestAddAuthorToPrefixUnownedGrantsOnlyTarget(t *testing.T) {
	a := testAuthor(t)
	b := testAuthor(t)
	m := New(memorydb.New())
	key := event.Key{Prefix: []byte("p"), Key: []byte("k")}

	if err := m.AddAuthorToPrefix(a, key.Prefix, b); err != nil {
		t.Fatalf("add to unowned prefix should succeed: %v", err)
	}
	owners, err := m.Owners(key.Prefix)
	if err != nil {
		t.Fatalf("Owners: %v", err)
	}
	if len(owners) != 1 || owners[0] != b {
		t.Fatalf("expected owners [b], got %v", owners)
	}
	if err := m.Insert(a, key, []byte("v")); err != ErrPermission {
		t.Fatalf("caller must not have gained access, got %v", err)
	}
	if err := m.Insert(b, key, []byte("v")); err != nil {
		t.Fatalf("target's insert should succeed: %v", err)
	}
}

// TestRemAuthorFromPrefixUnownedIsPermission: an unowned prefix has no
// owners to authorize a removal, so the call is always rejected and the
// owner list stays empty.
func TestRemAuthorFromPrefixUnownedIsPermission(t *testing.T) {
	a := testAuthor(t)
	b := testAuthor(t)
	m := New(memorydb.New())
	prefix := []byte("p")

	if err := m.RemAuthorFromPrefix(a, prefix, b); err != ErrPermission {
		t.Fatalf("expected ErrPermission on unowned prefix, got %v", err)
	}
	owners, err := m.Owners(prefix)
	if err != nil {
		t.Fatalf("Owners: %v", err)
	}
	if len(owners) != 0 {
		t.Fatalf("owner list must stay empty after rejected removal, got %v", owners)
	}
}

func TestRemAuthorFromPrefixRevokesAccess(t *testing.T) {
	a := testAuthor(t)
	b := testAuthor(t)
	m := New(memorydb.New())
	key := event.Key{Prefix: []byte("p"), Key: []byte("k")}

	if err := m.Insert(a, key, []byte("v1")); err != nil {
		t.Fatalf("initial insert: %v", err)
	}
	if err := m.AddAuthorToPrefix(a, key.Prefix, b); err != nil {
		t.Fatalf("add B: %v", err)
	}
	if err := m.RemAuthorFromPrefix(a, key.Prefix, b); err != nil {
		t.Fatalf("remove B: %v", err)
	}
	if err := m.Insert(b, key, []byte("v2")); err != ErrPermission {
		t.Fatalf("expected ErrPermission for revoked B, got %v", err)
	}
}
