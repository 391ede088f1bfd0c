// Package dbtest provides a reusable test suite any tosdb.KeyValueStore
// backend can run against, so the leveldb and memorydb packages exercise
// one shared contract.
package dbtest

import (
	"bytes"
	"sort"
	"testing"

	"github.com/coregraph-labs/hashgraph/tosdb"
)

// TestDatabaseSuite exercises the full KeyValueStore contract against a
// freshly constructed store from factory.
func TestDatabaseSuite(t *testing.T, factory func() tosdb.KeyValueStore) {
	t.Run("PutGetHasDelete", func(t *testing.T) { testPutGetHasDelete(t, factory()) })
	t.Run("Iterator", func(t *testing.T) { testIterator(t, factory()) })
	t.Run("Batch", func(t *testing.T) { testBatch(t, factory()) })
}

func testPutGetHasDelete(t *testing.T, db tosdb.KeyValueStore) {
	defer db.Close()

	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatalf("fresh store reports Has for absent key")
	}
	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := db.Has([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("Has after Put: ok=%v err=%v", ok, err)
	}
	v, err := db.Get([]byte("k"))
	if err != nil || !bytes.Equal(v, []byte("v1")) {
		t.Fatalf("Get after Put: v=%q err=%v", v, err)
	}
	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, _ = db.Get([]byte("k"))
	if !bytes.Equal(v, []byte("v2")) {
		t.Fatalf("overwrite did not take effect, got %q", v)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := db.Has([]byte("k")); ok {
		t.Fatalf("Has after Delete still reports present")
	}
}

func testIterator(t *testing.T, db tosdb.KeyValueStore) {
	defer db.Close()

	entries := map[string]string{
		"a/1": "v1",
		"a/2": "v2",
		"a/3": "v3",
		"b/1": "other",
	}
	for k, v := range entries {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	it := db.NewIterator([]byte("a/"), nil)
	defer it.Release()
	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	sort.Strings(got)
	want := []string{"a/1", "a/2", "a/3"}
	if len(got) != len(want) {
		t.Fatalf("iterator returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("iterator returned %v, want %v", got, want)
		}
	}
}

func testBatch(t *testing.T, db tosdb.KeyValueStore) {
	defer db.Close()

	batch := db.NewBatch()
	if err := batch.Put([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("batch Put: %v", err)
	}
	if err := batch.Put([]byte("y"), []byte("2")); err != nil {
		t.Fatalf("batch Put: %v", err)
	}
	if batch.ValueSize() == 0 {
		t.Fatalf("ValueSize reports zero after writes")
	}
	if ok, _ := db.Has([]byte("x")); ok {
		t.Fatalf("batch write visible before Write()")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("batch Write: %v", err)
	}
	if ok, _ := db.Has([]byte("x")); !ok {
		t.Fatalf("batch write not visible after Write()")
	}
	batch.Reset()
	if batch.ValueSize() != 0 {
		t.Fatalf("ValueSize nonzero after Reset")
	}
}
