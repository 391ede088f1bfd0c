// Package memorydb implements an in-memory tosdb.Database, used by tests
// and by nodes that don't need durability across restarts.
package memorydb

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/coregraph-labs/hashgraph/tosdb"
)

// ErrClosed is returned by Has, Get, Put, Delete and batch Write on a
// Database after Close.
var ErrClosed = errors.New("memorydb: database closed")

// ErrNotFound is returned by Get for an absent key.
var ErrNotFound = errors.New("memorydb: key not found")

// Database is a sorted in-memory key-value store guarded by a single mutex,
// mirroring the single-writer discipline the rest of this module assumes.
type Database struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New returns an empty Database.
func New() *Database {
	return &Database{data: make(map[string][]byte)}
}

func (db *Database) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return false, ErrClosed
	}
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *Database) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	v, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (db *Database) Put(key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	db.data[string(key)] = cp
	return nil
}

func (db *Database) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	delete(db.data, string(key))
	return nil
}

func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	return nil
}

// Flush is a no-op: the in-memory backend has nothing to flush.
func (db *Database) Flush() error { return nil }

func (db *Database) NewBatch() tosdb.Batch {
	return &batch{db: db}
}

func (db *Database) NewIterator(prefix, start []byte) tosdb.Iterator {
	db.mu.RLock()
	defer db.mu.RUnlock()

	seek := append(append([]byte{}, prefix...), start...)
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if bytes.HasPrefix([]byte(k), prefix) && k >= string(seek) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = db.data[k]
	}
	return &iterator{keys: keys, values: values, index: -1}
}

type batchEntry struct {
	key, value []byte
	delete     bool
}

type batch struct {
	db      *Database
	entries []batchEntry
	size    int
}

func (b *batch) Put(key, value []byte) error {
	b.entries = append(b.entries, batchEntry{key: append([]byte{}, key...), value: append([]byte{}, value...)})
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.entries = append(b.entries, batchEntry{key: append([]byte{}, key...), delete: true})
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int { return b.size }

func (b *batch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	if b.db.closed {
		return ErrClosed
	}
	for _, e := range b.entries {
		if e.delete {
			delete(b.db.data, string(e.key))
			continue
		}
		b.db.data[string(e.key)] = e.value
	}
	return nil
}

func (b *batch) Reset() {
	b.entries = b.entries[:0]
	b.size = 0
}

type iterator struct {
	keys   []string
	values [][]byte
	index  int
}

func (it *iterator) Next() bool {
	it.index++
	return it.index < len(it.keys)
}

func (it *iterator) Key() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.index])
}

func (it *iterator) Value() []byte {
	if it.index < 0 || it.index >= len(it.values) {
		return nil
	}
	return it.values[it.index]
}

func (it *iterator) Error() error { return nil }
func (it *iterator) Release()     {}
