// Package leveldb implements tosdb.Database over syndtr/goleveldb, the
// on-disk backend used by the author chain and state machine when
// durability across restarts is required.
package leveldb

import (
	gleveldb "github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/coregraph-labs/hashgraph/internal/xlog"
	"github.com/coregraph-labs/hashgraph/tosdb"
)

// Database wraps a goleveldb instance.
type Database struct {
	db *gleveldb.DB
}

// New opens (creating if absent) a goleveldb store at path.
func New(path string) (*Database, error) {
	db, err := gleveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func (d *Database) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

func (d *Database) Get(key []byte) ([]byte, error) {
	return d.db.Get(key, nil)
}

func (d *Database) Put(key, value []byte) error {
	return d.db.Put(key, value, nil)
}

func (d *Database) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Flush has nothing to do beyond what goleveldb already guarantees on
// Write; present to satisfy tosdb.Database for callers that treat all
// backends uniformly.
func (d *Database) Flush() error { return nil }

func (d *Database) NewBatch() tosdb.Batch {
	return &batch{db: d.db, b: new(gleveldb.Batch)}
}

func (d *Database) NewIterator(prefix, start []byte) tosdb.Iterator {
	rng := util.BytesPrefix(prefix)
	if len(start) > 0 {
		rng.Start = append(append([]byte{}, prefix...), start...)
	}
	return &iter{it: d.db.NewIterator(rng, nil)}
}

type batch struct {
	db   *gleveldb.DB
	b    *gleveldb.Batch
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int { return b.size }

func (b *batch) Write() error {
	if err := b.db.Write(b.b, nil); err != nil {
		xlog.Error("leveldb batch write failed", "err", err)
		return err
	}
	return nil
}

func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}

type iter struct {
	it iterator.Iterator
}

func (i *iter) Next() bool    { return i.it.Next() }
func (i *iter) Key() []byte   { return i.it.Key() }
func (i *iter) Value() []byte { return i.it.Value() }
func (i *iter) Error() error  { return i.it.Error() }
func (i *iter) Release()      { i.it.Release() }
