package chain

import (
	"github.com/coregraph-labs/hashgraph/crypto"
	"github.com/coregraph-labs/hashgraph/internal/xlog"
	"github.com/coregraph-labs/hashgraph/tosdb"
)

// A short prefix byte distinguishes the block-by-hash table from the
// child-lookup-by-parent-hash table within the shared "authors" tree.
var (
	blockPrefix = []byte("b")
	childPrefix = []byte("c")
	genesisKey  = []byte("genesis")
)

func blockKey(hash crypto.Hash) []byte {
	return append(append([]byte{}, blockPrefix...), hash[:]...)
}

func childKey(parent crypto.Hash) []byte {
	return append(append([]byte{}, childPrefix...), parent[:]...)
}

// ReadGenesisHash retrieves the chain's genesis block hash, or the zero
// hash if none has been written yet.
func ReadGenesisHash(db tosdb.KeyValueReader) crypto.Hash {
	data, err := db.Get(genesisKey)
	if err != nil || len(data) != crypto.HashSize {
		return crypto.Hash{}
	}
	return crypto.BytesToHash(data)
}

// WriteGenesisHash stores the chain's genesis block hash.
func WriteGenesisHash(db tosdb.KeyValueWriter, hash crypto.Hash) {
	if err := db.Put(genesisKey, hash.Bytes()); err != nil {
		xlog.Crit("chain: failed to write genesis hash", "err", err)
	}
}

// ReadBlock retrieves the signed block stored under hash, if any.
func ReadBlock(db tosdb.KeyValueReader, hash crypto.Hash) (SignedBlock, bool) {
	data, err := db.Get(blockKey(hash))
	if err != nil || len(data) == 0 {
		return SignedBlock{}, false
	}
	sb, err := DecodeSignedBlock(data)
	if err != nil {
		xlog.Error("chain: corrupt block record", "hash", hash, "err", err)
		return SignedBlock{}, false
	}
	return sb, true
}

// WriteBlock persists sb under its own hash and records the parent→child
// lookup pointer used by FromTree's chain walk.
func WriteBlock(db tosdb.KeyValueWriter, hash crypto.Hash, sb SignedBlock) {
	if err := db.Put(blockKey(hash), sb.Encode()); err != nil {
		xlog.Crit("chain: failed to write block", "hash", hash, "err", err)
	}
	if err := db.Put(childKey(sb.Parent), hash.Bytes()); err != nil {
		xlog.Crit("chain: failed to write child pointer", "parent", sb.Parent, "err", err)
	}
}

// ReadChild returns the hash of the block whose parent is parent, if any
// has been committed yet.
func ReadChild(db tosdb.KeyValueReader, parent crypto.Hash) (crypto.Hash, bool) {
	data, err := db.Get(childKey(parent))
	if err != nil || len(data) != crypto.HashSize {
		return crypto.Hash{}, false
	}
	return crypto.BytesToHash(data), true
}
