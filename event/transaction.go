package event

import (
	"encoding/binary"
	"errors"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/crypto"
)

// Kind tags which variant of the Transaction sum type a value carries.
// Which fields are populated is entirely determined by Kind, so there is
// never a need for an interface hierarchy or a type switch over concrete
// transaction types.
type Kind uint8

const (
	KindAddAuthor Kind = iota
	KindRemAuthor
	KindSignBlock
	KindInsert
	KindRemove
	KindCompareAndSwap
	KindAddAuthorToPrefix
	KindRemAuthorFromPrefix
	KindSignCheckpoint
)

// ErrInvalidTransaction is returned by DecodeTransaction on malformed bytes.
var ErrInvalidTransaction = errors.New("event: invalid transaction encoding")

// Key addresses a value in the state machine: a prefix (at most 255 bytes,
// owned by its own author list) plus the key within that prefix.
type Key struct {
	Prefix []byte
	Key    []byte
}

// Transaction is the sum type carried in an event's payload. Only the
// fields relevant to Kind are meaningful; see the Kind constants for which
// fields each variant uses.
type Transaction struct {
	Kind Kind

	// KindAddAuthor, KindRemAuthor, KindAddAuthorToPrefix, KindRemAuthorFromPrefix
	Author author.Author

	// KindAddAuthor, KindRemAuthor: the chain block number this mutation
	// targets. A mismatch with the chain's current block is a silent
	// no-op, never an error.
	Block uint64

	// KindSignBlock, KindSignCheckpoint
	Signature crypto.Signature

	// KindInsert, KindRemove, KindCompareAndSwap, KindAddAuthorToPrefix,
	// KindRemAuthorFromPrefix (prefix only, Key.Key unused there)
	Key Key

	// KindInsert: the value to store.
	// KindCompareAndSwap: the proposed new value (NewSet=false means delete).
	Value  []byte
	NewSet bool

	// KindCompareAndSwap: the value the caller expects to currently be
	// stored (OldSet=false means "key must currently be absent").
	Old    []byte
	OldSet bool
}

// AddAuthor builds an AddAuthor transaction.
func AddAuthor(a author.Author, block uint64) Transaction {
	return Transaction{Kind: KindAddAuthor, Author: a, Block: block}
}

// RemAuthor builds a RemAuthor transaction.
func RemAuthor(a author.Author, block uint64) Transaction {
	return Transaction{Kind: KindRemAuthor, Author: a, Block: block}
}

// SignBlock builds a SignBlock transaction.
func SignBlock(sig crypto.Signature) Transaction {
	return Transaction{Kind: KindSignBlock, Signature: sig}
}

// SignCheckpoint builds a SignCheckpoint transaction.
func SignCheckpoint(sig crypto.Signature) Transaction {
	return Transaction{Kind: KindSignCheckpoint, Signature: sig}
}

// Insert builds an Insert transaction.
func Insert(key Key, value []byte) Transaction {
	return Transaction{Kind: KindInsert, Key: key, Value: value, NewSet: true}
}

// Remove builds a Remove transaction.
func Remove(key Key) Transaction {
	return Transaction{Kind: KindRemove, Key: key}
}

// CompareAndSwap builds a CompareAndSwap transaction. old == nil with
// oldSet == false means "key must not currently exist"; new == nil with
// newSet == false means "delete on success".
func CompareAndSwap(key Key, old []byte, oldSet bool, new []byte, newSet bool) Transaction {
	return Transaction{Kind: KindCompareAndSwap, Key: key, Old: old, OldSet: oldSet, Value: new, NewSet: newSet}
}

// AddAuthorToPrefix builds an AddAuthorToPrefix transaction.
func AddAuthorToPrefix(prefix []byte, a author.Author) Transaction {
	return Transaction{Kind: KindAddAuthorToPrefix, Key: Key{Prefix: prefix}, Author: a}
}

// RemAuthorFromPrefix builds a RemAuthorFromPrefix transaction.
func RemAuthorFromPrefix(prefix []byte, a author.Author) Transaction {
	return Transaction{Kind: KindRemAuthorFromPrefix, Key: Key{Prefix: prefix}, Author: a}
}

// Encode returns tx's canonical self-delimiting binary encoding. Multiple
// encoded transactions can be concatenated and decoded back in order with
// DecodeTransaction, which is exactly how a RawEvent's payload and its
// signature preimage are built.
func (tx Transaction) Encode() []byte {
	var buf []byte
	buf = append(buf, byte(tx.Kind))
	switch tx.Kind {
	case KindAddAuthor, KindRemAuthor:
		buf = append(buf, tx.Author[:]...)
		buf = appendUint64(buf, tx.Block)
	case KindSignBlock, KindSignCheckpoint:
		buf = append(buf, tx.Signature[:]...)
	case KindInsert:
		buf = appendKey(buf, tx.Key)
		buf = appendBytes(buf, tx.Value)
	case KindRemove:
		buf = appendKey(buf, tx.Key)
	case KindCompareAndSwap:
		buf = appendKey(buf, tx.Key)
		buf = appendOptionalBytes(buf, tx.Old, tx.OldSet)
		buf = appendOptionalBytes(buf, tx.Value, tx.NewSet)
	case KindAddAuthorToPrefix, KindRemAuthorFromPrefix:
		buf = appendBytes(buf, tx.Key.Prefix)
		buf = append(buf, tx.Author[:]...)
	}
	return buf
}

// DecodeTransaction consumes one transaction's worth of bytes from the
// front of buf, returning the decoded transaction and the remaining bytes.
func DecodeTransaction(buf []byte) (Transaction, []byte, error) {
	if len(buf) < 1 {
		return Transaction{}, nil, ErrInvalidTransaction
	}
	kind := Kind(buf[0])
	buf = buf[1:]
	tx := Transaction{Kind: kind}
	var err error
	switch kind {
	case KindAddAuthor, KindRemAuthor:
		if len(buf) < author.Size+8 {
			return Transaction{}, nil, ErrInvalidTransaction
		}
		copy(tx.Author[:], buf[:author.Size])
		buf = buf[author.Size:]
		tx.Block = binary.BigEndian.Uint64(buf[:8])
		buf = buf[8:]
	case KindSignBlock, KindSignCheckpoint:
		if len(buf) < crypto.SignatureSize {
			return Transaction{}, nil, ErrInvalidTransaction
		}
		copy(tx.Signature[:], buf[:crypto.SignatureSize])
		buf = buf[crypto.SignatureSize:]
	case KindInsert:
		if tx.Key, buf, err = readKey(buf); err != nil {
			return Transaction{}, nil, err
		}
		if tx.Value, buf, err = readBytes(buf); err != nil {
			return Transaction{}, nil, err
		}
		tx.NewSet = true
	case KindRemove:
		if tx.Key, buf, err = readKey(buf); err != nil {
			return Transaction{}, nil, err
		}
	case KindCompareAndSwap:
		if tx.Key, buf, err = readKey(buf); err != nil {
			return Transaction{}, nil, err
		}
		if tx.Old, tx.OldSet, buf, err = readOptionalBytes(buf); err != nil {
			return Transaction{}, nil, err
		}
		if tx.Value, tx.NewSet, buf, err = readOptionalBytes(buf); err != nil {
			return Transaction{}, nil, err
		}
	case KindAddAuthorToPrefix, KindRemAuthorFromPrefix:
		if tx.Key.Prefix, buf, err = readBytes(buf); err != nil {
			return Transaction{}, nil, err
		}
		if len(buf) < author.Size {
			return Transaction{}, nil, ErrInvalidTransaction
		}
		copy(tx.Author[:], buf[:author.Size])
		buf = buf[author.Size:]
	default:
		return Transaction{}, nil, ErrInvalidTransaction
	}
	return tx, buf, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendBytes(buf, value []byte) []byte {
	buf = appendUint64(buf, uint64(len(value)))
	return append(buf, value...)
}

func appendOptionalBytes(buf, value []byte, set bool) []byte {
	if !set {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return appendBytes(buf, value)
}

func appendKey(buf []byte, k Key) []byte {
	buf = append(buf, byte(len(k.Prefix)))
	buf = append(buf, k.Prefix...)
	return appendBytes(buf, k.Key)
}

func readBytes(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 8 {
		return nil, nil, ErrInvalidTransaction
	}
	n := binary.BigEndian.Uint64(buf[:8])
	buf = buf[8:]
	if uint64(len(buf)) < n {
		return nil, nil, ErrInvalidTransaction
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, buf[n:], nil
}

func readOptionalBytes(buf []byte) ([]byte, bool, []byte, error) {
	if len(buf) < 1 {
		return nil, false, nil, ErrInvalidTransaction
	}
	set := buf[0] == 1
	buf = buf[1:]
	if !set {
		return nil, false, buf, nil
	}
	value, rest, err := readBytes(buf)
	return value, true, rest, err
}

func readKey(buf []byte) (Key, []byte, error) {
	if len(buf) < 1 {
		return Key{}, nil, ErrInvalidTransaction
	}
	plen := int(buf[0])
	buf = buf[1:]
	if len(buf) < plen {
		return Key{}, nil, ErrInvalidTransaction
	}
	prefix := make([]byte, plen)
	copy(prefix, buf[:plen])
	buf = buf[plen:]
	key, rest, err := readBytes(buf)
	if err != nil {
		return Key{}, nil, err
	}
	return Key{Prefix: prefix, Key: key}, rest, nil
}
