// Package state implements the authenticated, ACL-guarded key-value tree:
// every key lives under a one-byte-length-prefixed owner group, writes by
// non-members are rejected, and an empty owner list is claimed by its
// first writer.
package state

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/coregraph-labs/hashgraph/author"
	"github.com/coregraph-labs/hashgraph/event"
	"github.com/coregraph-labs/hashgraph/tosdb"
)

// ErrPermission is returned when a non-member author attempts to mutate a
// prefix that already has an owner list, and by RemAuthorFromPrefix on a
// prefix that has no owners.
var ErrPermission = errors.New("state: permission denied")

// ErrInvalidKey is returned for a key whose prefix exceeds 255 bytes.
var ErrInvalidKey = errors.New("state: invalid key")

// CompareAndSwapError reports the mismatch a CompareAndSwap transaction
// found between its expected and actual current value.
type CompareAndSwapError struct {
	Current     []byte
	CurrentSet  bool
	Proposed    []byte
	ProposedSet bool
}

func (e *CompareAndSwapError) Error() string {
	return fmt.Sprintf("state: compare-and-swap failed: current=%x proposed=%x", e.Current, e.Proposed)
}

const (
	valuePrefix = 'v'
	aclPrefix   = 'a'
)

// Machine is the ACL-guarded key-value state machine. It persists both
// values and per-prefix owner lists in the same tosdb.Database namespace,
// distinguished by a leading tag byte.
type Machine struct {
	db tosdb.Database
}

// New returns a Machine backed by db.
func New(db tosdb.Database) *Machine {
	return &Machine{db: db}
}

// DB returns the machine's backing store, for the checkpoint package's
// deterministic dump/restore walk.
func (m *Machine) DB() tosdb.Database { return m.db }

// Clear erases every stored value and owner list, for checkpoint import to
// reset the tree before replaying an imported one.
func (m *Machine) Clear() error {
	it := m.db.NewIterator(nil, nil)
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte{}, it.Key()...))
	}
	it.Release()
	for _, k := range keys {
		if err := m.db.Delete(k); err != nil {
			return err
		}
	}
	return m.db.Flush()
}

func valueKey(k event.Key) ([]byte, error) {
	if len(k.Prefix) > 255 {
		return nil, ErrInvalidKey
	}
	buf := make([]byte, 0, 2+len(k.Prefix)+len(k.Key))
	buf = append(buf, valuePrefix, byte(len(k.Prefix)))
	buf = append(buf, k.Prefix...)
	buf = append(buf, k.Key...)
	return buf, nil
}

func aclKey(prefix []byte) ([]byte, error) {
	if len(prefix) > 255 {
		return nil, ErrInvalidKey
	}
	buf := make([]byte, 0, 2+len(prefix))
	buf = append(buf, aclPrefix, byte(len(prefix)))
	buf = append(buf, prefix...)
	return buf, nil
}

// Owners returns the author list currently owning prefix. An empty,
// non-error result means the prefix has no owner yet: any author may
// claim it with the next write.
func (m *Machine) Owners(prefix []byte) (author.List, error) {
	key, err := aclKey(prefix)
	if err != nil {
		return nil, err
	}
	data, err := m.db.Get(key)
	if err != nil || len(data) == 0 {
		return nil, nil
	}
	return decodeAuthorList(data), nil
}

func (m *Machine) writeOwners(prefix []byte, owners author.List) error {
	key, err := aclKey(prefix)
	if err != nil {
		return err
	}
	return m.db.Put(key, encodeAuthorList(owners))
}

// checkACL returns the prefix's current owner list and an error if a is
// not permitted to mutate it (i.e. the list is non-empty and a is absent).
func (m *Machine) checkACL(prefix []byte, a author.Author) (author.List, error) {
	owners, err := m.Owners(prefix)
	if err != nil {
		return nil, err
	}
	if len(owners) > 0 && !owners.Contains(a) {
		return owners, ErrPermission
	}
	return owners, nil
}

// claimIfUnowned writes a as prefix's sole owner if owners was empty,
// implementing the "first writer becomes sole owner" rule.
func (m *Machine) claimIfUnowned(prefix []byte, owners author.List, a author.Author) error {
	if len(owners) > 0 {
		return nil
	}
	return m.writeOwners(prefix, author.List{a})
}

// Get returns the value stored at key, if any.
func (m *Machine) Get(key event.Key) ([]byte, bool, error) {
	vk, err := valueKey(key)
	if err != nil {
		return nil, false, err
	}
	ok, err := m.db.Has(vk)
	if err != nil || !ok {
		return nil, false, err
	}
	v, err := m.db.Get(vk)
	return v, err == nil, err
}

// Insert stores value at key, failing with ErrPermission if a does not own
// key's prefix.
func (m *Machine) Insert(a author.Author, key event.Key, value []byte) error {
	owners, err := m.checkACL(key.Prefix, a)
	if err != nil {
		return err
	}
	vk, err := valueKey(key)
	if err != nil {
		return err
	}
	if err := m.db.Put(vk, value); err != nil {
		return err
	}
	return m.claimIfUnowned(key.Prefix, owners, a)
}

// Remove deletes the value stored at key, failing with ErrPermission if a
// does not own key's prefix.
func (m *Machine) Remove(a author.Author, key event.Key) error {
	owners, err := m.checkACL(key.Prefix, a)
	if err != nil {
		return err
	}
	vk, err := valueKey(key)
	if err != nil {
		return err
	}
	if err := m.db.Delete(vk); err != nil {
		return err
	}
	return m.claimIfUnowned(key.Prefix, owners, a)
}

// CompareAndSwap atomically replaces key's value with new (or deletes it,
// if newSet is false) iff the current value matches old (or is absent, if
// oldSet is false). On mismatch it returns a *CompareAndSwapError carrying
// the actual current value and the value that was proposed.
func (m *Machine) CompareAndSwap(a author.Author, key event.Key, old []byte, oldSet bool, new []byte, newSet bool) error {
	owners, err := m.checkACL(key.Prefix, a)
	if err != nil {
		return err
	}
	current, curSet, err := m.Get(key)
	if err != nil {
		return err
	}
	if curSet != oldSet || (oldSet && !bytes.Equal(current, old)) {
		return &CompareAndSwapError{Current: current, CurrentSet: curSet, Proposed: new, ProposedSet: newSet}
	}
	vk, err := valueKey(key)
	if err != nil {
		return err
	}
	if newSet {
		if err := m.db.Put(vk, new); err != nil {
			return err
		}
	} else {
		if err := m.db.Delete(vk); err != nil {
			return err
		}
	}
	return m.claimIfUnowned(key.Prefix, owners, a)
}

// AddAuthorToPrefix adds target to prefix's owner list, failing with
// ErrPermission if a does not already own prefix. An unowned prefix is
// open: the call goes through and target becomes its sole owner; the
// caller gains nothing unless it named itself as target.
func (m *Machine) AddAuthorToPrefix(a author.Author, prefix []byte, target author.Author) error {
	owners, err := m.checkACL(prefix, a)
	if err != nil {
		return err
	}
	next := owners.Clone()
	if !next.Contains(target) {
		next = append(next, target)
	}
	return m.writeOwners(prefix, next)
}

// RemAuthorFromPrefix removes target from prefix's owner list, failing
// with ErrPermission if a does not own prefix. An unowned prefix has no
// members to remove and no owners to authorize the call, so it is always
// ErrPermission.
func (m *Machine) RemAuthorFromPrefix(a author.Author, prefix []byte, target author.Author) error {
	owners, err := m.Owners(prefix)
	if err != nil {
		return err
	}
	if !owners.Contains(a) {
		return ErrPermission
	}
	next := owners.Clone()
	for i, o := range next {
		if o == target {
			next = append(next[:i], next[i+1:]...)
			break
		}
	}
	return m.writeOwners(prefix, next)
}

// Commit dispatches tx to the matching Machine method using a as the
// submitting author. It only handles the KV-shaped transaction kinds
// (Insert, Remove, CompareAndSwap, AddAuthorToPrefix, RemAuthorFromPrefix);
// author-chain and checkpoint transaction kinds are the coordinator's
// responsibility to route elsewhere, and are a no-op here.
func (m *Machine) Commit(a author.Author, tx event.Transaction) error {
	switch tx.Kind {
	case event.KindInsert:
		return m.Insert(a, tx.Key, tx.Value)
	case event.KindRemove:
		return m.Remove(a, tx.Key)
	case event.KindCompareAndSwap:
		return m.CompareAndSwap(a, tx.Key, tx.Old, tx.OldSet, tx.Value, tx.NewSet)
	case event.KindAddAuthorToPrefix:
		return m.AddAuthorToPrefix(a, tx.Key.Prefix, tx.Author)
	case event.KindRemAuthorFromPrefix:
		return m.RemAuthorFromPrefix(a, tx.Key.Prefix, tx.Author)
	default:
		return nil
	}
}

func encodeAuthorList(list author.List) []byte {
	buf := make([]byte, 0, len(list)*author.Size)
	for _, a := range list {
		buf = append(buf, a[:]...)
	}
	return buf
}

func decodeAuthorList(data []byte) author.List {
	n := len(data) / author.Size
	out := make(author.List, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], data[i*author.Size:(i+1)*author.Size])
	}
	return out
}
