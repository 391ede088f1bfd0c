package author

import (
	"crypto/rand"
	"errors"
	"os"
	"runtime"

	"github.com/coregraph-labs/hashgraph/crypto/ed25519"
	"github.com/google/uuid"
)

// fileSize is the width of a persisted identity file: a 32-byte Ed25519
// seed followed by its 32-byte derived public key.
const fileSize = ed25519.SeedSize + ed25519.PublicKeySize

// identityNamespace seeds the deterministic local id derived from each
// identity's public key (see Identity.Id); it is an arbitrary fixed value,
// not a secret.
var identityNamespace = uuid.MustParse("b9c7d9f0-7b7e-4c6e-9c1a-2a7e6f5d8a31")

// ErrCorruptIdentity is returned by LoadIdentity when the file is not
// exactly fileSize bytes, or its stored public key does not match the one
// derived from its stored seed.
var ErrCorruptIdentity = errors.New("author: corrupt identity file")

// Identity is a participant's keypair. It is produced once by
// GenerateIdentity and is never meant to be copied across nodes: the
// Author it derives is that node's unique voice in the gossip graph.
type Identity struct {
	Seed    [ed25519.SeedSize]byte
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey

	// Id is a local identifier derived deterministically from Public, used
	// only for bookkeeping (log lines, on-disk file naming by a host
	// process). Derived rather than stored, so the persisted keypair file
	// stays exactly 64 bytes.
	Id uuid.UUID
}

// Author returns the public identity this keypair authenticates as.
func (id *Identity) Author() Author {
	return FromPublicKey(id.Public)
}

// GenerateIdentity creates a fresh random keypair. It does not persist
// anything to disk; call Save to do so.
func GenerateIdentity() (*Identity, error) {
	var seed [ed25519.SeedSize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return identityFromSeed(seed), nil
}

func identityFromSeed(seed [ed25519.SeedSize]byte) *Identity {
	priv := ed25519.NewKeyFromSeed(seed[:])
	pub := ed25519.PublicFromPrivate(priv)
	return &Identity{
		Seed:    seed,
		Private: priv,
		Public:  pub,
		Id:      uuid.NewSHA1(identityNamespace, pub),
	}
}

// Save persists the identity to path as a raw 64-byte file (seed ∥ public
// key). The file is created with owner-only permissions; on platforms
// that honor POSIX mode bits this is enforced with an explicit Chmod
// after writing.
func (id *Identity) Save(path string) error {
	buf := make([]byte, 0, fileSize)
	buf = append(buf, id.Seed[:]...)
	buf = append(buf, id.Public...)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, 0o600); err != nil {
			return err
		}
	}
	return nil
}

// LoadIdentity reads and validates an identity file written by Save.
func LoadIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) != fileSize {
		return nil, ErrCorruptIdentity
	}
	var seed [ed25519.SeedSize]byte
	copy(seed[:], data[:ed25519.SeedSize])
	pub := data[ed25519.SeedSize:]
	id := identityFromSeed(seed)
	if !equalBytes(id.Public, pub) {
		return nil, ErrCorruptIdentity
	}
	return id, nil
}

// LoadOrGenerateIdentity loads the identity at path, generating and saving
// a fresh one if the file does not exist yet. This is the usual entry
// point for a node starting up for the first time.
func LoadOrGenerateIdentity(path string) (*Identity, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadIdentity(path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	return id, nil
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
