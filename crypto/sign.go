package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/coregraph-labs/hashgraph/crypto/ed25519"
)

// SignatureSize is the width, in bytes, of every signature in this system.
const SignatureSize = ed25519.SignatureSize

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// Less orders signatures lexicographically by byte value, used as the
// tertiary tiebreak in the consensus total order (whitened signature).
func (s Signature) Less(other Signature) bool {
	for i := range s {
		if s[i] != other[i] {
			return s[i] < other[i]
		}
	}
	return false
}

// ErrInvalidSignature reports a signature that does not match the claimed
// author and message. Verify itself reports this as a false result rather
// than returning the error.
var ErrInvalidSignature = errors.New("crypto: invalid signature")

// KeyPair is a generated Ed25519 private/public keypair.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// GenerateKeyPair creates a new random Ed25519 keypair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

// Sign signs message with priv and returns the fixed-size signature.
func Sign(priv ed25519.PrivateKey, message []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, message))
	return sig
}

// Verify reports whether sig is a valid signature by pub over message.
func Verify(pub ed25519.PublicKey, message []byte, sig Signature) bool {
	return ed25519.Verify(pub, message, sig[:])
}
