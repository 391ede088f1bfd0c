// Package ed25519 re-exports the standard library's Ed25519 primitive under
// the project's crypto tree, so call sites never import crypto/ed25519
// directly and a future accelerated backend can be swapped in behind this
// package without touching callers.
package ed25519

import (
	stded25519 "crypto/ed25519"
	"io"
)

const (
	PublicKeySize  = stded25519.PublicKeySize
	PrivateKeySize = stded25519.PrivateKeySize
	SignatureSize  = stded25519.SignatureSize
	SeedSize       = stded25519.SeedSize
)

type (
	PublicKey  = stded25519.PublicKey
	PrivateKey = stded25519.PrivateKey
)

func GenerateKey(rand io.Reader) (PublicKey, PrivateKey, error) {
	return stded25519.GenerateKey(rand)
}

func NewKeyFromSeed(seed []byte) PrivateKey {
	return stded25519.NewKeyFromSeed(seed)
}

func Sign(privateKey PrivateKey, message []byte) []byte {
	return stded25519.Sign(privateKey, message)
}

func Verify(publicKey PublicKey, message []byte, sig []byte) bool {
	return stded25519.Verify(publicKey, message, sig)
}

func PublicFromPrivate(privateKey PrivateKey) PublicKey {
	pub, ok := stded25519.PrivateKey(privateKey).Public().(stded25519.PublicKey)
	if !ok {
		return nil
	}
	return PublicKey(pub)
}
