/*
Package sign implements the cryptographic primitives used by the protocol:
ED25519 key generation, signing and verification, the Digest type, and a
SignatureService that keeps the private key behind a request/response boundary.
*/
package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

var (
	// ErrInvalidPublicKey is returned when a public key has the wrong length.
	ErrInvalidPublicKey = errors.New("invalid ed25519 public key")
)

// GenED25519Keys generates a pair of ED25519 keys.
func GenED25519Keys() (ed25519.PrivateKey, ed25519.PublicKey) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return privKey, pubKey
}

// SignEd25519 signs the data with the private key.
func SignEd25519(privateKey ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(privateKey, data)
}

// VerifySignEd25519 verifies the signature of the data with the public key.
func VerifySignEd25519(publicKey ed25519.PublicKey, data, sig []byte) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, ErrInvalidPublicKey
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(publicKey, data, sig), nil
}
