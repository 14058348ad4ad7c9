package crypto

import (
	"crypto/ed25519"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature is an Ed25519 signature over a message digest.
type Signature [SignatureSize]byte

// Sign creates an Ed25519 signature for a message using the key pair's seed.
func Sign(message []byte, keys *KeyPair) (Signature, error) {
	if keys == nil {
		return Signature{}, errors.New("nil key pair")
	}
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	priv := ed25519.NewKeyFromSeed(keys.Private[:])

	var sig Signature
	copy(sig[:], ed25519.Sign(priv, message))

	return sig, nil
}

// Verify checks whether sig is a valid signature over message by publicKey.
func Verify(message []byte, sig Signature, publicKey PublicKey) bool {
	if len(message) == 0 {
		return false
	}
	return ed25519.Verify(publicKey[:], message, sig[:])
}
