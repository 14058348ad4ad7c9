// Package crypto implements the cryptographic primitives used by the DHT
// message layer: Ed25519 identity keys and signatures, X25519 key agreement,
// and authenticated symmetric encryption of message bodies.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// KeySize is the size in bytes of public keys and key seeds.
const KeySize = 32

// PublicKey is a node's Ed25519 identity public key.
type PublicKey [KeySize]byte

// KeyPair is a node's long-term identity key pair. Private holds the Ed25519
// seed; the signing key and the X25519 agreement key are both derived from it.
type KeyPair struct {
	Public  PublicKey
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random identity key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var seed [KeySize]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return FromSeed(seed)
}

// FromSeed creates a key pair from an existing 32-byte seed.
func FromSeed(seed [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(seed) {
		return nil, errors.New("invalid seed: all zeros")
	}

	priv := ed25519.NewKeyFromSeed(seed[:])

	kp := &KeyPair{Private: seed}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))

	return kp, nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
