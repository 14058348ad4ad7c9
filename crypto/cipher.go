package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize is the size of a symmetric encryption nonce in bytes.
const NonceSize = 24

// Nonce is a random value used once per encryption.
type Nonce [NonceSize]byte

// MaxPlaintextSize bounds the plaintext accepted for encryption (1MB), to
// prevent excessive memory usage.
const MaxPlaintextSize = 1024 * 1024

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// EncryptSymmetric encrypts a message with an authenticated symmetric cipher
// (NaCl secretbox) under the given key.
func EncryptSymmetric(message []byte, nonce Nonce, key [KeySize]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}
	if len(message) > MaxPlaintextSize {
		return nil, errors.New("message too large")
	}

	return secretbox.Seal(nil, message, (*[NonceSize]byte)(&nonce), (*[KeySize]byte)(&key)), nil
}

// DecryptSymmetric opens a message sealed by EncryptSymmetric. It fails if
// the ciphertext was tampered with or the key is wrong.
func DecryptSymmetric(ciphertext []byte, nonce Nonce, key [KeySize]byte) ([]byte, error) {
	if len(ciphertext) < secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}

	plaintext, ok := secretbox.Open(nil, ciphertext, (*[NonceSize]byte)(&nonce), (*[KeySize]byte)(&key))
	if !ok {
		return nil, errors.New("decryption failed")
	}

	return plaintext, nil
}
