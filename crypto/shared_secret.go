package crypto

import (
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// DeriveSharedSecret computes a symmetric key shared between the local
// identity and a peer, using X25519 over keys converted from their Ed25519
// form. Both sides derive the same key, so a message body encrypted by the
// origin can be opened by the destination without any extra handshake.
//
// The raw Diffie-Hellman output is hashed with BLAKE2b-256 before use as a
// cipher key.
func DeriveSharedSecret(local *KeyPair, peerPublicKey PublicKey) ([KeySize]byte, error) {
	if local == nil {
		return [KeySize]byte{}, fmt.Errorf("nil local key pair")
	}

	logrus.WithFields(logrus.Fields{
		"function":        "DeriveSharedSecret",
		"peer_key_prefix": fmt.Sprintf("%x", peerPublicKey[:8]),
	}).Debug("Computing shared secret")

	// X25519 scalar for the local identity: the standard Ed25519 seed
	// expansion with clamping.
	h := sha512.Sum512(local.Private[:])
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	scalar := h[:KeySize]

	// Convert the peer's Edwards-form public key to its Montgomery form.
	point, err := new(edwards25519.Point).SetBytes(peerPublicKey[:])
	if err != nil {
		return [KeySize]byte{}, fmt.Errorf("invalid peer public key: %w", err)
	}
	montgomery := point.BytesMontgomery()

	raw, err := noise.DH25519.DH(scalar, montgomery)
	if err != nil {
		ZeroBytes(scalar)
		return [KeySize]byte{}, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	key := blake2b.Sum256(raw)

	ZeroBytes(scalar)
	ZeroBytes(raw)

	return key, nil
}

// ZeroBytes overwrites a byte slice with zeros. Used to wipe key material
// once it is no longer needed.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
