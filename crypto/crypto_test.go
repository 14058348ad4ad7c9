package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	require.NotNil(t, keys)

	assert.False(t, isZeroKey([KeySize]byte(keys.Public)), "public key should not be zero")
	assert.False(t, isZeroKey(keys.Private), "private key should not be zero")
}

func TestFromSeedDeterministic(t *testing.T) {
	var seed [KeySize]byte
	for i := range seed {
		seed[i] = byte(i + 1)
	}

	a, err := FromSeed(seed)
	require.NoError(t, err)
	b, err := FromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, a.Public, b.Public, "same seed should derive same public key")
}

func TestFromSeedRejectsZeroSeed(t *testing.T) {
	_, err := FromSeed([KeySize]byte{})
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("store and forward")
	sig, err := Sign(message, keys)
	require.NoError(t, err)

	assert.True(t, Verify(message, sig, keys.Public))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("store and forward")
	sig, err := Sign(message, keys)
	require.NoError(t, err)

	for i := range message {
		tampered := make([]byte, len(message))
		copy(tampered, message)
		tampered[i] ^= 0x01

		assert.False(t, Verify(tampered, sig, keys.Public),
			"flipping byte %d should invalidate the signature", i)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	message := []byte("hello")
	sig, err := Sign(message, keys)
	require.NoError(t, err)

	assert.False(t, Verify(message, sig, other.Public))
}

func TestSignEmptyMessage(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = Sign(nil, keys)
	assert.Error(t, err)
}

func TestDeriveSharedSecretSymmetry(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	ab, err := DeriveSharedSecret(alice, bob.Public)
	require.NoError(t, err)
	ba, err := DeriveSharedSecret(bob, alice.Public)
	require.NoError(t, err)

	assert.Equal(t, ab, ba, "both parties should derive the same secret")
	assert.False(t, isZeroKey(ab), "shared secret should not be zero")
}

func TestDeriveSharedSecretDistinctPeers(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)
	carol, err := GenerateKeyPair()
	require.NoError(t, err)

	ab, err := DeriveSharedSecret(alice, bob.Public)
	require.NoError(t, err)
	ac, err := DeriveSharedSecret(alice, carol.Public)
	require.NoError(t, err)

	assert.NotEqual(t, ab, ac, "secrets for different peers should differ")
}

func TestSymmetricRoundTrip(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)
	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	key, err := DeriveSharedSecret(alice, bob.Public)
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	plaintext := []byte("confidential payload")
	ciphertext, err := EncryptSymmetric(plaintext, nonce, key)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	// Bob derives the same key and opens the box.
	peerKey, err := DeriveSharedSecret(bob, alice.Public)
	require.NoError(t, err)

	opened, err := DecryptSymmetric(ciphertext, nonce, peerKey)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	peer, err := GenerateKeyPair()
	require.NoError(t, err)

	key, err := DeriveSharedSecret(keys, peer.Public)
	require.NoError(t, err)
	nonce, err := GenerateNonce()
	require.NoError(t, err)

	ciphertext, err := EncryptSymmetric([]byte("payload"), nonce, key)
	require.NoError(t, err)

	ciphertext[0] ^= 0x01
	_, err = DecryptSymmetric(ciphertext, nonce, key)
	assert.Error(t, err)
}
