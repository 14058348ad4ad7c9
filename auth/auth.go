// Package auth binds envelopes to their claimed origin. It attaches and
// verifies origin signatures and drives the encrypt/decrypt capability when
// the confidentiality flag is set. Verification failures are results, not
// errors: a hostile peer must never be able to crash or stall the node.
package auth

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/embermesh/emberdht/crypto"
	"github.com/embermesh/emberdht/envelope"
)

// ErrNoIdentity is returned when signing or decrypting without a local
// identity configured. This is a programming-contract violation, the only
// hard failure in this package.
var ErrNoIdentity = errors.New("no local identity configured")

// FailureReason classifies why an envelope failed authentication.
type FailureReason int

const (
	// ReasonNone: the envelope authenticated successfully.
	ReasonNone FailureReason = iota
	// ReasonMissingOrigin: the message type requires an origin and none was
	// present.
	ReasonMissingOrigin
	// ReasonEncryptedWithoutOrigin: the confidentiality flag is set but no
	// origin is attached, so the ciphertext is unattributable.
	ReasonEncryptedWithoutOrigin
	// ReasonAuthenticationFailed: the signature or the decryption check
	// failed.
	ReasonAuthenticationFailed
)

// String returns a diagnostic name for logging.
func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMissingOrigin:
		return "missing origin"
	case ReasonEncryptedWithoutOrigin:
		return "encrypted without origin"
	case ReasonAuthenticationFailed:
		return "authentication failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of verifying an envelope.
type Result struct {
	Authenticated bool
	Reason        FailureReason
}

func failed(reason FailureReason) Result {
	return Result{Reason: reason}
}

var authenticated = Result{Authenticated: true}

// Authenticator signs outbound envelopes with the local identity and
// verifies inbound ones against their claimed origin.
type Authenticator struct {
	identity *crypto.KeyPair
}

// New creates an authenticator. identity may be nil for a verify-only
// instance; signing will then fail with ErrNoIdentity.
func New(identity *crypto.KeyPair) *Authenticator {
	return &Authenticator{identity: identity}
}

// Sign produces the origin for an envelope authored by the local node. The
// header's origin public key is set to the local identity and the signature
// covers the canonical (header-without-signature, body) bytes.
func (a *Authenticator) Sign(header envelope.Header, body []byte) (*envelope.Origin, error) {
	if a.identity == nil {
		return nil, ErrNoIdentity
	}

	header.Origin = &envelope.Origin{PublicKey: a.identity.Public}
	challenge, err := envelope.SignatureChallenge(header, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build signature challenge: %w", err)
	}

	sig, err := crypto.Sign(challenge[:], a.identity)
	if err != nil {
		return nil, fmt.Errorf("failed to sign envelope: %w", err)
	}

	return &envelope.Origin{
		PublicKey: a.identity.Public,
		Signature: sig[:],
	}, nil
}

// Verify checks an inbound envelope against its claimed origin. It enforces
// the presence rules (authenticated message types and encrypted bodies both
// require an origin) and then validates the signature. It never decrypts.
func (a *Authenticator) Verify(env *envelope.Envelope) Result {
	origin := env.Header.Origin

	if origin == nil {
		if env.Header.Flags.IsEncrypted() {
			return failed(ReasonEncryptedWithoutOrigin)
		}
		if env.Header.MessageType.RequiresOrigin() {
			return failed(ReasonMissingOrigin)
		}
		// Unsigned, unencrypted envelope: nothing to verify.
		return authenticated
	}

	if len(origin.Signature) != crypto.SignatureSize {
		return failed(ReasonAuthenticationFailed)
	}

	challenge, err := envelope.SignatureChallenge(env.Header, env.Body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Debug("Failed to rebuild signature challenge")
		return failed(ReasonAuthenticationFailed)
	}

	var sig crypto.Signature
	copy(sig[:], origin.Signature)
	if !crypto.Verify(challenge[:], sig, origin.PublicKey) {
		return failed(ReasonAuthenticationFailed)
	}

	return authenticated
}

// OpenBody verifies the envelope and returns its plaintext body:
// verify-then-decrypt, never the reverse. Plaintext is only materialized
// after the signature checks out, so attacker-controlled ciphertext is never
// processed unauthenticated. For unencrypted envelopes the body is returned
// as-is after verification.
func (a *Authenticator) OpenBody(env *envelope.Envelope) ([]byte, Result) {
	result := a.Verify(env)
	if !result.Authenticated {
		return nil, result
	}

	if !env.Header.Flags.IsEncrypted() {
		return env.Body, result
	}

	// Verify guarantees origin is present for encrypted envelopes.
	if a.identity == nil {
		logrus.Warn("Cannot decrypt without a local identity")
		return nil, failed(ReasonAuthenticationFailed)
	}

	plaintext, err := a.decryptBody(env.Body, env.Header.Origin.PublicKey)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"origin": fmt.Sprintf("%x", env.Header.Origin.PublicKey[:8]),
			"error":  err.Error(),
		}).Debug("Failed to decrypt envelope body")
		return nil, failed(ReasonAuthenticationFailed)
	}

	return plaintext, result
}

// SealBody encrypts a plaintext body for the holder of recipientKey. The
// returned bytes are the nonce followed by the ciphertext.
func (a *Authenticator) SealBody(plaintext []byte, recipientKey crypto.PublicKey) ([]byte, error) {
	if a.identity == nil {
		return nil, ErrNoIdentity
	}

	key, err := crypto.DeriveSharedSecret(a.identity, recipientKey)
	if err != nil {
		return nil, err
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, err
	}

	ciphertext, err := crypto.EncryptSymmetric(plaintext, nonce, key)
	if err != nil {
		return nil, err
	}

	body := make([]byte, 0, crypto.NonceSize+len(ciphertext))
	body = append(body, nonce[:]...)
	body = append(body, ciphertext...)
	return body, nil
}

func (a *Authenticator) decryptBody(body []byte, originKey crypto.PublicKey) ([]byte, error) {
	if len(body) <= crypto.NonceSize {
		return nil, errors.New("encrypted body too short")
	}

	key, err := crypto.DeriveSharedSecret(a.identity, originKey)
	if err != nil {
		return nil, err
	}

	var nonce crypto.Nonce
	copy(nonce[:], body[:crypto.NonceSize])
	return crypto.DecryptSymmetric(body[crypto.NonceSize:], nonce, key)
}

// Identity returns the local identity public key, if one is configured.
func (a *Authenticator) Identity() (crypto.PublicKey, bool) {
	if a.identity == nil {
		return crypto.PublicKey{}, false
	}
	return a.identity.Public, true
}
