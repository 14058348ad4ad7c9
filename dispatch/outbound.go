package dispatch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/embermesh/emberdht/crypto"
	"github.com/embermesh/emberdht/envelope"
)

// ErrNoRoute is returned when the router resolves an empty target set for an
// outbound message.
var ErrNoRoute = errors.New("no route to destination")

// SendOptions controls outbound envelope construction.
type SendOptions struct {
	// Encrypt seals the body for Recipient and sets the confidentiality
	// flag. Encrypted envelopes are always signed: ciphertext must be
	// attributable.
	Encrypt   bool
	Recipient crypto.PublicKey

	// Sign attaches an origin even for message types that do not require
	// one.
	Sign bool
}

// Send wraps a payload in an envelope, signs and encrypts it as requested,
// resolves the destination to a target set, and hands the bytes to the
// transport. The message tag only exists for log correlation; it never goes
// on the wire.
func (d *Dispatcher) Send(dest envelope.Destination, messageType envelope.MessageType,
	body []byte, opts SendOptions,
) error {
	tag := uuid.New()

	header := envelope.Header{
		Version:     envelope.ProtocolVersion,
		Destination: dest,
		MessageType: messageType,
		Network:     d.network,
	}

	if opts.Encrypt {
		sealed, err := d.auth.SealBody(body, opts.Recipient)
		if err != nil {
			return fmt.Errorf("failed to seal body: %w", err)
		}
		body = sealed
		header.Flags |= envelope.FlagEncrypted
	}

	if opts.Encrypt || opts.Sign || messageType.RequiresOrigin() {
		origin, err := d.auth.Sign(header, body)
		if err != nil {
			return fmt.Errorf("failed to sign envelope: %w", err)
		}
		header.Origin = origin
	}

	wire, err := envelope.Marshal(&envelope.Envelope{Header: header, Body: body})
	if err != nil {
		return err
	}

	// Remember our own envelope so a neighbor echoing it back is dropped as
	// a duplicate instead of being re-processed.
	d.markSeen(blake2b.Sum256(wire))

	targets, err := d.router.Resolve(dest)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return ErrNoRoute
	}

	sent := 0
	for _, peer := range targets {
		if err := d.transport.Send(peer, wire); err != nil {
			logrus.WithFields(logrus.Fields{
				"tag":   tag.String(),
				"peer":  peer.NodeID.String(),
				"error": err.Error(),
			}).Debug("Send to peer failed")
			continue
		}
		sent++
	}

	logrus.WithFields(logrus.Fields{
		"tag":          tag.String(),
		"message_type": messageType.String(),
		"destination":  dest.String(),
		"targets":      len(targets),
		"sent":         sent,
	}).Debug("Outbound message dispatched")

	if sent == 0 {
		return ErrNoRoute
	}
	return nil
}

// Broadcast sends an application payload to the configured fan-out count of
// neighbors.
func (d *Dispatcher) Broadcast(body []byte) error {
	return d.Send(envelope.BroadcastDestination(), envelope.MessageTypeNone, body, SendOptions{})
}
