// Package envelope defines the wire unit exchanged between peers on the DHT
// overlay: a header carrying routing and authentication metadata, plus an
// opaque body. The codec is a tag-length-value binary format with stable
// field numbers, so nodes running different protocol versions can still
// exchange envelopes field-for-field.
package envelope

import (
	"github.com/embermesh/emberdht/crypto"
)

// ProtocolVersion is the envelope version this node speaks. Envelopes with a
// higher version are dropped as unsupported.
const ProtocolVersion uint32 = 1

// MessageType classifies an envelope for dispatch. The zero value None marks
// a pass-through application payload that is opaque to this layer.
type MessageType uint32

const (
	MessageTypeNone MessageType = iota
	MessageTypeJoin
	MessageTypeDiscovery
	MessageTypeDiscoveryResponse
	MessageTypeReject
	MessageTypeStoreForwardRequest
	MessageTypeStoreForwardResponse

	maxMessageType = MessageTypeStoreForwardResponse
)

// String returns a human-readable name for logging.
func (t MessageType) String() string {
	switch t {
	case MessageTypeNone:
		return "none"
	case MessageTypeJoin:
		return "join"
	case MessageTypeDiscovery:
		return "discovery"
	case MessageTypeDiscoveryResponse:
		return "discovery-response"
	case MessageTypeReject:
		return "reject"
	case MessageTypeStoreForwardRequest:
		return "store-forward-request"
	case MessageTypeStoreForwardResponse:
		return "store-forward-response"
	default:
		return "unknown"
	}
}

// RequiresOrigin reports whether envelopes of this type must carry an
// authenticated origin.
func (t MessageType) RequiresOrigin() bool {
	switch t {
	case MessageTypeJoin, MessageTypeDiscovery, MessageTypeDiscoveryResponse:
		return true
	default:
		return false
	}
}

// Network tags an envelope with the environment it belongs to. Envelopes
// whose network does not match the local node's are dropped silently.
type Network uint32

const (
	NetworkMain Network = iota
	NetworkTest
	NetworkLocalTest
)

// String returns a human-readable name for logging.
func (n Network) String() string {
	switch n {
	case NetworkMain:
		return "mainnet"
	case NetworkTest:
		return "testnet"
	case NetworkLocalTest:
		return "localtest"
	default:
		return "unknown"
	}
}

// Flags is the header bit field. Bits other than FlagEncrypted are reserved
// and must be zero.
type Flags uint32

// FlagEncrypted marks the body as ciphertext. Encrypted envelopes must carry
// an origin so the destination can run key agreement against it.
const FlagEncrypted Flags = 1 << 0

// IsEncrypted reports whether the encrypted bit is set.
func (f Flags) IsEncrypted() bool {
	return f&FlagEncrypted != 0
}

// Origin identifies the claimed author of an envelope. The signature covers
// the canonical serialization of the header (with the signature field itself
// zeroed) concatenated with the body, so header tampering is detectable.
type Origin struct {
	PublicKey crypto.PublicKey
	Signature []byte
}

// Header carries per-envelope metadata.
type Header struct {
	Version     uint32
	Destination Destination
	Origin      *Origin
	MessageType MessageType
	Network     Network
	Flags       Flags
}

// Envelope is the unit exchanged over the transport: one envelope per
// transport frame.
type Envelope struct {
	Header Header
	Body   []byte
}

// Clone returns a deep copy of the header. Stored copies must never alias
// the envelope that delivered them.
func (h Header) Clone() Header {
	c := h
	c.Destination = h.Destination.clone()
	if h.Origin != nil {
		origin := Origin{PublicKey: h.Origin.PublicKey}
		origin.Signature = append([]byte(nil), h.Origin.Signature...)
		c.Origin = &origin
	}
	return c
}
