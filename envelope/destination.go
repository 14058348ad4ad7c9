package envelope

import "fmt"

// DestinationKind discriminates the destination variant of a header. Exactly
// one variant is present in any well-formed header.
type DestinationKind int

const (
	// DestinationUnknown marks an envelope with no specific recipient: a
	// broadcast candidate, or a message for whichever node decodes it.
	DestinationUnknown DestinationKind = iota
	// DestinationPublicKey addresses an envelope to the holder of an
	// identity public key.
	DestinationPublicKey
	// DestinationNodeID addresses an envelope to the node whose identifier
	// is numerically closest to the given one.
	DestinationNodeID
)

// Destination is the tagged destination variant carried by a header. The
// zero value is the unknown (broadcast) destination.
type Destination struct {
	kind DestinationKind
	id   []byte
}

// BroadcastDestination returns the unknown/broadcast destination.
func BroadcastDestination() Destination {
	return Destination{kind: DestinationUnknown}
}

// PublicKeyDestination addresses the holder of the given public key.
func PublicKeyDestination(publicKey []byte) Destination {
	return Destination{kind: DestinationPublicKey, id: append([]byte(nil), publicKey...)}
}

// NodeIDDestination addresses the node closest to the given identifier.
func NodeIDDestination(nodeID []byte) Destination {
	return Destination{kind: DestinationNodeID, id: append([]byte(nil), nodeID...)}
}

// Kind returns the destination variant tag.
func (d Destination) Kind() DestinationKind {
	return d.kind
}

// PublicKey returns the destination public key, if that variant is set.
func (d Destination) PublicKey() ([]byte, bool) {
	if d.kind != DestinationPublicKey {
		return nil, false
	}
	return d.id, true
}

// NodeID returns the destination node identifier, if that variant is set.
func (d Destination) NodeID() ([]byte, bool) {
	if d.kind != DestinationNodeID {
		return nil, false
	}
	return d.id, true
}

// String returns a short description for logging.
func (d Destination) String() string {
	switch d.kind {
	case DestinationUnknown:
		return "unknown"
	case DestinationPublicKey:
		return fmt.Sprintf("public_key(%x)", shortID(d.id))
	case DestinationNodeID:
		return fmt.Sprintf("node_id(%x)", shortID(d.id))
	default:
		return "invalid"
	}
}

func (d Destination) clone() Destination {
	return Destination{kind: d.kind, id: append([]byte(nil), d.id...)}
}

func shortID(id []byte) []byte {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
