// Package routing decides which peers an outbound envelope is sent to. It
// holds the destination resolution policy and an in-memory neighbor table
// keyed by XOR distance between node identifiers. No network I/O happens
// here; the router only produces target sets for the transport to consume.
package routing

import (
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/embermesh/emberdht/crypto"
)

// NodeIDSize is the size of a node identifier in bytes.
const NodeIDSize = 32

// NodeID identifies a node on the overlay. It is derived from the node's
// identity public key and used for closeness comparisons.
type NodeID [NodeIDSize]byte

// NodeIDFromPublicKey derives a node identifier from an identity public key.
func NodeIDFromPublicKey(publicKey crypto.PublicKey) NodeID {
	return NodeID(blake2b.Sum256(publicKey[:]))
}

// NodeIDFromBytes converts raw identifier bytes from the wire to a NodeID.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != NodeIDSize {
		return NodeID{}, fmt.Errorf("node id must be %d bytes, got %d", NodeIDSize, len(b))
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// String returns a shortened hex form for logging.
func (id NodeID) String() string {
	return fmt.Sprintf("%x", id[:8])
}

// Peer is a reachable node on the overlay: its identifier, identity public
// key, and a transport address string the transport layer knows how to use.
type Peer struct {
	NodeID    NodeID
	PublicKey crypto.PublicKey
	Addr      string
}
