package routing

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/embermesh/emberdht/envelope"
)

// DefaultBroadcastFanout is the number of neighbors a broadcast-style
// message is forwarded to. Policy, not protocol: nodes may tune it.
const DefaultBroadcastFanout = 8

// Router resolves an envelope destination to the set of peers the transport
// should deliver to.
type Router struct {
	table  Table
	self   NodeID
	fanout int
}

// NewRouter creates a router over the given routing-table capability. fanout
// bounds broadcast and neighbor-propagation target sets; pass 0 for the
// default.
func NewRouter(table Table, self NodeID, fanout int) *Router {
	if fanout <= 0 {
		fanout = DefaultBroadcastFanout
	}
	return &Router{table: table, self: self, fanout: fanout}
}

// Resolve returns the peers a message with the given destination should be
// sent to.
//
//   - Unknown: broadcast to the configured fan-out count of neighbors.
//   - PublicKey: direct delivery when the holder is reachable, otherwise
//     neighbor propagation toward peers most likely to know the target.
//   - NodeID: the peers closest to the identifier, the greedy DHT step.
//
// An empty result is not an error; it means this node has nobody to send to.
func (r *Router) Resolve(dest envelope.Destination) ([]Peer, error) {
	switch dest.Kind() {
	case envelope.DestinationUnknown:
		return r.table.ClosestPeers(r.self, r.fanout), nil

	case envelope.DestinationPublicKey:
		raw, _ := dest.PublicKey()
		if len(raw) != 32 {
			return nil, fmt.Errorf("destination public key must be 32 bytes, got %d", len(raw))
		}
		var pk [32]byte
		copy(pk[:], raw)

		if peer, ok := r.table.IsDirectlyReachable(pk); ok {
			return []Peer{peer}, nil
		}

		// Not a direct peer: propagate toward the neighborhood of the
		// target's derived identifier.
		target := NodeIDFromPublicKey(pk)
		peers := r.table.ClosestPeers(target, r.fanout)
		logrus.WithFields(logrus.Fields{
			"target":  target.String(),
			"matches": len(peers),
		}).Debug("Destination not directly reachable, using neighbor propagation")
		return peers, nil

	case envelope.DestinationNodeID:
		raw, _ := dest.NodeID()
		id, err := NodeIDFromBytes(raw)
		if err != nil {
			return nil, err
		}
		return r.table.ClosestPeers(id, r.fanout), nil

	default:
		return nil, fmt.Errorf("invalid destination kind %d", dest.Kind())
	}
}

// Fanout returns the configured broadcast fan-out count.
func (r *Router) Fanout() int {
	return r.fanout
}
