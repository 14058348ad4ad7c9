// Package transport defines the boundary between the DHT message core and
// whatever actually moves bytes between peers. The core never performs
// network I/O: it hands encoded envelopes to a Transport and receives raw
// inbound frames through a handler. An in-memory implementation is provided
// for tests and local simulation.
package transport

import (
	"errors"

	"github.com/embermesh/emberdht/routing"
)

// ErrClosed is returned by Send after the transport has been shut down.
var ErrClosed = errors.New("transport closed")

// ErrPeerUnreachable is returned when the transport has no way to deliver
// to the requested peer.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Handler processes one inbound frame from a peer. Implementations must not
// block; heavy work belongs on the dispatcher's worker pool.
type Handler func(from routing.Peer, data []byte)

// Transport delivers encoded envelopes between peers, one envelope per
// frame.
type Transport interface {
	// Send enqueues data for delivery to the peer. It must not block on
	// network I/O.
	Send(peer routing.Peer, data []byte) error

	// SetHandler registers the sink for inbound frames. Must be called
	// before traffic flows; later calls replace the handler.
	SetHandler(handler Handler)

	// Close shuts the transport down and releases its resources.
	Close() error
}
