package transport

import (
	"sync"

	"github.com/embermesh/emberdht/routing"
)

// MemoryNetwork connects MemoryTransport endpoints in-process, addressed by
// node identifier. Delivery is synchronous in the sender's goroutine, which
// keeps tests deterministic.
type MemoryNetwork struct {
	mu    sync.RWMutex
	nodes map[routing.NodeID]*MemoryTransport
}

// NewMemoryNetwork creates an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[routing.NodeID]*MemoryTransport)}
}

// Attach creates a transport endpoint for the given peer identity.
func (n *MemoryNetwork) Attach(self routing.Peer) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	mt := &MemoryTransport{network: n, self: self}
	n.nodes[self.NodeID] = mt
	return mt
}

func (n *MemoryNetwork) lookup(id routing.NodeID) (*MemoryTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	mt, ok := n.nodes[id]
	return mt, ok
}

func (n *MemoryNetwork) detach(id routing.NodeID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, id)
}

// MemoryTransport is a Transport connected to a MemoryNetwork.
type MemoryTransport struct {
	network *MemoryNetwork
	self    routing.Peer

	mu      sync.RWMutex
	handler Handler
	closed  bool
}

// Send implements Transport.
func (t *MemoryTransport) Send(peer routing.Peer, data []byte) error {
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	target, ok := t.network.lookup(peer.NodeID)
	if !ok {
		return ErrPeerUnreachable
	}

	target.mu.RLock()
	handler := target.handler
	targetClosed := target.closed
	target.mu.RUnlock()

	if targetClosed || handler == nil {
		return ErrPeerUnreachable
	}

	// Hand the receiver its own copy; the sender may reuse the buffer.
	frame := append([]byte(nil), data...)
	handler(t.self, frame)
	return nil
}

// SetHandler implements Transport.
func (t *MemoryTransport) SetHandler(handler Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.network.detach(t.self.NodeID)
	return nil
}

// Self returns the peer identity this endpoint was attached with.
func (t *MemoryTransport) Self() routing.Peer {
	return t.self
}
