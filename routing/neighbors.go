package routing

import (
	"container/heap"
	"sync"
)

// DefaultBucketSize is the maximum number of peers kept per distance bucket.
const DefaultBucketSize = 8

// bucket holds the peers within one distance range, most recently seen last.
type bucket struct {
	peers   []Peer
	maxSize int
}

// add inserts or refreshes a peer. A refreshed peer moves to the end. Returns
// false when the bucket is full and the peer is not already present.
func (b *bucket) add(p Peer) bool {
	for i, existing := range b.peers {
		if existing.NodeID == p.NodeID {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			b.peers = append(b.peers, p)
			return true
		}
	}

	if len(b.peers) < b.maxSize {
		b.peers = append(b.peers, p)
		return true
	}
	return false
}

func (b *bucket) remove(id NodeID) bool {
	for i, existing := range b.peers {
		if existing.NodeID == id {
			b.peers = append(b.peers[:i], b.peers[i+1:]...)
			return true
		}
	}
	return false
}

// NeighborTable is an in-memory Table implementation bucketed by XOR
// distance from the local node.
type NeighborTable struct {
	mu       sync.RWMutex
	buckets  [NodeIDSize * 8]*bucket
	byPubKey map[[32]byte]Peer
	self     NodeID
}

// NewNeighborTable creates a neighbor table for the node with the given
// identifier.
func NewNeighborTable(self NodeID, bucketSize int) *NeighborTable {
	if bucketSize <= 0 {
		bucketSize = DefaultBucketSize
	}

	nt := &NeighborTable{
		byPubKey: make(map[[32]byte]Peer),
		self:     self,
	}
	for i := range nt.buckets {
		nt.buckets[i] = &bucket{maxSize: bucketSize}
	}
	return nt
}

// AddPeer inserts or refreshes a peer. The local node itself is never added.
// Returns false if the peer's bucket is full.
func (nt *NeighborTable) AddPeer(p Peer) bool {
	if p.NodeID == nt.self {
		return false
	}

	nt.mu.Lock()
	defer nt.mu.Unlock()

	idx := bucketIndex(DistanceBetween(nt.self, p.NodeID))
	if !nt.buckets[idx].add(p) {
		return false
	}
	nt.byPubKey[p.PublicKey] = p
	return true
}

// RemovePeer drops a peer from the table, if present.
func (nt *NeighborTable) RemovePeer(id NodeID) bool {
	nt.mu.Lock()
	defer nt.mu.Unlock()

	idx := bucketIndex(DistanceBetween(nt.self, id))
	for _, p := range nt.buckets[idx].peers {
		if p.NodeID == id {
			delete(nt.byPubKey, p.PublicKey)
			break
		}
	}
	return nt.buckets[idx].remove(id)
}

// Len returns the number of peers currently held.
func (nt *NeighborTable) Len() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return len(nt.byPubKey)
}

// peerHeap is a max-heap by distance to a target, keeping the k closest
// peers while scanning the table.
type peerHeap struct {
	peers     []Peer
	distances []Distance
	target    NodeID
}

func (h *peerHeap) Len() int { return len(h.peers) }

func (h *peerHeap) Less(i, j int) bool {
	// Max-heap: i sorts first when it is farther than j.
	return !h.distances[i].Less(h.distances[j])
}

func (h *peerHeap) Swap(i, j int) {
	h.peers[i], h.peers[j] = h.peers[j], h.peers[i]
	h.distances[i], h.distances[j] = h.distances[j], h.distances[i]
}

func (h *peerHeap) Push(x interface{}) {
	p := x.(Peer)
	h.peers = append(h.peers, p)
	h.distances = append(h.distances, DistanceBetween(p.NodeID, h.target))
}

func (h *peerHeap) Pop() interface{} {
	n := len(h.peers)
	p := h.peers[n-1]
	h.peers = h.peers[:n-1]
	h.distances = h.distances[:n-1]
	return p
}

// ClosestPeers implements Table. It returns up to count peers closest to
// target, closest first.
func (nt *NeighborTable) ClosestPeers(target NodeID, count int) []Peer {
	nt.mu.RLock()
	defer nt.mu.RUnlock()

	if count <= 0 {
		return nil
	}

	h := &peerHeap{
		peers:     make([]Peer, 0, count),
		distances: make([]Distance, 0, count),
		target:    target,
	}

	for _, b := range nt.buckets {
		for _, p := range b.peers {
			if len(h.peers) < count {
				heap.Push(h, p)
				continue
			}
			dist := DistanceBetween(p.NodeID, target)
			if dist.Less(h.distances[0]) {
				heap.Pop(h)
				heap.Push(h, p)
			}
		}
	}

	// Popping a max-heap yields farthest first; fill the result backwards
	// to get closest first.
	result := make([]Peer, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(Peer)
	}
	return result
}

// IsDirectlyReachable implements Table.
func (nt *NeighborTable) IsDirectlyReachable(publicKey [32]byte) (Peer, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()

	p, ok := nt.byPubKey[publicKey]
	return p, ok
}
