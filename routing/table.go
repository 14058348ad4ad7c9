package routing

// Table is the routing-table capability the router consumes. Discovery and
// routing-table maintenance live outside this core; any implementation that
// can answer these two queries can be injected.
type Table interface {
	// ClosestPeers returns up to count peers whose identifiers are closest
	// to target, closest first.
	ClosestPeers(target NodeID, count int) []Peer

	// IsDirectlyReachable reports whether the holder of publicKey is a peer
	// this node can deliver to directly, and returns the peer if so.
	IsDirectlyReachable(publicKey [32]byte) (Peer, bool)
}
