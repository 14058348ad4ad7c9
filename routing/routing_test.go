package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermesh/emberdht/crypto"
	"github.com/embermesh/emberdht/envelope"
)

func makePeer(t *testing.T) Peer {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return Peer{
		NodeID:    NodeIDFromPublicKey(keys.Public),
		PublicKey: keys.Public,
		Addr:      "mem://" + NodeIDFromPublicKey(keys.Public).String(),
	}
}

func TestDistanceIsSymmetricAndZeroOnSelf(t *testing.T) {
	a := makePeer(t).NodeID
	b := makePeer(t).NodeID

	assert.Equal(t, DistanceBetween(a, b), DistanceBetween(b, a))
	assert.Equal(t, Distance{}, DistanceBetween(a, a))
}

func TestDistanceLess(t *testing.T) {
	var near, far Distance
	near[31] = 1
	far[0] = 1

	assert.True(t, near.Less(far))
	assert.False(t, far.Less(near))
	assert.False(t, near.Less(near))
}

func TestNeighborTableAddAndReachability(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)

	peer := makePeer(t)
	assert.True(t, nt.AddPeer(peer))
	assert.Equal(t, 1, nt.Len())

	got, ok := nt.IsDirectlyReachable(peer.PublicKey)
	require.True(t, ok)
	assert.Equal(t, peer, got)

	// Self is never added.
	assert.False(t, nt.AddPeer(self))

	// Re-adding refreshes rather than duplicates.
	assert.True(t, nt.AddPeer(peer))
	assert.Equal(t, 1, nt.Len())
}

func TestNeighborTableRemovePeer(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)

	peer := makePeer(t)
	require.True(t, nt.AddPeer(peer))
	assert.True(t, nt.RemovePeer(peer.NodeID))
	assert.Equal(t, 0, nt.Len())

	_, ok := nt.IsDirectlyReachable(peer.PublicKey)
	assert.False(t, ok)
}

func TestClosestPeersOrdering(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)

	target := makePeer(t).NodeID

	peers := make([]Peer, 0, 20)
	for i := 0; i < 20; i++ {
		p := makePeer(t)
		peers = append(peers, p)
		require.True(t, nt.AddPeer(p))
	}

	closest := nt.ClosestPeers(target, 5)
	require.Len(t, closest, 5)

	// Result is sorted closest first.
	for i := 1; i < len(closest); i++ {
		prev := DistanceBetween(closest[i-1].NodeID, target)
		cur := DistanceBetween(closest[i].NodeID, target)
		assert.False(t, cur.Less(prev), "result must be ordered by increasing distance")
	}

	// No peer outside the result is closer than the farthest inside it.
	farthest := DistanceBetween(closest[len(closest)-1].NodeID, target)
	inResult := make(map[NodeID]bool, len(closest))
	for _, p := range closest {
		inResult[p.NodeID] = true
	}
	for _, p := range peers {
		if inResult[p.NodeID] {
			continue
		}
		assert.False(t, DistanceBetween(p.NodeID, target).Less(farthest),
			"peer %s outside the result is closer than the farthest selected", p.NodeID)
	}
}

func TestClosestPeersCountBounds(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)
	for i := 0; i < 3; i++ {
		require.True(t, nt.AddPeer(makePeer(t)))
	}

	assert.Len(t, nt.ClosestPeers(self.NodeID, 10), 3)
	assert.Empty(t, nt.ClosestPeers(self.NodeID, 0))
}

func TestRouterBroadcastFanout(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)
	for i := 0; i < 10; i++ {
		require.True(t, nt.AddPeer(makePeer(t)))
	}

	router := NewRouter(nt, self.NodeID, 4)
	targets, err := router.Resolve(envelope.BroadcastDestination())
	require.NoError(t, err)
	assert.Len(t, targets, 4)
}

func TestRouterDirectDelivery(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)
	peer := makePeer(t)
	require.True(t, nt.AddPeer(peer))
	for i := 0; i < 5; i++ {
		require.True(t, nt.AddPeer(makePeer(t)))
	}

	router := NewRouter(nt, self.NodeID, 4)
	targets, err := router.Resolve(envelope.PublicKeyDestination(peer.PublicKey[:]))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, peer, targets[0])
}

func TestRouterUnreachableKeyFallsBackToNeighbors(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)
	for i := 0; i < 6; i++ {
		require.True(t, nt.AddPeer(makePeer(t)))
	}

	stranger := makePeer(t)
	router := NewRouter(nt, self.NodeID, 4)
	targets, err := router.Resolve(envelope.PublicKeyDestination(stranger.PublicKey[:]))
	require.NoError(t, err)
	assert.Len(t, targets, 4, "unreachable key should propagate to fan-out neighbors")
}

func TestRouterNodeIDDestination(t *testing.T) {
	self := makePeer(t)
	nt := NewNeighborTable(self.NodeID, 0)
	for i := 0; i < 6; i++ {
		require.True(t, nt.AddPeer(makePeer(t)))
	}

	target := makePeer(t).NodeID
	router := NewRouter(nt, self.NodeID, 3)
	targets, err := router.Resolve(envelope.NodeIDDestination(target[:]))
	require.NoError(t, err)
	require.Len(t, targets, 3)

	want := nt.ClosestPeers(target, 3)
	assert.Equal(t, want, targets)
}

func TestRouterRejectsBadDestinations(t *testing.T) {
	self := makePeer(t)
	router := NewRouter(NewNeighborTable(self.NodeID, 0), self.NodeID, 4)

	_, err := router.Resolve(envelope.PublicKeyDestination([]byte{1, 2, 3}))
	assert.Error(t, err)

	_, err = router.Resolve(envelope.NodeIDDestination([]byte{1}))
	assert.Error(t, err)
}

func TestAnnounceRoundTrip(t *testing.T) {
	peer := makePeer(t)

	data := MarshalAnnounce(Announce{Peer: peer})
	decoded, err := UnmarshalAnnounce(data)
	require.NoError(t, err)
	assert.Equal(t, peer, decoded.Peer)
}

func TestAnnounceRejectsMissingIdentity(t *testing.T) {
	_, err := UnmarshalAnnounce(nil)
	assert.Error(t, err)
}
