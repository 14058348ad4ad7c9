package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermesh/emberdht/crypto"
	"github.com/embermesh/emberdht/routing"
)

func testPeer(t *testing.T) routing.Peer {
	t.Helper()
	keys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return routing.Peer{
		NodeID:    routing.NodeIDFromPublicKey(keys.Public),
		PublicKey: keys.Public,
	}
}

func TestMemoryTransportDelivery(t *testing.T) {
	network := NewMemoryNetwork()
	alice := network.Attach(testPeer(t))
	bob := network.Attach(testPeer(t))

	var gotFrom routing.Peer
	var gotData []byte
	bob.SetHandler(func(from routing.Peer, data []byte) {
		gotFrom = from
		gotData = data
	})

	require.NoError(t, alice.Send(bob.Self(), []byte("hello")))
	assert.Equal(t, alice.Self().NodeID, gotFrom.NodeID)
	assert.Equal(t, []byte("hello"), gotData)
}

func TestMemoryTransportCopiesFrames(t *testing.T) {
	network := NewMemoryNetwork()
	alice := network.Attach(testPeer(t))
	bob := network.Attach(testPeer(t))

	var got []byte
	bob.SetHandler(func(_ routing.Peer, data []byte) { got = data })

	buf := []byte("mutable")
	require.NoError(t, alice.Send(bob.Self(), buf))
	buf[0] = 'X'

	assert.Equal(t, []byte("mutable"), got, "receiver must get its own copy")
}

func TestMemoryTransportUnknownPeer(t *testing.T) {
	network := NewMemoryNetwork()
	alice := network.Attach(testPeer(t))

	err := alice.Send(testPeer(t), []byte("nobody home"))
	assert.ErrorIs(t, err, ErrPeerUnreachable)
}

func TestMemoryTransportNoHandler(t *testing.T) {
	network := NewMemoryNetwork()
	alice := network.Attach(testPeer(t))
	bob := network.Attach(testPeer(t))

	err := alice.Send(bob.Self(), []byte("x"))
	assert.ErrorIs(t, err, ErrPeerUnreachable)
}

func TestMemoryTransportClose(t *testing.T) {
	network := NewMemoryNetwork()
	alice := network.Attach(testPeer(t))
	bob := network.Attach(testPeer(t))
	bob.SetHandler(func(routing.Peer, []byte) {})

	require.NoError(t, bob.Close())
	assert.ErrorIs(t, alice.Send(bob.Self(), []byte("x")), ErrPeerUnreachable)

	require.NoError(t, alice.Close())
	assert.ErrorIs(t, alice.Send(bob.Self(), []byte("x")), ErrClosed)
}
