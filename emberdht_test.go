package emberdht

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermesh/emberdht/config"
	"github.com/embermesh/emberdht/crypto"
	"github.com/embermesh/emberdht/envelope"
	"github.com/embermesh/emberdht/routing"
	"github.com/embermesh/emberdht/transport"
)

func newLocalNode(t *testing.T, network *transport.MemoryNetwork) *Node {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Network = envelope.NetworkLocalTest
	cfg.Workers = 2
	cfg.BroadcastFanout = 4

	node, err := New(Options{
		Transport: func(self routing.Peer) transport.Transport {
			return network.Attach(self)
		},
		Config: &cfg,
	})
	require.NoError(t, err)

	node.Start()
	t.Cleanup(node.Stop)
	return node
}

// collector accumulates payloads delivered to a node's message callback.
type collector struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (c *collector) attach(node *Node) {
	node.OnMessage(func(_ routing.Peer, payload []byte) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.payloads = append(c.payloads, payload)
	})
}

func (c *collector) all() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func TestNewGeneratesIdentity(t *testing.T) {
	network := transport.NewMemoryNetwork()
	node := newLocalNode(t, network)

	assert.NotEqual(t, crypto.PublicKey{}, node.PublicKey())
	assert.Equal(t, routing.NodeIDFromPublicKey(node.PublicKey()), node.Self().NodeID)
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestBootstrapExchangesPeerRecords(t *testing.T) {
	network := transport.NewMemoryNetwork()
	seed := newLocalNode(t, network)
	joiner := newLocalNode(t, network)

	require.NoError(t, joiner.Bootstrap(seed.Self()))

	require.Eventually(t, func() bool {
		return seed.NeighborCount() == 1 && joiner.NeighborCount() == 1
	}, 2*time.Second, 5*time.Millisecond, "join and discovery response should fill both tables")
}

func TestSendBetweenNodes(t *testing.T) {
	network := transport.NewMemoryNetwork()
	alice := newLocalNode(t, network)
	bob := newLocalNode(t, network)

	var inbox collector
	inbox.attach(bob)

	require.NoError(t, bob.Bootstrap(alice.Self()))
	require.Eventually(t, func() bool {
		return alice.NeighborCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, alice.Send(bob.PublicKey(), []byte("hello bob")))

	require.Eventually(t, func() bool {
		return len(inbox.all()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("hello bob"), inbox.all()[0])
}

func TestSendEncryptedBetweenNodes(t *testing.T) {
	network := transport.NewMemoryNetwork()
	alice := newLocalNode(t, network)
	bob := newLocalNode(t, network)

	var inbox collector
	inbox.attach(bob)

	require.NoError(t, bob.Bootstrap(alice.Self()))
	require.Eventually(t, func() bool {
		return alice.NeighborCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, alice.SendEncrypted(bob.PublicKey(), []byte("for your eyes only")))

	require.Eventually(t, func() bool {
		return len(inbox.all()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("for your eyes only"), inbox.all()[0])
}

func TestDiscoverThroughCommonNeighbor(t *testing.T) {
	network := transport.NewMemoryNetwork()
	hub := newLocalNode(t, network)
	alice := newLocalNode(t, network)
	carol := newLocalNode(t, network)

	require.NoError(t, alice.Bootstrap(hub.Self()))
	require.NoError(t, carol.Bootstrap(hub.Self()))
	require.Eventually(t, func() bool {
		return hub.NeighborCount() == 2
	}, 2*time.Second, 5*time.Millisecond)

	// Alice only knows the hub; the probe travels through it to carol, and
	// carol's record comes back the same way.
	require.NoError(t, alice.Discover(carol.PublicKey()))

	require.Eventually(t, func() bool {
		return alice.NeighborCount() == 2
	}, 2*time.Second, 5*time.Millisecond, "discovery should teach alice carol's record")
}

func TestOfflineDeliveryThroughCache(t *testing.T) {
	network := transport.NewMemoryNetwork()
	relay := newLocalNode(t, network)
	alice := newLocalNode(t, network)
	bob := newLocalNode(t, network)

	require.NoError(t, alice.Bootstrap(relay.Self()))
	require.Eventually(t, func() bool {
		return relay.NeighborCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Bob is unknown to the relay, so the message is parked in its cache.
	require.NoError(t, alice.Send(bob.PublicKey(), []byte("missed you")))
	require.Eventually(t, func() bool {
		return relay.store.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	var inbox collector
	inbox.attach(bob)

	// Bob comes online, joins through the relay, and asks what it holds.
	require.NoError(t, bob.Bootstrap(relay.Self()))
	require.Eventually(t, func() bool {
		return relay.NeighborCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, bob.CollectMissed(relay.PublicKey(), nil))

	require.Eventually(t, func() bool {
		return len(inbox.all()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("missed you"), inbox.all()[0])
}

func TestStartStopIdempotent(t *testing.T) {
	network := transport.NewMemoryNetwork()

	cfg := config.DefaultConfig()
	cfg.Network = envelope.NetworkLocalTest

	node, err := New(Options{
		Transport: func(self routing.Peer) transport.Transport {
			return network.Attach(self)
		},
		Config: &cfg,
	})
	require.NoError(t, err)

	node.Start()
	node.Start()
	node.Stop()
	node.Stop()
}
