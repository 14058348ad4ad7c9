// Package emberdht implements a message envelope layer for decentralized
// networks: signed and optionally encrypted envelopes, destination-based
// routing over a neighbor table, and store-and-forward delivery for peers
// that are temporarily offline.
//
// Example:
//
//	network := transport.NewMemoryNetwork()
//
//	node, err := emberdht.New(emberdht.Options{
//	    Transport: func(self routing.Peer) transport.Transport {
//	        return network.Attach(self)
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	node.OnMessage(func(from routing.Peer, payload []byte) {
//	    fmt.Printf("message from %s: %s\n", from.NodeID, payload)
//	})
//
//	node.Start()
//	defer node.Stop()
//
//	// Join the network through a known peer, then talk.
//	if err := node.Bootstrap(seedPeer); err != nil {
//	    log.Fatal(err)
//	}
//	node.Send(friendKey, []byte("hello"))
package emberdht

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/embermesh/emberdht/auth"
	"github.com/embermesh/emberdht/config"
	"github.com/embermesh/emberdht/crypto"
	"github.com/embermesh/emberdht/dispatch"
	"github.com/embermesh/emberdht/envelope"
	"github.com/embermesh/emberdht/routing"
	"github.com/embermesh/emberdht/storeforward"
	"github.com/embermesh/emberdht/transport"
)

// MessageCallback receives pass-through application payloads after
// authentication and decryption. from is the previous hop, not necessarily
// the author.
type MessageCallback func(from routing.Peer, payload []byte)

// Options configures a node.
type Options struct {
	// Keys is the node's identity. Nil generates a fresh one.
	Keys *crypto.KeyPair

	// Addr is the address advertised in join and discovery announcements.
	Addr string

	// Transport is invoked with the node's own peer record and must return
	// the transport to attach to. Required.
	Transport func(self routing.Peer) transport.Transport

	// Config overrides the defaults. Nil selects config.DefaultConfig.
	Config *config.Config
}

// Node is a complete protocol instance: identity, neighbor table, router,
// authenticator, store-and-forward cache, and dispatcher over one transport.
type Node struct {
	keys *crypto.KeyPair
	self routing.Peer
	cfg  config.Config

	table     *routing.NeighborTable
	router    *routing.Router
	auth      *auth.Authenticator
	store     *storeforward.Store
	sweeper   *storeforward.Sweeper
	disp      *dispatch.Dispatcher
	transport transport.Transport

	mu        sync.Mutex
	running   bool
	onMessage MessageCallback
}

// New assembles a node from options. The node is inert until Start.
func New(opts Options) (*Node, error) {
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}

	keys := opts.Keys
	if keys == nil {
		generated, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("failed to generate identity: %w", err)
		}
		keys = generated
	}

	cfg := config.DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}

	self := routing.Peer{
		NodeID:    routing.NodeIDFromPublicKey(keys.Public),
		PublicKey: keys.Public,
		Addr:      opts.Addr,
	}

	node := &Node{
		keys:  keys,
		self:  self,
		cfg:   cfg,
		table: routing.NewNeighborTable(self.NodeID, 0),
		store: storeforward.NewStore(cfg.CacheRetention, cfg.CacheCapacity),
		auth:  auth.New(keys),
	}
	node.router = routing.NewRouter(node.table, self.NodeID, cfg.BroadcastFanout)
	node.sweeper = storeforward.NewSweeper(node.store, cfg.SweepInterval)
	node.transport = opts.Transport(self)

	node.disp = dispatch.New(
		dispatch.Config{
			Network:         cfg.Network,
			MaxEnvelopeSize: cfg.MaxEnvelopeSize,
			Workers:         cfg.Workers,
			DedupTTL:        cfg.DedupTTL,
		},
		node.auth, node.router, node.store, node.transport, self,
	)

	node.disp.RegisterHandler(envelope.MessageTypeNone, node.handlePassthrough)
	node.disp.RegisterHandler(envelope.MessageTypeJoin, node.handleJoin)
	node.disp.RegisterHandler(envelope.MessageTypeDiscovery, node.handleDiscovery)
	node.disp.RegisterHandler(envelope.MessageTypeDiscoveryResponse, node.handleDiscoveryResponse)
	node.disp.RegisterHandler(envelope.MessageTypeReject, node.handleReject)

	return node, nil
}

// Self returns this node's peer record.
func (n *Node) Self() routing.Peer {
	return n.self
}

// PublicKey returns the node's identity public key.
func (n *Node) PublicKey() crypto.PublicKey {
	return n.keys.Public
}

// Start attaches the dispatcher to the transport and begins cache sweeping.
func (n *Node) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.running {
		return
	}
	n.running = true

	n.disp.Start()
	n.sweeper.Start()

	logrus.WithFields(logrus.Fields{
		"node_id": n.self.NodeID.String(),
		"network": n.cfg.Network.String(),
	}).Info("Node started")
}

// Stop shuts the node down: the sweeper and worker pool drain, then the
// transport closes.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.running {
		return
	}
	n.running = false

	n.sweeper.Stop()
	n.disp.Stop()
	if err := n.transport.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Transport close failed")
	}

	logrus.WithFields(logrus.Fields{
		"node_id": n.self.NodeID.String(),
	}).Info("Node stopped")
}

// OnMessage sets the callback for pass-through application payloads.
func (n *Node) OnMessage(cb MessageCallback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onMessage = cb
}

// Bootstrap adds a known peer to the neighbor table and announces this node
// to the network through it.
func (n *Node) Bootstrap(seed routing.Peer) error {
	n.table.AddPeer(seed)

	body := routing.MarshalAnnounce(routing.Announce{Peer: n.self})
	return n.disp.Send(envelope.BroadcastDestination(), envelope.MessageTypeJoin, body, dispatch.SendOptions{})
}

// Discover asks the holder of the given public key, or the neighborhood
// around it, to reveal its peer record.
func (n *Node) Discover(target crypto.PublicKey) error {
	body := routing.MarshalAnnounce(routing.Announce{Peer: n.self})
	return n.disp.Send(
		envelope.PublicKeyDestination(target[:]),
		envelope.MessageTypeDiscovery, body, dispatch.SendOptions{},
	)
}

// Send delivers a plaintext payload to the holder of the given public key,
// directly or through neighbor propagation.
func (n *Node) Send(recipient crypto.PublicKey, payload []byte) error {
	return n.disp.Send(
		envelope.PublicKeyDestination(recipient[:]),
		envelope.MessageTypeNone, payload, dispatch.SendOptions{},
	)
}

// SendEncrypted seals the payload so only the recipient can read it. The
// envelope is signed; ciphertext is always attributable.
func (n *Node) SendEncrypted(recipient crypto.PublicKey, payload []byte) error {
	return n.disp.Send(
		envelope.PublicKeyDestination(recipient[:]),
		envelope.MessageTypeNone, payload,
		dispatch.SendOptions{Encrypt: true, Recipient: recipient},
	)
}

// Broadcast propagates a payload to the configured fan-out count of
// neighbors.
func (n *Node) Broadcast(payload []byte) error {
	return n.disp.Broadcast(payload)
}

// CollectMissed asks a neighbor for messages cached on this node's behalf
// since the given time. Nil means everything the neighbor still holds.
// Retrieved messages arrive through the normal inbound path and callbacks.
func (n *Node) CollectMissed(neighbor crypto.PublicKey, since *time.Time) error {
	body := storeforward.MarshalRequest(storeforward.StoredMessagesRequest{Since: since})
	return n.disp.Send(
		envelope.PublicKeyDestination(neighbor[:]),
		envelope.MessageTypeStoreForwardRequest, body,
		dispatch.SendOptions{Sign: true},
	)
}

// NeighborCount reports the current neighbor table size.
func (n *Node) NeighborCount() int {
	return n.table.Len()
}

func (n *Node) handlePassthrough(m *dispatch.Message) {
	n.mu.Lock()
	cb := n.onMessage
	n.mu.Unlock()

	if cb == nil {
		return
	}
	cb(m.From, m.Body)
}

// verifiedAnnounce decodes a peer announcement and checks it is consistent
// with the authenticated origin: the announced public key must be the
// origin's, and the announced node ID must be derived from it. A neighbor
// cannot announce identities it does not hold.
func verifiedAnnounce(m *dispatch.Message) (routing.Peer, error) {
	a, err := routing.UnmarshalAnnounce(m.Body)
	if err != nil {
		return routing.Peer{}, err
	}

	origin := m.Envelope.Header.Origin
	if origin == nil {
		return routing.Peer{}, errors.New("announcement without origin")
	}
	if a.Peer.PublicKey != origin.PublicKey {
		return routing.Peer{}, errors.New("announced key does not match origin")
	}
	if a.Peer.NodeID != routing.NodeIDFromPublicKey(a.Peer.PublicKey) {
		return routing.Peer{}, errors.New("announced node id does not match key")
	}
	return a.Peer, nil
}

// handleJoin admits an announcing peer to the neighbor table and introduces
// this node back to it.
func (n *Node) handleJoin(m *dispatch.Message) {
	peer, err := verifiedAnnounce(m)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"from":  m.From.NodeID.String(),
			"error": err.Error(),
		}).Debug("Dropping invalid join")
		return
	}

	n.table.AddPeer(peer)
	logrus.WithFields(logrus.Fields{
		"peer": peer.NodeID.String(),
	}).Debug("Peer joined")

	n.sendOwnRecord(peer.PublicKey)
}

// handleDiscovery answers a discovery probe with this node's own record and
// learns the prober in return.
func (n *Node) handleDiscovery(m *dispatch.Message) {
	peer, err := verifiedAnnounce(m)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"from":  m.From.NodeID.String(),
			"error": err.Error(),
		}).Debug("Dropping invalid discovery")
		return
	}

	n.table.AddPeer(peer)
	n.sendOwnRecord(peer.PublicKey)
}

func (n *Node) handleDiscoveryResponse(m *dispatch.Message) {
	peer, err := verifiedAnnounce(m)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"from":  m.From.NodeID.String(),
			"error": err.Error(),
		}).Debug("Dropping invalid discovery response")
		return
	}

	n.table.AddPeer(peer)
	logrus.WithFields(logrus.Fields{
		"peer": peer.NodeID.String(),
	}).Debug("Discovered peer")
}

// handleReject removes this node's record of a peer that refused contact.
func (n *Node) handleReject(m *dispatch.Message) {
	n.table.RemovePeer(m.From.NodeID)
	logrus.WithFields(logrus.Fields{
		"peer": m.From.NodeID.String(),
	}).Debug("Peer rejected contact")
}

// sendOwnRecord sends a discovery-response carrying this node's peer record.
func (n *Node) sendOwnRecord(to crypto.PublicKey) {
	body := routing.MarshalAnnounce(routing.Announce{Peer: n.self})
	err := n.disp.Send(
		envelope.PublicKeyDestination(to[:]),
		envelope.MessageTypeDiscoveryResponse, body, dispatch.SendOptions{},
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"to":    routing.NodeIDFromPublicKey(to).String(),
			"error": err.Error(),
		}).Debug("Failed to send own peer record")
	}
}
