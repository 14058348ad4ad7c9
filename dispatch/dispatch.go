// Package dispatch is the message frontend: it decodes, deduplicates,
// authenticates, and classifies inbound envelopes, and assembles, signs, and
// routes outbound ones. Every failure on the inbound path resolves to "drop
// and diagnose": peers are untrusted and must not be able to crash or stall
// the node.
package dispatch

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/embermesh/emberdht/auth"
	"github.com/embermesh/emberdht/envelope"
	"github.com/embermesh/emberdht/routing"
	"github.com/embermesh/emberdht/storeforward"
	"github.com/embermesh/emberdht/transport"
)

// Defaults for the dispatcher configuration.
const (
	DefaultWorkers  = 4
	DefaultDedupTTL = 5 * time.Minute
)

// Config tunes the dispatcher.
type Config struct {
	// Network is the local environment tag; envelopes tagged otherwise are
	// dropped silently at decode time.
	Network envelope.Network
	// MaxEnvelopeSize bounds decoded envelopes; 0 selects the codec default.
	MaxEnvelopeSize int
	// Workers is the size of the authentication worker pool.
	Workers int
	// DedupTTL is how long envelope digests are remembered for duplicate
	// suppression.
	DedupTTL time.Duration
}

// Message is an authenticated, decrypted envelope handed to a handler.
type Message struct {
	// From is the peer the envelope arrived from (the previous hop, not
	// necessarily the origin).
	From routing.Peer
	// Envelope is the decoded envelope as it arrived; its body may be
	// ciphertext.
	Envelope *envelope.Envelope
	// Body is the verified plaintext body.
	Body []byte
}

// Handler consumes classified messages of one type.
type Handler func(*Message)

// Dispatcher wires the envelope codec, authenticator, router, and
// store-and-forward cache behind a transport.
type Dispatcher struct {
	auth      *auth.Authenticator
	router    *routing.Router
	store     *storeforward.Store
	transport transport.Transport
	self      routing.Peer

	network         envelope.Network
	maxEnvelopeSize int

	mu       sync.RWMutex
	handlers map[envelope.MessageType]Handler

	seen *gocache.Cache
	pool *workerPool
}

// New creates a dispatcher. Handlers are registered separately before Start.
func New(cfg Config, authenticator *auth.Authenticator, router *routing.Router,
	store *storeforward.Store, tr transport.Transport, self routing.Peer,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}

	return &Dispatcher{
		auth:            authenticator,
		router:          router,
		store:           store,
		transport:       tr,
		self:            self,
		network:         cfg.Network,
		maxEnvelopeSize: cfg.MaxEnvelopeSize,
		handlers:        make(map[envelope.MessageType]Handler),
		seen:            gocache.New(cfg.DedupTTL, 2*cfg.DedupTTL),
		pool:            newWorkerPool(cfg.Workers),
	}
}

// RegisterHandler sets the handler for a message type. Registering
// MessageTypeNone installs the pass-through application sink. Later calls
// replace the handler.
func (d *Dispatcher) RegisterHandler(messageType envelope.MessageType, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = handler
}

func (d *Dispatcher) handlerFor(messageType envelope.MessageType) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[messageType]
	return h, ok
}

// Start attaches the dispatcher to its transport and starts the worker pool.
func (d *Dispatcher) Start() {
	d.pool.start()
	d.transport.SetHandler(d.Receive)
}

// Stop drains the worker pool. In-flight messages finish processing.
func (d *Dispatcher) Stop() {
	d.pool.stop()
}

// Receive ingests one raw frame from a peer. Decode and the cheap structural
// checks run inline; signature verification and decryption are queued on the
// worker pool, sharded so envelopes from one peer keep their arrival order.
func (d *Dispatcher) Receive(from routing.Peer, data []byte) {
	env, err := envelope.Unmarshal(data, d.maxEnvelopeSize)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"from":  from.NodeID.String(),
			"error": err.Error(),
		}).Debug("Dropping malformed envelope")
		return
	}

	if env.Header.Network != d.network {
		// Wrong environment: silent drop.
		return
	}

	if env.Header.Version > envelope.ProtocolVersion {
		logrus.WithFields(logrus.Fields{
			"from":    from.NodeID.String(),
			"version": env.Header.Version,
		}).Debug("Dropping envelope with unsupported version")
		return
	}

	digest := blake2b.Sum256(data)
	if !d.markSeen(digest) {
		logrus.WithFields(logrus.Fields{
			"from": from.NodeID.String(),
		}).Trace("Dropping duplicate envelope")
		return
	}

	if !d.pool.submit(from.NodeID, func() { d.process(from, env, data) }) {
		logrus.WithFields(logrus.Fields{
			"from": from.NodeID.String(),
		}).Warn("Dispatch queue full, dropping envelope")
	}
}

// markSeen records an envelope digest, returning false if it was already
// present within the dedup window.
func (d *Dispatcher) markSeen(digest [32]byte) bool {
	return d.seen.Add(string(digest[:]), struct{}{}, gocache.DefaultExpiration) == nil
}

// process authenticates one envelope and routes it to its handler. Runs on a
// pool worker.
func (d *Dispatcher) process(from routing.Peer, env *envelope.Envelope, wire []byte) {
	if d.forwardIfNotOurs(from, env, wire) {
		return
	}

	body, result := d.auth.OpenBody(env)
	if !result.Authenticated {
		logrus.WithFields(logrus.Fields{
			"from":         from.NodeID.String(),
			"message_type": env.Header.MessageType.String(),
			"reason":       result.Reason.String(),
		}).Debug("Dropping unauthenticated envelope")
		return
	}

	msg := &Message{From: from, Envelope: env, Body: body}

	switch env.Header.MessageType {
	case envelope.MessageTypeStoreForwardRequest:
		d.handleRetrievalRequest(msg)
	case envelope.MessageTypeStoreForwardResponse:
		d.handleRetrievalResponse(msg)
	default:
		handler, ok := d.handlerFor(env.Header.MessageType)
		if !ok {
			logrus.WithFields(logrus.Fields{
				"from":         from.NodeID.String(),
				"message_type": env.Header.MessageType.String(),
			}).Debug("Unsupported message type, dropping")
			return
		}
		handler(msg)
	}
}

// forwardIfNotOurs handles envelopes addressed to another node's public key:
// the wire bytes are replayed unchanged toward peers likely to know the
// target, and a copy is parked in the store-and-forward cache so the target
// can collect it later. Returns true when the envelope was not for us.
func (d *Dispatcher) forwardIfNotOurs(from routing.Peer, env *envelope.Envelope, wire []byte) bool {
	destKey, ok := env.Header.Destination.PublicKey()
	if !ok {
		return false
	}

	if local, hasIdentity := d.auth.Identity(); hasIdentity {
		if len(destKey) == len(local) && string(destKey) == string(local[:]) {
			return false
		}
	}

	if d.store != nil {
		if _, stored := d.store.Put(env.Header, env.Body); stored {
			logrus.WithFields(logrus.Fields{
				"destination": env.Header.Destination.String(),
			}).Debug("Cached message for offline peer")
		}
	}

	targets, err := d.router.Resolve(env.Header.Destination)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"destination": env.Header.Destination.String(),
			"error":       err.Error(),
		}).Debug("Cannot resolve forwarding targets")
		return true
	}

	for _, peer := range targets {
		if peer.NodeID == from.NodeID {
			// Never bounce an envelope straight back to its previous hop.
			continue
		}
		// Byte-exact replay: a forwarded envelope is never re-signed or
		// re-encrypted.
		if err := d.transport.Send(peer, wire); err != nil {
			logrus.WithFields(logrus.Fields{
				"peer":  peer.NodeID.String(),
				"error": err.Error(),
			}).Debug("Forwarding failed")
		}
	}
	return true
}
