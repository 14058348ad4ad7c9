package storeforward

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/embermesh/emberdht/envelope"
)

// Defaults for the cache retention policy.
const (
	// DefaultRetention is how long messages are held before expiring.
	DefaultRetention = 24 * time.Hour
	// DefaultCapacity is the maximum number of cached messages.
	DefaultCapacity = 10000
)

type entry struct {
	msg    StoredMessage
	digest [32]byte
}

// Store is the store-and-forward cache. Stored messages are kept in storage
// order; retrieval never consumes them, only the eviction policy removes
// them. Safe for concurrent use: retrievals from different requesters share
// a read lock, stores and sweeps take the write lock.
type Store struct {
	mu        sync.RWMutex
	entries   []entry
	digests   map[[32]byte]struct{}
	retention time.Duration
	capacity  int
	now       func() time.Time
}

// NewStore creates a cache with the given retention window and capacity.
// Non-positive values select the defaults.
func NewStore(retention time.Duration, capacity int) *Store {
	return NewStoreWithClock(retention, capacity, time.Now)
}

// NewStoreWithClock creates a cache with an injectable clock for tests.
func NewStoreWithClock(retention time.Duration, capacity int, now func() time.Time) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		digests:   make(map[[32]byte]struct{}),
		retention: retention,
		capacity:  capacity,
		now:       now,
	}
}

func messageDigest(headerBytes, body []byte) [32]byte {
	hash, _ := blake2b.New256(nil)
	hash.Write(headerBytes)
	hash.Write(body)
	var digest [32]byte
	copy(digest[:], hash.Sum(nil))
	return digest
}

// Put records a message for later retrieval, assigning its arrival time and
// storage order. An exact duplicate, identical header and body already
// present, is a no-op, bounding amplification from retransmission. Returns
// the stored record and whether it was newly stored.
//
// Exceeding capacity is not an error: the oldest entries are trimmed to make
// room, so a legitimate store is never rejected.
func (s *Store) Put(header envelope.Header, encryptedBody []byte) (StoredMessage, bool) {
	headerBytes, err := envelope.MarshalHeader(header)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Warn("Refusing to cache message with unencodable header")
		return StoredMessage{}, false
	}
	digest := messageDigest(headerBytes, encryptedBody)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.digests[digest]; dup {
		return StoredMessage{}, false
	}

	msg := StoredMessage{
		StoredAt:      s.now().UTC(),
		Version:       header.Version,
		Header:        header.Clone(),
		EncryptedBody: append([]byte(nil), encryptedBody...),
	}

	s.entries = append(s.entries, entry{msg: msg, digest: digest})
	s.digests[digest] = struct{}{}

	if len(s.entries) > s.capacity {
		s.dropOldestLocked(len(s.entries) - s.capacity)
	}

	return msg, true
}

// Since returns copies of all cached messages with StoredAt >= since (all of
// them when since is nil), oldest first, filtered to the requester's network
// tag. Serving a message across network environments would leak it; the
// filter is a correctness requirement, not a nicety.
//
// Each call is independent and does not consume the cache.
func (s *Store) Since(since *time.Time, network envelope.Network) []StoredMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []StoredMessage
	for _, e := range s.entries {
		if e.msg.Header.Network != network {
			continue
		}
		if since != nil && e.msg.StoredAt.Before(*since) {
			continue
		}
		copied := e.msg
		copied.Header = e.msg.Header.Clone()
		copied.EncryptedBody = append([]byte(nil), e.msg.EncryptedBody...)
		result = append(result, copied)
	}
	return result
}

// Len returns the number of cached messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes messages older than the retention window, then trims oldest
// first down to capacity. It returns the number of messages removed. Sweep
// is a maintenance operation driven by the Sweeper, not by store/retrieve.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-s.retention)
	removed := 0

	// Entries are in arrival order, so expired messages form a prefix.
	expired := 0
	for expired < len(s.entries) && s.entries[expired].msg.StoredAt.Before(cutoff) {
		expired++
	}
	if expired > 0 {
		removed += s.dropOldestLocked(expired)
	}

	if len(s.entries) > s.capacity {
		removed += s.dropOldestLocked(len(s.entries) - s.capacity)
	}

	return removed
}

func (s *Store) dropOldestLocked(n int) int {
	if n > len(s.entries) {
		n = len(s.entries)
	}
	for i := 0; i < n; i++ {
		delete(s.digests, s.entries[i].digest)
	}
	s.entries = append(s.entries[:0], s.entries[n:]...)
	return n
}
