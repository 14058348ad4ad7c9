package storeforward

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSweepInterval is how often the eviction sweep runs.
const DefaultSweepInterval = 10 * time.Minute

// Sweeper runs the cache eviction sweep on an independent periodic timer.
// Graceful shutdown stops scheduling new sweeps and waits for any in-flight
// sweep to finish.
type Sweeper struct {
	store    *Store
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSweeper creates a sweeper for the given store. A non-positive interval
// selects the default.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{store: store, interval: interval}
}

// Start begins the periodic sweep. Calling Start on a running sweeper is a
// no-op.
func (sw *Sweeper) Start() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.running {
		return
	}
	sw.running = true

	ctx, cancel := context.WithCancel(context.Background())
	sw.cancel = cancel
	sw.done = make(chan struct{})

	go sw.run(ctx)
}

// Stop shuts the sweeper down and blocks until any in-flight sweep has
// finished.
func (sw *Sweeper) Stop() {
	sw.mu.Lock()
	if !sw.running {
		sw.mu.Unlock()
		return
	}
	sw.running = false
	cancel := sw.cancel
	done := sw.done
	sw.mu.Unlock()

	cancel()
	<-done
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := sw.store.Sweep(); removed > 0 {
				logrus.WithFields(logrus.Fields{
					"removed":   removed,
					"remaining": sw.store.Len(),
				}).Debug("Store-and-forward sweep evicted messages")
			}
		case <-ctx.Done():
			return
		}
	}
}
