package dispatch

import (
	"sync"

	"github.com/embermesh/emberdht/routing"
)

// workerQueueDepth bounds each worker's backlog. Submissions beyond it are
// dropped rather than blocking the transport's receive path.
const workerQueueDepth = 256

// workerPool runs authentication and classification off the transport
// goroutine. Work is sharded by source peer: envelopes from one peer always
// land on the same worker, preserving their arrival order, while different
// peers proceed in parallel.
type workerPool struct {
	queues []chan func()
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func newWorkerPool(workers int) *workerPool {
	queues := make([]chan func(), workers)
	for i := range queues {
		queues[i] = make(chan func(), workerQueueDepth)
	}
	return &workerPool{queues: queues}
}

func (p *workerPool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	for _, queue := range p.queues {
		p.wg.Add(1)
		go func(jobs <-chan func()) {
			defer p.wg.Done()
			for job := range jobs {
				job()
			}
		}(queue)
	}
}

// submit enqueues a job on the worker owning the peer's shard. Returns false
// if the pool is stopped or the worker's queue is full. The lock is held
// across the enqueue so stop cannot close a queue mid-send.
func (p *workerPool) submit(peer routing.NodeID, job func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return false
	}

	select {
	case p.queues[shardFor(peer, len(p.queues))] <- job:
		return true
	default:
		return false
	}
}

// stop closes the queues and waits for in-flight jobs to finish.
func (p *workerPool) stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	for _, queue := range p.queues {
		close(queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
}

// shardFor maps a peer to a worker index (FNV-1a over the node ID).
func shardFor(peer routing.NodeID, workers int) int {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	hash := uint64(offset64)
	for _, b := range peer {
		hash ^= uint64(b)
		hash *= prime64
	}
	return int(hash % uint64(workers))
}
