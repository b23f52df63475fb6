// Package workerpool runs costly entry destructions off the event-loop
// goroutine. Its queue is a FIFO guarded by a mutex and condition
// variable, per the single-writer/many-consumer contract the store's
// concurrency model calls for. Workers only ever touch memory the event
// loop has already unlinked from the keyspace, heap, and idle list, so no
// further synchronization is needed once a task is enqueued.
//
// Tasks are a small tagged union of known payload kinds rather than an
// arbitrary closure, so a worker never runs a destructor whose shape it
// can't account for.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zond/nanokv/internal/zset"
)

// Payload is one unit of deferred work.
type Payload interface {
	run()
}

// DestroyZSet tears down a ZSet's AVL and hash indexes. It is the only
// payload kind the keyspace currently needs deferred: large sorted sets
// (see keyspace.LargeZSetThreshold) are detached by the event loop and
// handed to the pool so their teardown doesn't stall other connections.
type DestroyZSet struct {
	Set *zset.ZSet
}

func (d DestroyZSet) run() { d.Set.Dispose() }

// Pool is a bounded-size FIFO worker pool.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Payload
	closed bool
	eg     *errgroup.Group
}

// New starts a pool of n worker goroutines.
func New(n int) *Pool {
	p := &Pool{}
	p.cond = sync.NewCond(&p.mu)
	eg, _ := errgroup.WithContext(context.Background())
	p.eg = eg
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			p.runWorker()
			return nil
		})
	}
	return p
}

func (p *Pool) runWorker() {
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
		task.run()
	}
}

// Submit enqueues payload for execution by some worker goroutine. Submit
// after Close panics.
func (p *Pool) Submit(payload Payload) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic("workerpool: Submit after Close")
	}
	p.queue = append(p.queue, payload)
	p.mu.Unlock()
	p.cond.Signal()
}

// Close stops accepting work, waits for the queue to drain, and joins
// every worker goroutine.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return p.eg.Wait()
}

// Pending reports the current queue depth, for diagnostics and tests.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
