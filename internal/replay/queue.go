package replay

import (
	"context"
	"sync"

	"github.com/funnyzak/replaytap/pkg/flow"
)

// queue is the FIFO of flows waiting for the worker. It has a single
// consumer.
type queue struct {
	mu       sync.Mutex
	items    []*flow.Flow
	inflight bool
	signal   chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(flows ...*flow.Flow) {
	if len(flows) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, flows...)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain removes and returns every pending flow.
func (q *queue) drain() []*flow.Flow {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// count is pending flows plus the one being replayed.
func (q *queue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.inflight {
		n++
	}
	return n
}

// take blocks until a flow is available or ctx is done. The claimed flow is
// marked live and in flight before the lock is released, so a concurrent
// drain can never see it.
func (q *queue) take(ctx context.Context) (*flow.Flow, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			f := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.inflight = true
			f.SetLive(true)
			q.mu.Unlock()
			return f, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// done releases the claim taken by take.
func (q *queue) done(f *flow.Flow) {
	q.mu.Lock()
	f.SetLive(false)
	q.inflight = false
	q.mu.Unlock()
}
