package learner

import (
	"sync"
	"time"
)

// resultQueue is the unbounded outbound queue. Unbounded is safe here: the
// coordinator drains it fully every tick, and production is throttled by
// the bounded inbound queue upstream.
type resultQueue struct {
	mu    sync.Mutex
	items []Result
}

func newResultQueue() *resultQueue {
	return &resultQueue{}
}

func (q *resultQueue) push(r Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

func (q *resultQueue) drain() []Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
