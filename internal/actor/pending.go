// Package actor provides the future and task-pool plumbing used to talk to
// single-goroutine actors (replay shards) and remote rollout workers. Every
// asynchronous call yields a Pending; the coordinator polls pools of them
// without ever blocking its control loop.
package actor

import (
	"context"
	"sync"
)

// Pending is a one-shot future. It is completed exactly once, with either a
// value or an error; completion is observable through Ready, Wait, and the
// owning TaskPool.
type Pending[T any] struct {
	done chan struct{}
	once sync.Once

	val T
	err error
}

// NewPending creates an incomplete future.
func NewPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

// Complete resolves the future. Later calls are ignored.
func (p *Pending[T]) Complete(v T, err error) {
	p.once.Do(func() {
		p.val = v
		p.err = err
		close(p.done)
	})
}

// Ready reports whether the future has resolved, without blocking.
func (p *Pending[T]) Ready() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or the context is cancelled.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// result returns the resolved value; only valid after done is closed.
func (p *Pending[T]) result() (T, error) {
	return p.val, p.err
}

// Go runs fn on its own goroutine and returns a future for its result.
func Go[T any](fn func() (T, error)) *Pending[T] {
	p := NewPending[T]()
	go func() {
		p.Complete(fn())
	}()
	return p
}
