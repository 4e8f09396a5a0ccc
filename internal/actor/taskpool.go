package actor

import "sync"

// Completion is one finished call yielded by TaskPool.Completed. Failures
// are carried in Err rather than dropped; the caller decides the policy
// (the coordinator's is replenishment, not retry).
type Completion[A any, T any] struct {
	Actor A
	Value T
	Err   error
}

// TaskPool tracks in-flight asynchronous calls against a set of actors.
// The same actor may have any number of concurrent outstanding calls.
// Completed drains every finished call exactly once, in no guaranteed
// order. Safe for concurrent use, though the coordinator polls from a
// single goroutine.
type TaskPool[A any, T any] struct {
	mu    sync.Mutex
	tasks []poolEntry[A, T]
}

type poolEntry[A any, T any] struct {
	actor   A
	pending *Pending[T]
}

// NewTaskPool creates an empty pool.
func NewTaskPool[A any, T any]() *TaskPool[A, T] {
	return &TaskPool[A, T]{}
}

// Add registers one outstanding call issued to the given actor.
func (tp *TaskPool[A, T]) Add(actor A, p *Pending[T]) {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.tasks = append(tp.tasks, poolEntry[A, T]{actor: actor, pending: p})
}

// Completed removes and returns every call that has finished since the
// previous invocation. Each pending call is reported at most once over the
// pool's lifetime and exactly once after it resolves.
func (tp *TaskPool[A, T]) Completed() []Completion[A, T] {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	var done []Completion[A, T]
	remaining := tp.tasks[:0]
	for _, e := range tp.tasks {
		if e.pending.Ready() {
			v, err := e.pending.result()
			done = append(done, Completion[A, T]{Actor: e.actor, Value: v, Err: err})
		} else {
			remaining = append(remaining, e)
		}
	}
	tp.tasks = remaining
	return done
}

// Count reports the number of currently outstanding calls.
func (tp *TaskPool[A, T]) Count() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.tasks)
}
