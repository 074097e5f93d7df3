package storage

import "sync"

// SerialQueue runs dispatched operations one at a time in FIFO order on a
// dedicated goroutine. Exactly one queue exists per storage root, so two
// disk operations against the same root never overlap while separate roots
// proceed independently. Once dispatched, an operation always runs; there
// is no cancellation.
type SerialQueue struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	ops    []func()
	closed bool

	done chan struct{}
}

// NewSerialQueue starts the worker goroutine for a named queue.
func NewSerialQueue(name string) *SerialQueue {
	q := &SerialQueue{
		name: name,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Dispatch enqueues op behind every previously dispatched operation. After
// Close, Dispatch is a no-op.
func (q *SerialQueue) Dispatch(op func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.ops = append(q.ops, op)
	q.cond.Signal()
	q.mu.Unlock()
}

// Sync blocks until every operation dispatched before the call has run.
// Returns immediately on a closed queue.
func (q *SerialQueue) Sync() {
	ran := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.ops = append(q.ops, func() { close(ran) })
	q.cond.Signal()
	q.mu.Unlock()
	<-ran
}

// Close drains the pending operations and stops the worker. Safe to call
// more than once; every call waits for the drain to finish.
func (q *SerialQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *SerialQueue) run() {
	for {
		q.mu.Lock()
		for len(q.ops) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.ops) == 0 {
			q.mu.Unlock()
			close(q.done)
			return
		}
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()

		op()
	}
}
