// Package queue provides an unbounded multi-producer single-consumer queue.
//
// Features and Guarantees:
//
//   - Concurrent writes: any number of goroutines may Push concurrently,
//     the append itself is atomic and only the consumer wakeup takes a
//     short lock
//   - Unbounded size: producers never block, the queue grows as needed and
//     is limited only by available memory
//   - Single consumer: one goroutine drains the queue through the Recv()
//     channel
//   - Close drains: items pushed before Close are still delivered, the
//     Recv channel closes once the queue is empty
//
// The cache client uses this as its command queue: callers enqueue
// operations at any time, including while the engine process is down, and
// the single dispatch goroutine drains them in order once a connection is
// available.
package queue

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the internal linked list
type node[T interface{}] struct {
	value *T
	next  atomic.Pointer[node[T]]
}

// MPSC is an unbounded multi-producer single-consumer queue backed by a
// linked list with atomic append.
type MPSC[T interface{}] struct {
	head   atomic.Pointer[node[T]] // Sentinel, owned by the consumer
	tail   atomic.Pointer[node[T]]
	out    chan *T
	closed atomic.Bool

	// Producers signal the consumer through the condition variable when
	// it has drained the list and gone to sleep
	mu   sync.Mutex
	cond *sync.Cond
}

// New creates a new queue and starts its consumer goroutine.
func New[T interface{}]() *MPSC[T] {
	sentinel := &node[T]{}

	q := &MPSC[T]{
		out: make(chan *T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.forward()

	return q
}

// Push appends an item to the queue. Returns false if the item is nil or
// the queue has been closed, true otherwise.
//
// Thread-safety: safe for concurrent use by any number of goroutines.
func (q *MPSC[T]) Push(value *T) bool {
	if value == nil || q.closed.Load() {
		return false
	}

	n := &node[T]{value: value}

	for {
		tail := q.tail.Load()
		if tail.next.CompareAndSwap(nil, n) {
			// Appended. The tail swing may fail if another producer
			// already helped, that is fine.
			q.tail.CompareAndSwap(tail, n)
			q.wake()
			return true
		}

		// Another producer appended first, help it swing the tail and retry
		if next := tail.next.Load(); next != nil {
			q.tail.CompareAndSwap(tail, next)
		}
		runtime.Gosched()
	}
}

// forward moves items from the linked list to the output channel. Runs
// until the queue is closed and fully drained.
func (q *MPSC[T]) forward() {
	defer close(q.out)

	for {
		delivered := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}

			value := next.value
			q.head.Store(next)
			q.out <- value
			next.value = nil // release for gc
			delivered = true
		}

		if q.closed.Load() {
			// Recheck after the closed flag: a producer may have raced
			// its append before Close flipped the flag
			if q.head.Load().next.Load() == nil {
				return
			}
			continue
		}

		if !delivered {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the receive channel of the queue. The channel is closed
// after Close once all remaining items have been delivered.
func (q *MPSC[T]) Recv() <-chan *T {
	return q.out
}

// wake signals the consumer. The lock pairs with the consumer's
// check-then-wait so the signal cannot fall between the two.
func (q *MPSC[T]) wake() {
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Close marks the queue closed. Further Push calls fail, items already in
// the queue are still delivered.
func (q *MPSC[T]) Close() {
	q.closed.Store(true)
	q.wake()
}

// IsClosed returns true if the queue has been closed.
func (q *MPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns an approximate count of queued items. This walks the list
// and should only be used for diagnostics.
func (q *MPSC[T]) Len() int {
	count := 0
	for current := q.head.Load(); ; {
		next := current.next.Load()
		if next == nil {
			return count
		}
		count++
		current = next
	}
}
