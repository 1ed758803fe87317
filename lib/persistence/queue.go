package persistence

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// --------------------------------------------------------------------------
// Lock-free multi-producer single-consumer request queue
// --------------------------------------------------------------------------

// qnode is a single element of the queue
type qnode struct {
	req  *request
	next atomic.Pointer[qnode]
}

// requestQueue feeds the log writer. Any number of goroutines may Push
// concurrently without locks; a single consumer (the writer goroutine) takes
// whole batches with PopBatch. Items pushed by one goroutine are popped in the
// order they were pushed; across goroutines the order is whichever append wins
// the tail.
//
// The consumer only takes the mutex when it runs out of work. Producers only
// take it when the consumer announced that it is about to sleep.
type requestQueue struct {
	head     atomic.Pointer[qnode] // sentinel, owned by the consumer
	tail     atomic.Pointer[qnode]
	closed   atomic.Bool
	sleeping atomic.Bool
	size     atomic.Int64

	mu   sync.Mutex
	cond *sync.Cond
}

// newRequestQueue creates an empty queue
func newRequestQueue() *requestQueue {
	sentinel := &qnode{}
	q := &requestQueue{}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// Push adds a request to the queue.
// Returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *requestQueue) Push(req *request) bool {
	if req == nil || q.closed.Load() {
		return false
	}

	n := &qnode{req: req}
	var backoff uint8

	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// may fail if another producer already helped, tail still moves forward
				q.tail.CompareAndSwap(tail, n)
				q.size.Add(1)
				q.wake()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// spin briefly under low contention, then yield
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// wake signals the consumer if it is (about to be) waiting. Signalling under the
// mutex makes sure the wakeup cannot fall between the consumer's empty check
// and its Wait.
func (q *requestQueue) wake() {
	if q.sleeping.Load() {
		q.mu.Lock()
		q.cond.Signal()
		q.mu.Unlock()
	}
}

// drain pops up to max requests without blocking
func (q *requestQueue) drain(max int) []*request {
	var batch []*request
	for len(batch) < max {
		head := q.head.Load()
		next := head.next.Load()
		if next == nil {
			break
		}
		batch = append(batch, next.req)
		q.head.Store(next)
		next.req = nil // help the gc, next is the new sentinel
	}
	if len(batch) > 0 {
		q.size.Add(-int64(len(batch)))
	}
	return batch
}

// PopBatch blocks until at least one request is available and returns up to
// max requests. It returns false once the queue is closed and empty.
//
// Thread-safety: Only one goroutine may call PopBatch.
func (q *requestQueue) PopBatch(max int) ([]*request, bool) {
	if max <= 0 {
		max = 1
	}
	for {
		if batch := q.drain(max); len(batch) > 0 {
			return batch, true
		}

		if q.closed.Load() {
			// a push may have completed right before close
			if batch := q.drain(max); len(batch) > 0 {
				return batch, true
			}
			return nil, false
		}

		q.mu.Lock()
		q.sleeping.Store(true)
		if q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.cond.Wait()
		}
		q.sleeping.Store(false)
		q.mu.Unlock()
	}
}

// Close closes the queue, preventing further pushes. Requests already in the
// queue are still returned by PopBatch.
func (q *requestQueue) Close() {
	q.closed.Store(true)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Len returns the approximate number of queued requests
func (q *requestQueue) Len() int {
	return int(q.size.Load())
}
