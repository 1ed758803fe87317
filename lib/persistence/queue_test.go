package persistence

import (
	"sync"
	"testing"
	"time"
)

func newTestRequest(id int) *request {
	return &request{recs: []Record{{Op: OpPut, Map: "q", Key: []byte{byte(id >> 8), byte(id)}}}}
}

// TestQueueBasicOperations tests push and batch pop in order
func TestQueueBasicOperations(t *testing.T) {
	q := newRequestQueue()
	defer q.Close()

	reqs := make([]*request, 10)
	for i := range reqs {
		reqs[i] = newTestRequest(i)
		if !q.Push(reqs[i]) {
			t.Fatalf("Failed to push item %d", i)
		}
	}
	if q.Len() != 10 {
		t.Fatalf("Expected length 10, got %d", q.Len())
	}

	batch, ok := q.PopBatch(4)
	if !ok || len(batch) != 4 {
		t.Fatalf("Expected a batch of 4, got %d (ok=%v)", len(batch), ok)
	}
	rest, ok := q.PopBatch(100)
	if !ok || len(rest) != 6 {
		t.Fatalf("Expected a batch of 6, got %d (ok=%v)", len(rest), ok)
	}

	for i, req := range append(batch, rest...) {
		if req != reqs[i] {
			t.Errorf("Item %d out of order", i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Queue should be empty, has %d", q.Len())
	}
}

// TestQueueBlocksUntilPush verifies the consumer sleeps on an empty queue and
// wakes up on push
func TestQueueBlocksUntilPush(t *testing.T) {
	q := newRequestQueue()
	defer q.Close()

	got := make(chan int, 1)
	go func() {
		batch, _ := q.PopBatch(10)
		got <- len(batch)
	}()

	select {
	case <-got:
		t.Fatal("PopBatch returned on an empty queue")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(newTestRequest(1))

	select {
	case n := <-got:
		if n != 1 {
			t.Errorf("Expected 1 item, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("Consumer was not woken up")
	}
}

// TestQueueConcurrentProducers verifies no item is lost or duplicated with many producers
func TestQueueConcurrentProducers(t *testing.T) {
	q := newRequestQueue()

	const numProducers = 10
	const itemsPerProducer = 1000
	total := numProducers * itemsPerProducer

	seen := make(map[*request]bool, total)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for len(seen) < total {
			batch, ok := q.PopBatch(64)
			if !ok {
				return
			}
			for _, req := range batch {
				if seen[req] {
					t.Errorf("Duplicate item received")
				}
				seen[req] = true
			}
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < numProducers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				if !q.Push(newTestRequest(i)) {
					t.Errorf("Push failed")
					return
				}
			}
		}()
	}
	wg.Wait()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("Timeout, received %d of %d items", len(seen), total)
	}
	q.Close()

	if len(seen) != total {
		t.Errorf("Expected %d items, got %d", total, len(seen))
	}
}

// TestQueueClose verifies close semantics
func TestQueueClose(t *testing.T) {
	q := newRequestQueue()
	q.Push(newTestRequest(1))
	q.Close()

	if q.Push(newTestRequest(2)) {
		t.Error("Push succeeded on a closed queue")
	}

	// items pushed before close are still delivered
	batch, ok := q.PopBatch(10)
	if !ok || len(batch) != 1 {
		t.Fatalf("Expected the remaining item, got %d (ok=%v)", len(batch), ok)
	}
	if _, ok := q.PopBatch(10); ok {
		t.Error("PopBatch should report a closed, empty queue")
	}
}

// TestQueueCloseWakesConsumer verifies a sleeping consumer returns on close
func TestQueueCloseWakesConsumer(t *testing.T) {
	q := newRequestQueue()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.PopBatch(1)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected ok=false after close")
		}
	case <-time.After(time.Second):
		t.Fatal("Consumer not woken by close")
	}
}
