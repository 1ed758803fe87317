package db

import (
	"context"

	"github.com/ValentinKolb/mapdb/lib/persistence"
)

// Future is the pending result of an asynchronous write
type Future[T any] struct {
	ticket  *persistence.Ticket
	err     error // set if the write was rejected before it was queued
	resolve func() (T, error)
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func failedFuture[T any](err error) *Future[T] {
	return &Future[T]{err: err}
}

// Done is closed once the write completed
func (f *Future[T]) Done() <-chan struct{} {
	if f.ticket == nil {
		return closedCh
	}
	return f.ticket.Done()
}

// Wait blocks until the write is durable and applied and returns its result.
// If ctx ends while the write is still queued the write is abandoned; once it
// is being written Wait returns its real outcome.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	if f.ticket == nil {
		return zero, f.err
	}
	if err := f.ticket.Wait(ctx); err != nil {
		return zero, err
	}
	if f.resolve == nil {
		return zero, nil
	}
	return f.resolve()
}

// Previous is the result of an insert or remove: the value that was stored
// before and whether there was one
type Previous[V any] struct {
	Value   V
	Existed bool
}
