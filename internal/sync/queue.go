package sync

import (
	"context"
	gosync "sync"
)

// Queue is an unbounded FIFO shared by many producers and consumers.
// Every item handed out by Get must be acknowledged with Done so that
// Join can tell when all enqueued work has been processed.
type Queue[T any] struct {
	mu         gosync.Mutex
	items      []T
	unfinished int
	available  chan struct{} // closed and replaced on every Put
	idle       chan struct{} // closed while unfinished == 0
}

// NewQueue creates an empty queue
func NewQueue[T any]() *Queue[T] {
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		available: make(chan struct{}),
		idle:      idle,
	}
}

// Put appends an item and wakes up waiting consumers. It never blocks.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
	if q.unfinished == 0 {
		q.idle = make(chan struct{})
	}
	q.unfinished++

	close(q.available)
	q.available = make(chan struct{})
}

// Get removes the oldest item, waiting until one is available or ctx is done
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, nil
		}
		wait := q.available
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Done marks one previously retrieved item as processed.
// Calling Done more times than items were put is a programming error.
func (q *Queue[T]) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.unfinished <= 0 {
		panic("sync: Queue.Done called more times than items were put")
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.idle)
	}
}

// Join waits until every item put so far has been marked done
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// Drain removes and returns all pending items, marking each of them done
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	q.unfinished -= len(items)
	if len(items) > 0 && q.unfinished == 0 {
		close(q.idle)
	}
	return items
}

// Len returns the number of items waiting to be retrieved
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Unfinished returns the number of items not yet marked done
func (q *Queue[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}
