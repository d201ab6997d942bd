package sync

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// executor bounds the number of fetch and write calls in flight for a run.
// It lives as long as the run and is shared by all of its workers.
type executor struct {
	slots *semaphore.Weighted
}

func newExecutor(size int) *executor {
	if size < 1 {
		size = 1
	}
	return &executor{slots: semaphore.NewWeighted(int64(size))}
}

// do runs call once a slot is free. The call receives ctx so that it is
// abandoned when the run is cancelled.
func (e *executor) do(ctx context.Context, call func(context.Context) error) error {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.slots.Release(1)
	return call(ctx)
}
