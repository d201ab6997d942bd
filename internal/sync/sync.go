package sync

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cybertec-postgresql/list_sync/internal/metrics"
)

// Engine runs list synchronizations from a Source into a Destination
type Engine struct {
	source        Source
	destination   Destination
	ioConcurrency int
	metrics       *metrics.Metrics
}

// Option configures the engine
type Option func(*Engine)

// WithIOConcurrency bounds the number of fetch and write calls in flight per run.
// Zero selects two slots per worker pair.
func WithIOConcurrency(n int) Option {
	return func(e *Engine) {
		e.ioConcurrency = n
	}
}

// WithMetrics sets the instruments updated by runs
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates a new synchronization engine
func NewEngine(source Source, destination Destination, opts ...Option) *Engine {
	e := &Engine{
		source:      source,
		destination: destination,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run synchronizes one source. The returned error is only set for invalid
// parameters or when ctx is cancelled before the run completes; page and
// batch failures are reported through RunResult.Success.
func (e *Engine) Run(ctx context.Context, p RunParams) (*RunResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return e.run(ctx, p, newPipeline())
}

// pipeline holds the queues of one run and counts its live workers
type pipeline struct {
	offsets  *Queue[int]
	results  *Queue[[]Record]
	outcomes *Queue[Outcome]
	workers  atomic.Int32
}

func newPipeline() *pipeline {
	return &pipeline{
		offsets:  NewQueue[int](),
		results:  NewQueue[[]Record](),
		outcomes: NewQueue[Outcome](),
	}
}

func (e *Engine) run(ctx context.Context, p RunParams, pl *pipeline) (*RunResult, error) {
	runID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{
		"run_id": runID,
		"source": p.SourceID,
	})
	log.Infof("Starting sync with %d read/write workers", p.WorkerCount)

	startedAt := time.Now()

	ioSlots := e.ioConcurrency
	if ioSlots <= 0 {
		ioSlots = 2 * p.WorkerCount
	}
	exec := newExecutor(ioSlots)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	g, gctx := errgroup.WithContext(workerCtx)

	spawn := func(i int, role ReaderRole, claimed chan struct{}) {
		r := &reader{
			role:     role,
			params:   p,
			source:   e.source,
			exec:     exec,
			offsets:  pl.offsets,
			results:  pl.results,
			outcomes: pl.outcomes,
			metrics:  e.metrics,
			log:      log.WithFields(logrus.Fields{"worker": fmt.Sprintf("reader%d", i), "role": role.String()}),
			claimed:  claimed,
		}
		w := &writer{
			sourceID:    p.SourceID,
			destination: e.destination,
			exec:        exec,
			results:     pl.results,
			outcomes:    pl.outcomes,
			metrics:     e.metrics,
			log:         log.WithField("worker", fmt.Sprintf("writer%d", i)),
		}
		pl.workers.Add(2)
		g.Go(func() error {
			defer pl.workers.Add(-1)
			return r.run(gctx)
		})
		g.Go(func() error {
			defer pl.workers.Add(-1)
			return w.run(gctx)
		})
	}

	// the leader is the only consumer until it holds the start offset
	claimed := make(chan struct{})
	spawn(0, RoleLeader, claimed)

	start := time.Now()
	pl.offsets.Put(p.StartOffset)
	select {
	case <-claimed:
		for i := 1; i < p.WorkerCount; i++ {
			spawn(i, RoleFollower, nil)
		}
	case <-ctx.Done():
	}

	err := waitDrained(ctx, pl.offsets, pl.results)
	if err == nil {
		// a cancelled run may still drain because its fetches fail fast
		err = ctx.Err()
	}
	elapsed := time.Since(start)

	cancelWorkers()
	_ = g.Wait()

	// every worker has acknowledged what it took, so only queued items remain
	pl.offsets.Drain()
	pl.results.Drain()
	outcomes := pl.outcomes.Drain()

	if err != nil {
		log.WithError(err).Warn("Sync interrupted before completion")
		return nil, fmt.Errorf("sync of %s interrupted: %w", p.SourceID, err)
	}

	tally := tallyOutcomes(outcomes)
	result := &RunResult{
		RunID:          runID,
		Success:        tally.Successful(),
		StartedAt:      startedAt,
		ElapsedSeconds: math.Round(elapsed.Seconds()*10) / 10,
		TotalRead:      tally.Read,
		TotalWritten:   tally.Written,
		Failures:       tally.Failures,
	}
	e.metrics.RunFinished(p.SourceID, result.Success, elapsed.Seconds())

	log.WithFields(logrus.Fields{
		"read":     tally.Read,
		"written":  tally.Written,
		"failures": tally.Failures,
		"success":  result.Success,
	}).Infof("Sync completed in %.1f (s)", result.ElapsedSeconds)

	return result, nil
}

// waitDrained waits until every offset has been read and every batch written.
// Readers enqueue a batch before acknowledging its offset, so once the offsets
// are drained no new batch can appear.
func waitDrained(ctx context.Context, offsets *Queue[int], results *Queue[[]Record]) error {
	if err := offsets.Join(ctx); err != nil {
		return err
	}
	return results.Join(ctx)
}
