package sync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/metrics"
)

type writer struct {
	sourceID    string
	destination Destination
	exec        *executor
	results     *Queue[[]Record]
	outcomes    *Queue[Outcome]
	metrics     *metrics.Metrics
	log         *logrus.Entry
}

// run writes one dequeued batch per destination call until ctx is cancelled
func (w *writer) run(ctx context.Context) error {
	for {
		batch, err := w.results.Get(ctx)
		if err != nil {
			return nil
		}
		w.process(ctx, batch)
		w.results.Done()
	}
}

func (w *writer) process(ctx context.Context, batch []Record) {
	w.log.Debugf("writing %d results", len(batch))

	var res WriteResult
	err := w.exec.do(ctx, func(ctx context.Context) error {
		var writeErr error
		res, writeErr = w.destination.Write(ctx, batch)
		return writeErr
	})
	if err == nil && res.Accepted < 0 {
		err = fmt.Errorf("destination reported status %q", res.Status)
	}
	if err != nil {
		w.log.WithError(err).WithField("batch_size", len(batch)).Error("Failed to write batch")
		w.outcomes.Put(Outcome{Kind: KindWriter, Count: FailedCount})
		w.metrics.WriteFailed(w.sourceID)
		return
	}

	w.outcomes.Put(Outcome{Kind: KindWriter, Count: res.Accepted})
	w.metrics.RecordsWritten(w.sourceID, res.Accepted)
	w.log.Infof("wrote %d results with status %q", res.Accepted, res.Status)
}
