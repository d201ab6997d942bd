package sync

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/metrics"
)

// ReaderRole selects whether a reader fans out the offsets of a run
type ReaderRole int

const (
	// RoleFollower readers process offsets until the run is cancelled
	RoleFollower ReaderRole = iota
	// RoleLeader is held by exactly one reader per run. After its first
	// successful in-range read it enqueues every remaining offset and exits.
	RoleLeader
)

func (r ReaderRole) String() string {
	if r == RoleLeader {
		return "leader"
	}
	return "follower"
}

type reader struct {
	role     ReaderRole
	params   RunParams
	source   Source
	exec     *executor
	offsets  *Queue[int]
	results  *Queue[[]Record]
	outcomes *Queue[Outcome]
	metrics  *metrics.Metrics
	log      *logrus.Entry

	claimed chan struct{} // closed once the first offset is taken, may be nil
}

// run consumes offsets until ctx is cancelled or, for the leader, until the
// remaining offsets have been enqueued
func (r *reader) run(ctx context.Context) error {
	for {
		offset, err := r.offsets.Get(ctx)
		if err != nil {
			return nil
		}
		if r.claimed != nil {
			close(r.claimed)
			r.claimed = nil
		}
		fannedOut := r.process(ctx, offset)
		r.offsets.Done()
		if fannedOut {
			r.log.Debug("Leader finished fanning out offsets")
			return nil
		}
	}
}

// process fetches the page at offset and reports its outcome.
// It returns true when the leader has enqueued the remaining offsets.
func (r *reader) process(ctx context.Context, offset int) bool {
	log := r.log.WithField("offset", offset)
	log.Debugf("reading %d items", r.params.PageSize)

	req := PageRequest{
		SourceID: r.params.SourceID,
		Offset:   offset,
		PageSize: r.params.PageSize,
		Since:    r.params.Since,
	}
	var page Page
	err := r.exec.do(ctx, func(ctx context.Context) error {
		var fetchErr error
		page, fetchErr = r.source.Fetch(ctx, req)
		return fetchErr
	})
	if err == nil && page.Total < 0 {
		err = fmt.Errorf("source reported negative total %d", page.Total)
	}
	if err != nil {
		log.WithError(err).Error("Failed to read page")
		r.outcomes.Put(Outcome{Kind: KindReader, Count: FailedCount})
		r.metrics.PageFailed(r.params.SourceID)
		return false
	}

	switch {
	case page.Total == 0:
		log.Info("no changes read")
		r.outcomes.Put(Outcome{Kind: KindReader, Count: 0})
		return false
	case offset >= page.Total:
		log.Warnf("offset is beyond the %d total items, lowering \"start_offset\" may help", page.Total)
		r.outcomes.Put(Outcome{Kind: KindReader, Count: 0})
		return false
	}

	r.results.Put(page.Records)
	r.outcomes.Put(Outcome{Kind: KindReader, Count: len(page.Records)})
	r.metrics.RecordsRead(r.params.SourceID, len(page.Records))
	log.Infof("%d of %d items read", len(page.Records), page.Total)

	if r.role != RoleLeader {
		return false
	}
	remaining := remainingOffsets(offset, page.Total, r.params.PageSize)
	log.Infof("adding all remaining (#%d) offsets to request queue", len(remaining))
	for _, next := range remaining {
		r.offsets.Put(next)
	}
	return true
}

// remainingOffsets lists the page offsets following offset that are below total
func remainingOffsets(offset, total, pageSize int) []int {
	if pageSize <= 0 || offset+pageSize >= total {
		return nil
	}
	out := make([]int, 0, (total-offset-1)/pageSize)
	for next := offset + pageSize; next < total; next += pageSize {
		out = append(out, next)
	}
	return out
}
