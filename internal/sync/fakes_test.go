package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"
)

var errUnavailable = errors.New("service unavailable")

// memberSource serves pages out of an in-memory list
type memberSource struct {
	mu        gosync.Mutex
	records   []Record
	changedAt []time.Time
	total     int // reported instead of len(records) when > 0
	failAt    map[int]bool
	block     bool // wait for ctx cancellation on every fetch
	requests  []PageRequest
}

func newMemberSource(n int) *memberSource {
	s := &memberSource{failAt: map[int]bool{}}
	changed := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		s.records = append(s.records, Record{
			ID:     fmt.Sprintf("id%03d", i),
			Email:  fmt.Sprintf("member%03d@example.com", i),
			Status: "subscribed",
		})
		s.changedAt = append(s.changedAt, changed)
	}
	return s
}

func (s *memberSource) Fetch(ctx context.Context, req PageRequest) (Page, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	fail := s.failAt[req.Offset]
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return Page{}, ctx.Err()
	}
	if fail {
		return Page{}, errUnavailable
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var matching []Record
	for i, r := range s.records {
		if req.Since == nil || s.changedAt[i].After(*req.Since) {
			matching = append(matching, r)
		}
	}
	total := len(matching)
	if s.total > 0 {
		total = s.total
	}
	page := Page{Total: total}
	if req.Offset < len(matching) {
		end := min(req.Offset+req.PageSize, len(matching))
		page.Records = append([]Record(nil), matching[req.Offset:end]...)
	}
	return page, nil
}

func (s *memberSource) offsets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.Offset)
	}
	return out
}

// ingestDestination accepts every batch unless told otherwise
type ingestDestination struct {
	mu       gosync.Mutex
	batches  [][]Record
	fail     bool
	accepted func(n int) int // overrides the accepted count when set
}

func (d *ingestDestination) Write(_ context.Context, records []Record) (WriteResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, records)
	if d.fail {
		return WriteResult{Status: "ERROR", Accepted: FailedCount}, errUnavailable
	}
	n := len(records)
	if d.accepted != nil {
		n = d.accepted(n)
	}
	return WriteResult{Status: "OK", Accepted: n}, nil
}

func (d *ingestDestination) writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.batches)
}

func (d *ingestDestination) written() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Record
	for _, b := range d.batches {
		out = append(out, b...)
	}
	return out
}
