// Package sync implements the paginated list synchronization engine: a leader
// reader discovers the size of a source list and fans out page offsets, a pool
// of readers fetches the pages and a pool of writers pushes them to the
// destination.
package sync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultPageSize is the number of records requested per page
	DefaultPageSize = 100
	// DefaultWorkerCount is the number of readers and of writers per run.
	// The members API refuses more than 8 concurrent connections.
	DefaultWorkerCount = 8
)

// ErrInvalidParams is returned by Engine.Run for parameters that cannot describe a run
var ErrInvalidParams = errors.New("invalid run parameters")

// Record is a normalized list member
type Record struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// PageRequest identifies one page of a source list
type PageRequest struct {
	SourceID string
	Offset   int
	PageSize int
	Since    *time.Time // nil requests every record
}

// Page is the answer to a PageRequest.
// Total is the number of records matching the request as reported by the source.
type Page struct {
	Total   int
	Records []Record
}

// WriteResult is the answer of the destination to one batch
type WriteResult struct {
	Status   string
	Accepted int
}

// Source fetches pages of records
type Source interface {
	Fetch(ctx context.Context, req PageRequest) (Page, error)
}

// Destination accepts batches of records
type Destination interface {
	Write(ctx context.Context, records []Record) (WriteResult, error)
}

// RunParams describes one run for a single source
type RunParams struct {
	SourceID    string
	WorkerCount int
	PageSize    int
	StartOffset int
	Since       *time.Time
}

// Validate checks the parameters before any worker is started
func (p RunParams) Validate() error {
	switch {
	case p.WorkerCount <= 0:
		return fmt.Errorf("%w: worker count must be positive, got %d", ErrInvalidParams, p.WorkerCount)
	case p.PageSize <= 0:
		return fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidParams, p.PageSize)
	case p.StartOffset < 0:
		return fmt.Errorf("%w: start offset must not be negative, got %d", ErrInvalidParams, p.StartOffset)
	}
	return nil
}

// RunResult summarizes a finished run
type RunResult struct {
	RunID          string
	Success        bool
	StartedAt      time.Time
	ElapsedSeconds float64 // rounded to one decimal
	TotalRead      int
	TotalWritten   int
	Failures       int
}
