// Package state loads the per-list sync state and records successful runs.
package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/sync"
)

// TimestampLayout is the format latest_timestamp is written back in
const TimestampLayout = "2006-01-02T15:04:05"

var (
	// ErrMissingSourceID is returned for entries without a list_id
	ErrMissingSourceID = errors.New("state entry has no list_id")
	// ErrNotFound is returned when recording a run for an unknown list
	ErrNotFound = errors.New("list not found in state")
)

// accepted layouts for latest_timestamp, tried in order
var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02T15:04",
	"2006-01-02",
}

// Entry is one configured list. Nil fields were absent and fall back to defaults.
type Entry struct {
	SourceID        string   `json:"list_id"`
	LatestTimestamp *string  `json:"latest_timestamp,omitempty"`
	StartOffset     *int     `json:"start_offset,omitempty"`
	PageSize        *int     `json:"items_per_request,omitempty"`
	WorkerCount     *int     `json:"worker_count,omitempty"`
	ElapsedSeconds  *float64 `json:"elapsed_seconds,omitempty"`
	TotalUpdates    *int     `json:"total_updates,omitempty"`
}

// RunRecord is written back after a successful run
type RunRecord struct {
	SourceID       string
	StartedAt      time.Time
	ElapsedSeconds float64
	TotalUpdates   int
}

// NewRunRecord converts a successful engine result
func NewRunRecord(sourceID string, res *sync.RunResult) RunRecord {
	return RunRecord{
		SourceID:       sourceID,
		StartedAt:      res.StartedAt,
		ElapsedSeconds: res.ElapsedSeconds,
		TotalUpdates:   res.TotalWritten,
	}
}

// LastSync returns the parsed latest_timestamp. An empty or unparsable value
// is nil which forces a full load.
func (e Entry) LastSync() *time.Time {
	if e.LatestTimestamp == nil || strings.TrimSpace(*e.LatestTimestamp) == "" {
		return nil
	}
	ts, err := ParseTimestamp(*e.LatestTimestamp)
	if err != nil {
		logrus.WithField("source", e.SourceID).WithError(err).
			Warn(`Failed to load "latest_timestamp", forcing LOAD instead of SYNC`)
		return nil
	}
	return &ts
}

// RunParams returns the engine parameters with defaults applied
func (e Entry) RunParams() (sync.RunParams, error) {
	if e.SourceID == "" {
		return sync.RunParams{}, ErrMissingSourceID
	}
	p := sync.RunParams{
		SourceID:    e.SourceID,
		WorkerCount: sync.DefaultWorkerCount,
		PageSize:    sync.DefaultPageSize,
		Since:       e.LastSync(),
	}
	if e.StartOffset != nil {
		p.StartOffset = *e.StartOffset
	}
	if e.PageSize != nil {
		p.PageSize = *e.PageSize
	}
	if e.WorkerCount != nil {
		p.WorkerCount = *e.WorkerCount
	}
	return p, nil
}

// ParseTimestamp parses a stored timestamp. Values without a zone are local time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}

// FormatTimestamp renders t in local time without fractional seconds
func FormatTimestamp(t time.Time) string {
	return t.In(time.Local).Format(TimestampLayout)
}
