package db

import (
	"context"
	"fmt"
	"time"
)

// SourceState is a row of the source_state table. Nil fields are NULL and
// fall back to defaults in the state package.
type SourceState struct {
	SourceID       string
	LastSync       *time.Time
	StartOffset    *int
	PageSize       *int
	WorkerCount    *int
	ElapsedSeconds *float64
	TotalWritten   *int
}

// GetSourceStates returns all rows ordered so that never synced sources come first
func GetSourceStates(ctx context.Context, conn PgxIface) ([]SourceState, error) {
	query := `
		SELECT source_id, last_sync, start_offset, page_size, worker_count, elapsed_seconds, total_written
		FROM source_state
		ORDER BY last_sync NULLS FIRST, source_id
	`
	rows, err := conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query source state: %w", err)
	}
	defer rows.Close()

	var states []SourceState
	for rows.Next() {
		var s SourceState
		if err := rows.Scan(&s.SourceID, &s.LastSync, &s.StartOffset, &s.PageSize,
			&s.WorkerCount, &s.ElapsedSeconds, &s.TotalWritten); err != nil {
			return nil, fmt.Errorf("failed to scan source state: %w", err)
		}
		states = append(states, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source state: %w", err)
	}
	return states, nil
}

// RecordSourceRun stores the outcome of a successful run and reports whether
// the source exists
func RecordSourceRun(ctx context.Context, conn PgxIface, sourceID string, lastSync time.Time, elapsedSeconds float64, totalWritten int) (bool, error) {
	query := `
		UPDATE source_state
		SET last_sync = $2, elapsed_seconds = $3, total_written = $4, updated_at = now()
		WHERE source_id = $1
	`
	tag, err := conn.Exec(ctx, query, sourceID, lastSync, elapsedSeconds, totalWritten)
	if err != nil {
		return false, fmt.Errorf("failed to store state of %s: %w", sourceID, err)
	}
	return tag.RowsAffected() > 0, nil
}
