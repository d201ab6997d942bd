package state

import (
	"context"
	"fmt"

	"github.com/cybertec-postgresql/list_sync/internal/db"
)

// PostgresStore keeps the state in the source_state table
type PostgresStore struct {
	pool db.PgxPoolIface
}

// OpenPostgres connects, migrates the schema and returns the store
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := db.NewWithRetry(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := db.ApplyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return NewPostgresStore(pool), nil
}

// NewPostgresStore uses an already migrated pool
func NewPostgresStore(pool db.PgxPoolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Load returns every registered list, never synced ones first
func (s *PostgresStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := db.GetSourceStates(ctx, s.pool)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := Entry{
			SourceID:       r.SourceID,
			StartOffset:    r.StartOffset,
			PageSize:       r.PageSize,
			WorkerCount:    r.WorkerCount,
			ElapsedSeconds: r.ElapsedSeconds,
			TotalUpdates:   r.TotalWritten,
		}
		if r.LastSync != nil {
			ts := FormatTimestamp(*r.LastSync)
			e.LatestTimestamp = &ts
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Record stores the run outcome on the list's row
func (s *PostgresStore) Record(ctx context.Context, rec RunRecord) error {
	found, err := db.RecordSourceRun(ctx, s.pool, rec.SourceID, rec.StartedAt, rec.ElapsedSeconds, rec.TotalUpdates)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.SourceID)
	}
	return nil
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
