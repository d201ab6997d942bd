// Package migrations contains the schema of the PostgreSQL state backend.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// TableName keeps track of applied migrations
const TableName = "list_sync_migrations"

var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_source_state",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, createSourceStateSQL)
				return err
			},
		},
		// adding new migration here
	)
}

const createSourceStateSQL = `
	-- One row per synchronized list
	CREATE TABLE source_state (
		source_id text PRIMARY KEY,
		last_sync timestamp with time zone,
		start_offset integer,
		page_size integer,
		worker_count integer,
		elapsed_seconds double precision,
		total_written integer,
		updated_at timestamp with time zone NOT NULL DEFAULT now()
	);

	CREATE INDEX idx_source_state_last_sync ON source_state(last_sync NULLS FIRST);
`

var (
	migratorInstance *migrator.Migrator
	once             sync.Once
)

func getMigrator() (*migrator.Migrator, error) {
	var err error
	once.Do(func() {
		migratorInstance, err = migrator.New(
			migrations(),
			migrator.TableName(TableName),
		)
	})
	return migratorInstance, err
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}
	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}
	return needUpgrade, nil
}
