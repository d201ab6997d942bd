package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/list_sync/internal/retry"
)

// NewWithRetry creates a new PostgreSQL connection pool, retrying until the
// server answers a ping
func NewWithRetry(ctx context.Context, connStr string, callbacks ...ConnConfigCallback) (PgxPoolIface, error) {
	connConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, err
	}

	var pool PgxPoolIface
	err = retry.Do(ctx, retry.ConnectPolicy(), "postgres connect", func(ctx context.Context) error {
		p, err := NewWithConfig(ctx, connConfig.Copy(), callbacks...)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		logrus.WithError(err).Error("Failed to establish PostgreSQL connection after all retries")
		return nil, err
	}
	return pool, nil
}
