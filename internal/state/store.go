package state

import (
	"context"
	"fmt"
	"strings"
)

// Store persists the sync state of every list
type Store interface {
	// Load returns all entries in their configured order
	Load(ctx context.Context) ([]Entry, error)
	// Record stores the outcome of a successful run
	Record(ctx context.Context, rec RunRecord) error
	Close() error
}

// Open selects the backend from dsn: postgres:// and postgresql:// use the
// source_state table, etcd:// uses one key per list, anything else is a JSON file path
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	case strings.HasPrefix(dsn, "etcd://"):
		return OpenEtcd(ctx, dsn)
	case dsn == "":
		return nil, fmt.Errorf("no state location configured")
	default:
		return NewFileStore(dsn), nil
	}
}
