package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stateColumns = []string{"source_id", "last_sync", "start_offset", "page_size", "worker_count", "elapsed_seconds", "total_written"}

func TestPostgresStoreLoad(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	s := NewPostgresStore(mock)

	synced := time.Date(2024, 2, 1, 8, 30, 0, 0, time.Local)
	pageSize := 25
	mock.ExpectQuery("SELECT source_id, last_sync").
		WillReturnRows(pgxmock.NewRows(stateColumns).
			AddRow("fresh", (*time.Time)(nil), (*int)(nil), (*int)(nil), (*int)(nil), (*float64)(nil), (*int)(nil)).
			AddRow("known", &synced, (*int)(nil), &pageSize, (*int)(nil), (*float64)(nil), (*int)(nil)))

	entries, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	p, err := entries[0].RunParams()
	require.NoError(t, err)
	assert.Nil(t, p.Since)
	assert.Equal(t, 100, p.PageSize)

	p, err = entries[1].RunParams()
	require.NoError(t, err)
	require.NotNil(t, p.Since)
	assert.True(t, synced.Equal(*p.Since))
	assert.Equal(t, 25, p.PageSize)

	require.NoError(t, mock.ExpectationsWereMet())
	require.NoError(t, s.Close())
}

func TestPostgresStoreRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	s := NewPostgresStore(mock)

	started := time.Now()
	mock.ExpectExec("UPDATE source_state").
		WithArgs("known", started, 2.5, 30).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE source_state").
		WithArgs("unknown", started, 2.5, 30).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectExec("UPDATE source_state").
		WillReturnError(errors.New("connection reset"))

	require.NoError(t, s.Record(context.Background(), RunRecord{SourceID: "known", StartedAt: started, ElapsedSeconds: 2.5, TotalUpdates: 30}))

	err = s.Record(context.Background(), RunRecord{SourceID: "unknown", StartedAt: started, ElapsedSeconds: 2.5, TotalUpdates: 30})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.Record(context.Background(), RunRecord{SourceID: "known", StartedAt: started})
	assert.ErrorContains(t, err, "connection reset")

	require.NoError(t, mock.ExpectationsWereMet())
}
