package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_LoadCheckpoints(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT source, deal_id, completed_at FROM checkpoints WHERE source = \$1 ORDER BY seq`).
		WithArgs("ttd").
		WillReturnRows(pgxmock.NewRows([]string{"source", "deal_id", "completed_at"}).
			AddRow("ttd", "B", at).
			AddRow("ttd", "A", at.Add(time.Second)))

	entries, err := s.LoadCheckpoints(context.Background(), "ttd")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A"}, dealIDs(entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LoadCheckpoints_BlankIDIsCorrupt(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT source, deal_id, completed_at FROM checkpoints`).
		WithArgs("ttd").
		WillReturnRows(pgxmock.NewRows([]string{"source", "deal_id", "completed_at"}).
			AddRow("ttd", "", time.Now()))

	_, err := s.LoadCheckpoints(context.Background(), "ttd")
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestPostgresStore_AppendCheckpoint_OnConflictDoNothing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO checkpoints .* ON CONFLICT \(source, deal_id\) DO NOTHING`).
		WithArgs("ttd", "D1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, s.AppendCheckpoint(context.Background(), model.CheckpointEntry{Source: "ttd", DealID: "D1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ImportCheckpoints_UsesBulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cols := []string{"source", "deal_id", "completed_at"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_checkpoints"}, cols).WillReturnResult(2)
	mock.ExpectExec("DELETE FROM").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DO NOTHING").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.ImportCheckpoints(context.Background(), []model.CheckpointEntry{
		{Source: "ttd", DealID: "A"},
		{Source: "ttd", DealID: "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPostgresStore_CheckIntegrity(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM checkpoints WHERE btrim\(deal_id\) = ''`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	require.NoError(t, s.CheckIntegrity(context.Background()))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM checkpoints`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	err := s.CheckIntegrity(context.Background())
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResetCheckpoints(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM checkpoints WHERE source = \$1`).
		WithArgs("ttd").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.ResetCheckpoints(context.Background(), "ttd")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, source, input, fresh_start, status, summary, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source", "input", "fresh_start", "status", "summary", "error", "created_at", "updated_at",
		}).AddRow("run-1", "ttd", "deals.json", false, model.RunStatusComplete,
			[]byte(`{"succeeded":3,"failed":0,"skipped":0}`), "", now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ttd", run.Source)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 3, run.Summary.Succeeded)
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1`).
		WithArgs("failed", pgxmock.AnyArg(), "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "missing", model.RunStatusFailed, nil, "boom")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPostgresStore_ListRuns_BuildsFilters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`WHERE true AND status = \$1 AND source = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", "ttd", 10, 20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "source", "input", "fresh_start", "status", "summary", "error", "created_at", "updated_at",
		}))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Status: model.RunStatusComplete, Source: "ttd", Limit: 10, Offset: 20,
	})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueDLQ_IncrementsOnConflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	deal := &model.Deal{DealID: "D9", DealName: "Bad"}

	mock.ExpectExec(`(?s)INSERT INTO dead_letter_queue.*retry_count = dead_letter_queue.retry_count \+ 1`).
		WithArgs("ttd", "D9", pgxmock.AnyArg(), "boom", "transient", "write",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := resilience.NewDLQEntry("ttd", deal, model.ErrorKindTransient, "write", errors.New("boom"))
	require.NoError(t, s.EnqueueDLQ(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close_NilCloseFn(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
