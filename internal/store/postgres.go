package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-enrich/internal/db"
	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-record store operations.
var preparedStatements = map[string]string{
	"append_checkpoint": `INSERT INTO checkpoints (source, deal_id, completed_at) VALUES ($1, $2, $3) ON CONFLICT (source, deal_id) DO NOTHING`,
	"load_checkpoints":  `SELECT source, deal_id, completed_at FROM checkpoints WHERE source = $1 ORDER BY seq`,
	"insert_run":        `INSERT INTO runs (id, source, input, fresh_start, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"remove_dlq":        `DELETE FROM dead_letter_queue WHERE source = $1 AND deal_id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	seq          BIGSERIAL PRIMARY KEY,
	source       TEXT NOT NULL,
	deal_id      TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source, deal_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source      TEXT NOT NULL,
	input       TEXT NOT NULL,
	fresh_start BOOLEAN NOT NULL DEFAULT false,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     JSONB,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	source         TEXT NOT NULL,
	deal_id        TEXT NOT NULL,
	deal           JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_phase   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (source, deal_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_source ON checkpoints(source);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

// CheckIntegrity verifies the database is reachable and that no blank
// deal ids were ever persisted.
func (s *PostgresStore) CheckIntegrity(ctx context.Context) error {
	var blank int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE btrim(deal_id) = ''`,
	).Scan(&blank)
	if err != nil {
		return eris.Wrap(err, "postgres: integrity check")
	}
	if blank > 0 {
		return eris.Wrapf(ErrCorrupt, "postgres: %d checkpoint rows have blank deal_id", blank)
	}
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Checkpoints

func (s *PostgresStore) LoadCheckpoints(ctx context.Context, source string) ([]model.CheckpointEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source, deal_id, completed_at FROM checkpoints WHERE source = $1 ORDER BY seq`,
		source,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load checkpoints %s", source)
	}
	defer rows.Close()

	var entries []model.CheckpointEntry
	for rows.Next() {
		var e model.CheckpointEntry
		if err := rows.Scan(&e.Source, &e.DealID, &e.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: load checkpoints iterate")
	}
	if err := checkLoaded(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *PostgresStore) AppendCheckpoint(ctx context.Context, entry model.CheckpointEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (source, deal_id, completed_at) VALUES ($1, $2, $3) ON CONFLICT (source, deal_id) DO NOTHING`,
		entry.Source, entry.DealID, entry.CompletedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: append checkpoint %s", entry.DealID)
}

// ImportCheckpoints bulk-loads entries through a temp table, skipping ids
// that are already checkpointed.
func (s *PostgresStore) ImportCheckpoints(ctx context.Context, entries []model.CheckpointEntry) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return 0, err
		}
		at := e.CompletedAt
		if at.IsZero() {
			at = now
		}
		rows = append(rows, []any{e.Source, e.DealID, at.UTC()})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:          "checkpoints",
		Columns:        []string{"source", "deal_id", "completed_at"},
		ConflictKeys:   []string{"source", "deal_id"},
		IgnoreExisting: true,
	}, rows)
	return n, eris.Wrap(err, "postgres: import checkpoints")
}

func (s *PostgresStore) ResetCheckpoints(ctx context.Context, source string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE source = $1`, source)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: reset checkpoints %s", source)
	}
	return tag.RowsAffected(), nil
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, source, input string, fresh bool) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, source, input, fresh_start, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, source, input, fresh, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:         id,
		Source:     source,
		Input:      input,
		FreshStart: fresh,
		Status:     model.RunStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.Summary, runErr string) error {
	var summaryJSON []byte
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal summary")
		}
		summaryJSON = b
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, summary = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(status), summaryJSON, runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const postgresRunColumns = `id, source, input, fresh_start, status, summary, error, created_at, updated_at`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT `+postgresRunColumns+` FROM runs WHERE id = $1`,
		runID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + postgresRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var summaryJSON []byte
	if err := row.Scan(&r.ID, &r.Source, &r.Input, &r.FreshStart, &r.Status,
		&summaryJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if summaryJSON != nil {
		r.Summary = &model.Summary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	dealJSON, err := json.Marshal(entry.Deal)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq deal")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (source, deal_id, deal, error, error_type, failed_phase, retry_count, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8)
		 ON CONFLICT (source, deal_id) DO UPDATE SET
		   deal = $3, error = $4, error_type = $5, failed_phase = $6,
		   retry_count = dead_letter_queue.retry_count + 1, last_failed_at = $8`,
		entry.Source, entry.DealID, dealJSON, entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: enqueue dlq %s", entry.DealID)
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, source, dealID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE source = $1 AND deal_id = $2`, source, dealID)
	return eris.Wrapf(err, "postgres: remove dlq %s", dealID)
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT source, deal_id, deal, error, error_type, failed_phase, retry_count, created_at, last_failed_at
	          FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		query += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY last_failed_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var dealJSON []byte
		if err := rows.Scan(&e.Source, &e.DealID, &dealJSON, &e.Error, &e.ErrorType,
			&e.FailedPhase, &e.RetryCount, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if err := json.Unmarshal(dealJSON, &e.Deal); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq deal")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}
