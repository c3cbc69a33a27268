package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/deal-enrich/internal/model"
	"github.com/sells-group/deal-enrich/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// A file that is not a SQLite database yields ErrCorrupt.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			if isNotADatabase(err) {
				return nil, eris.Wrapf(ErrCorrupt, "sqlite: %s: %v", dsn, err)
			}
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func isNotADatabase(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	source       TEXT NOT NULL,
	deal_id      TEXT NOT NULL,
	completed_at DATETIME NOT NULL,
	UNIQUE (source, deal_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	input       TEXT NOT NULL,
	fresh_start INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'running',
	summary     TEXT,
	error       TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	source         TEXT NOT NULL,
	deal_id        TEXT NOT NULL,
	deal           TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL,
	failed_phase   TEXT NOT NULL DEFAULT '',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL,
	PRIMARY KEY (source, deal_id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_source ON checkpoints(source);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CheckIntegrity runs PRAGMA quick_check. Anything other than "ok" is
// reported as ErrCorrupt.
func (s *SQLiteStore) CheckIntegrity(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return eris.Wrapf(ErrCorrupt, "sqlite: quick_check: %v", err)
	}
	defer rows.Close() //nolint:errcheck

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return eris.Wrapf(ErrCorrupt, "sqlite: quick_check scan: %v", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrapf(ErrCorrupt, "sqlite: quick_check: %v", err)
	}
	if len(problems) > 0 {
		return eris.Wrapf(ErrCorrupt, "sqlite: quick_check: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Checkpoints

func (s *SQLiteStore) LoadCheckpoints(ctx context.Context, source string) ([]model.CheckpointEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, deal_id, completed_at FROM checkpoints WHERE source = ? ORDER BY seq`,
		source,
	)
	if err != nil {
		return nil, eris.Wrapf(ErrCorrupt, "sqlite: load checkpoints: %v", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []model.CheckpointEntry
	for rows.Next() {
		var e model.CheckpointEntry
		if err := rows.Scan(&e.Source, &e.DealID, &e.CompletedAt); err != nil {
			return nil, eris.Wrapf(ErrCorrupt, "sqlite: scan checkpoint: %v", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(ErrCorrupt, "sqlite: load checkpoints iterate: %v", err)
	}
	if err := checkLoaded(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) AppendCheckpoint(ctx context.Context, entry model.CheckpointEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (source, deal_id, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT (source, deal_id) DO NOTHING`,
		entry.Source, entry.DealID, entry.CompletedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append checkpoint %s", entry.DealID)
}

// ImportCheckpoints inserts entries in one transaction, ignoring ids that
// are already checkpointed. Returns the number of new rows.
func (s *SQLiteStore) ImportCheckpoints(ctx context.Context, entries []model.CheckpointEntry) (int64, error) {
	for _, e := range entries {
		if err := validateEntry(e); err != nil {
			return 0, err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import checkpoints: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO checkpoints (source, deal_id, completed_at) VALUES (?, ?, ?)
		 ON CONFLICT (source, deal_id) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import checkpoints: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var inserted int64
	now := time.Now().UTC()
	for _, e := range entries {
		at := e.CompletedAt
		if at.IsZero() {
			at = now
		}
		res, err := stmt.ExecContext(ctx, e.Source, e.DealID, at.UTC())
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import checkpoint %s", e.DealID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import checkpoints: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) ResetCheckpoints(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE source = ?`, source)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: reset checkpoints %s", source)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, source, input string, fresh bool) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, source, input, fresh_start, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, source, input, fresh, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.Summary, runErr string) error {
	var summaryJSON sql.NullString
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal summary")
		}
		summaryJSON = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), summaryJSON, runErr, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, source, input, fresh_start, status, summary, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	dealJSON, err := json.Marshal(entry.Deal)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq deal")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (source, deal_id, deal, error, error_type, failed_phase, retry_count, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT (source, deal_id) DO UPDATE SET
		   deal = excluded.deal, error = excluded.error, error_type = excluded.error_type,
		   failed_phase = excluded.failed_phase, retry_count = dead_letter_queue.retry_count + 1,
		   last_failed_at = excluded.last_failed_at`,
		entry.Source, entry.DealID, string(dealJSON), entry.Error, entry.ErrorType,
		entry.FailedPhase, entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: enqueue dlq %s", entry.DealID)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, source, dealID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letter_queue WHERE source = ? AND deal_id = ?`, source, dealID)
	return eris.Wrapf(err, "sqlite: remove dlq %s", dealID)
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT source, deal_id, deal, error, error_type, failed_phase, retry_count, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any
	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, filter.Source)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY last_failed_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var dealJSON string
		if err := rows.Scan(&e.Source, &e.DealID, &dealJSON, &e.Error, &e.ErrorType,
			&e.FailedPhase, &e.RetryCount, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		if err := json.Unmarshal([]byte(dealJSON), &e.Deal); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq deal")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Source, &r.Input, &r.FreshStart, &r.Status,
		&summaryJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		r.Summary = &model.Summary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}
