package runs

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paperdex/paperdex/internal/paper"
	apperrors "github.com/paperdex/paperdex/pkg/errors"
	"github.com/paperdex/paperdex/pkg/postgres"
)

// Store persists runs and their outcomes in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "run-store"),
	}
}

// EnsureSchema creates the run tables and their indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingest_runs (
			id          UUID PRIMARY KEY,
			query       TEXT NOT NULL DEFAULT '',
			started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at TIMESTAMPTZ,
			total       INTEGER NOT NULL DEFAULT 0,
			successful  INTEGER NOT NULL DEFAULT 0,
			failed      INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT 'running',
			error       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs (started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS ingest_outcomes (
			id                 BIGSERIAL PRIMARY KEY,
			run_id             UUID NOT NULL REFERENCES ingest_runs(id) ON DELETE CASCADE,
			external_id        TEXT NOT NULL,
			succeeded          BOOLEAN NOT NULL,
			payload_downloaded BOOLEAN NOT NULL DEFAULT FALSE,
			error              TEXT NOT NULL DEFAULT '',
			recorded_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_outcomes_run_id ON ingest_outcomes (run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring run schema: %w", err)
		}
	}
	s.logger.Info("run schema ensured")
	return nil
}

// CreateRun inserts a new running run and returns it.
func (s *Store) CreateRun(ctx context.Context, query string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Query:     query,
		StartedAt: time.Now().UTC(),
		Status:    StatusRunning,
	}
	_, err := s.db.DB.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, query, started_at, status) VALUES ($1, $2, $3, $4)`,
		run.ID, run.Query, run.StartedAt, run.Status,
	)
	if err != nil {
		return Run{}, fmt.Errorf("creating run: %w", err)
	}
	return run, nil
}

// FinishRun records the final counts and status of a run. A non-nil runErr
// marks the run failed and stores the error text.
func (s *Store) FinishRun(ctx context.Context, runID string, summary paper.Summary, runErr error) error {
	status := StatusCompleted
	errText := ""
	if runErr != nil {
		status = StatusFailed
		errText = runErr.Error()
	}
	res, err := s.db.DB.ExecContext(ctx,
		`UPDATE ingest_runs SET
			finished_at = $2,
			total       = $3,
			successful  = $4,
			failed      = $5,
			status      = $6,
			error       = $7
		 WHERE id = $1`,
		runID, time.Now().UTC(),
		summary.Total, summary.Successful, summary.Failed,
		status, errText,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, apperrors.ErrRunNotFound)
	}
	return nil
}

const runColumns = `id, query, started_at, finished_at, total, successful, failed, status, error`

// GetRun fetches a single run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM ingest_runs WHERE id = $1`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, fmt.Errorf("run %s: %w", runID, apperrors.ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying run %s: %w", runID, err)
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}

// RecordOutcomes appends a batch of per-paper outcomes to a run in one
// transaction.
func (s *Store) RecordOutcomes(ctx context.Context, runID string, outcomes []paper.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ingest_outcomes (run_id, external_id, succeeded, payload_downloaded, error)
			 VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("preparing outcome insert: %w", err)
		}
		defer stmt.Close()
		for _, o := range outcomes {
			if _, err := stmt.ExecContext(ctx,
				runID, o.ExternalID, o.Succeeded, o.PayloadDownloaded, o.Error,
			); err != nil {
				return fmt.Errorf("recording outcome for %s: %w", o.ExternalID, err)
			}
		}
		return nil
	})
}

// Outcomes returns the recorded outcomes of a run in insertion order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]paper.Outcome, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT external_id, succeeded, payload_downloaded, error
		 FROM ingest_outcomes WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []paper.Outcome
	for rows.Next() {
		var o paper.Outcome
		if err := rows.Scan(&o.ExternalID, &o.Succeeded, &o.PayloadDownloaded, &o.Error); err != nil {
			return nil, fmt.Errorf("scanning outcome row: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}
	return out, nil
}

func scanRun(row interface{ Scan(dest ...any) error }) (Run, error) {
	var (
		run        Run
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.Query, &run.StartedAt, &finishedAt,
		&run.Total, &run.Successful, &run.Failed, &run.Status, &run.Error,
	)
	if err != nil {
		return Run{}, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}
