// Package store persists terminated run summaries to PostgreSQL so the HTTP
// API and operators can retrieve them after the process exits.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/suture-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound reports that no summary exists for the requested run.
var ErrNotFound = errors.New("run not found")

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL implementation of schemas.RunStore. The full
// summary document is kept as JSONB; the flat columns exist for querying.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.RunStore = (*Store)(nil)

// New verifies the connection and returns a ready store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

const sqlCreateRuns = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		team_name TEXT NOT NULL,
		leader_name TEXT NOT NULL,
		branch_name TEXT NOT NULL,
		ci_status TEXT NOT NULL,
		all_tests_passed BOOLEAN NOT NULL,
		iterations_used INT NOT NULL,
		max_iterations INT NOT NULL,
		total_time_seconds DOUBLE PRECISION NOT NULL,
		final_score INT NOT NULL,
		summary JSONB NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL
	);`

const sqlCreateRunFixes = `
	CREATE TABLE IF NOT EXISTS run_fixes (
		run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
		position INT NOT NULL,
		file TEXT NOT NULL,
		bug_type TEXT NOT NULL,
		line_number INT NOT NULL,
		commit_message TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL,
		fix_description TEXT NOT NULL,
		PRIMARY KEY (run_id, position)
	);`

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, ddl := range []string{sqlCreateRuns, sqlCreateRunFixes} {
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

const sqlUpsertRun = `
	INSERT INTO runs (run_id, repository, team_name, leader_name, branch_name,
		ci_status, all_tests_passed, iterations_used, max_iterations,
		total_time_seconds, final_score, summary, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (run_id) DO UPDATE SET
		repository = EXCLUDED.repository,
		team_name = EXCLUDED.team_name,
		leader_name = EXCLUDED.leader_name,
		branch_name = EXCLUDED.branch_name,
		ci_status = EXCLUDED.ci_status,
		all_tests_passed = EXCLUDED.all_tests_passed,
		iterations_used = EXCLUDED.iterations_used,
		max_iterations = EXCLUDED.max_iterations,
		total_time_seconds = EXCLUDED.total_time_seconds,
		final_score = EXCLUDED.final_score,
		summary = EXCLUDED.summary,
		finished_at = EXCLUDED.finished_at;`

const sqlDeleteRunFixes = `DELETE FROM run_fixes WHERE run_id = $1;`

var runFixColumns = []string{"run_id", "position", "file", "bug_type", "line_number", "commit_message", "status", "description", "fix_description"}

// SaveSummary upserts the run row and replaces its fix rows in one
// transaction. Saving the same run twice leaves the latest document.
func (s *Store) SaveSummary(ctx context.Context, runID string, summary *schemas.RunSummary) error {
	if summary == nil {
		return errors.New("store: nil summary")
	}

	doc, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertRun,
		runID, summary.Repository, summary.TeamName, summary.LeaderName,
		summary.BranchName, summary.CIStatus, summary.AllTestsPassed,
		summary.IterationsUsed, summary.MaxIterations, summary.TotalTimeSeconds,
		summary.Score.Final, doc, summary.Timestamp.UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlDeleteRunFixes, runID); err != nil {
		return fmt.Errorf("failed to clear fix rows: %w", err)
	}

	if len(summary.Fixes) > 0 {
		rows := make([][]any, len(summary.Fixes))
		for i, f := range summary.Fixes {
			rows[i] = []any{
				runID, i, f.File, string(f.BugType), f.LineNumber,
				f.CommitMessage, string(f.Status), f.Description, f.FixDescription,
			}
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{"run_fixes"}, runFixColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy fixes: %w", err)
		}
		if int(copied) != len(summary.Fixes) {
			return fmt.Errorf("mismatch in copied fix count: expected %d, got %d", len(summary.Fixes), copied)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Debug("run summary persisted",
		zap.String("run_id", runID),
		zap.Int("fixes", len(summary.Fixes)))
	return nil
}

const sqlSelectSummary = `SELECT summary FROM runs WHERE run_id = $1;`

// GetSummary loads the stored document for runID. Returns ErrNotFound when
// the run was never persisted.
func (s *Store) GetSummary(ctx context.Context, runID string) (*schemas.RunSummary, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, sqlSelectSummary, runID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	var summary schemas.RunSummary
	if err := json.Unmarshal(doc, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode stored summary: %w", err)
	}
	return &summary, nil
}
