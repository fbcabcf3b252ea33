// Package runstore persists queued and completed agent runs to Postgres.
// Grounded on core/db's pgx wrapper and the worker's claim/process/persist
// pattern: a run is claimed under a short transaction (TX1), the agent loop
// executes outside any transaction since it can block on LLM calls for
// minutes, and the outcome is persisted under a second short transaction
// (TX2). Replaces the teacher's sqlc-generated internal/store, which this
// checkout never carried generated code for.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"kairo.dev/agent/internal/agent"
)

var ErrNotFound = errors.New("run not found")

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is a persisted record of one run(task, options) invocation.
type Run struct {
	ID         string
	Goal       string
	Context    map[string]string
	Status     Status
	Attempt    int
	Result     *agent.RunResult
	Error      *string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting getByID
// run either standalone or inside Store.WithTx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	goal        TEXT NOT NULL,
	context     JSONB NOT NULL DEFAULT '{}',
	status      TEXT NOT NULL DEFAULT 'queued',
	attempt     INT NOT NULL DEFAULT 1,
	result      JSONB,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
`

// EnsureSchema creates the runs table if absent. Call once at startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensuring runs schema: %w", err)
	}
	return nil
}

// Create inserts a new queued run. Called when a run is first submitted,
// before its task is handed to the producer.
func (s *Store) Create(ctx context.Context, runID, goal string, taskContext map[string]string) error {
	contextJSON, err := json.Marshal(taskContext)
	if err != nil {
		return fmt.Errorf("marshaling run context: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, goal, context, status, attempt) VALUES ($1, $2, $3, $4, $5)`,
		runID, goal, contextJSON, StatusQueued, 1,
	)
	if err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, runID string) (*Run, error) {
	return getByID(ctx, s.pool, runID)
}

func getByID(ctx context.Context, q querier, runID string) (*Run, error) {
	row := q.QueryRow(ctx,
		`SELECT id, goal, context, status, attempt, result, error, created_at, started_at, finished_at
		 FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", runID, err)
	}
	return run, nil
}

// WithTx runs fn with a new transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ClaimQueued atomically moves a run from queued to running, returning
// claimed=false if it was already claimed by another worker or doesn't
// exist. Intended to run inside Store.WithTx (TX1).
func ClaimQueued(ctx context.Context, tx pgx.Tx, runID string) (bool, *Run, error) {
	row := tx.QueryRow(ctx,
		`UPDATE runs SET status = $2, started_at = now()
		 WHERE id = $1 AND status = $3
		 RETURNING id, goal, context, status, attempt, result, error, created_at, started_at, finished_at`,
		runID, StatusRunning, StatusQueued,
	)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("claiming run %s: %w", runID, err)
	}
	return true, run, nil
}

// SaveResult persists the outcome of a completed run. Intended to run
// inside Store.WithTx (TX2).
func SaveResult(ctx context.Context, tx pgx.Tx, runID string, result *agent.RunResult, runErr error) error {
	status := StatusSucceeded
	var errMsg *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		errMsg = &msg
	} else if result != nil && !result.Success {
		status = StatusFailed
		msg := fmt.Sprintf("stopped: %s", result.StopReason)
		errMsg = &msg
	}

	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling run result: %w", err)
		}
	}

	_, err := tx.Exec(ctx,
		`UPDATE runs SET status = $2, result = $3, error = $4, finished_at = now() WHERE id = $1`,
		runID, status, resultJSON, errMsg,
	)
	if err != nil {
		return fmt.Errorf("saving run result: %w", err)
	}
	return nil
}

// ResetToQueued puts a run back in the queued state, used when a worker
// exhausts its retry attempts and the message is about to move to the DLQ
// (otherwise the run would sit in "running" forever).
func ResetToQueued(ctx context.Context, tx pgx.Tx, runID string) error {
	_, err := tx.Exec(ctx,
		`UPDATE runs SET status = $2, started_at = NULL WHERE id = $1`,
		runID, StatusQueued,
	)
	if err != nil {
		return fmt.Errorf("resetting run %s to queued: %w", runID, err)
	}
	return nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var contextJSON, resultJSON []byte
	if err := row.Scan(
		&run.ID, &run.Goal, &contextJSON, &run.Status, &run.Attempt,
		&resultJSON, &run.Error, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	); err != nil {
		return nil, err
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &run.Context); err != nil {
			return nil, fmt.Errorf("unmarshaling run context: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		run.Result = &agent.RunResult{}
		if err := json.Unmarshal(resultJSON, run.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling run result: %w", err)
		}
	}
	return &run, nil
}
