// Package store persists extraction jobs, their results and the puzzles
// they produced in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jacokyle01/puzzle-miner/models"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - jobs, results, puzzles
const currentSchemaVersion = 1

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Job statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// Store is a SQLite-backed result store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SaveJob records a submitted job as pending. Saving a known id is a no-op.
func (s *Store) SaveJob(ctx context.Context, job models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, payload, status, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, string(payload), StatusPending, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// PendingJobs returns the jobs without a result, oldest first.
func (s *Store) PendingJobs(ctx context.Context) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM jobs WHERE status = ? ORDER BY created_at, id`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job models.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			return nil, fmt.Errorf("unmarshal job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SaveResult stores r and its puzzles, replacing any earlier result for the
// same job, and marks the job done.
func (s *Store) SaveResult(ctx context.Context, r models.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result %s: %w", r.JobID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO results (job_id, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		r.JobID, string(payload), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert result %s: %w", r.JobID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM puzzles WHERE job_id = ?`, r.JobID); err != nil {
		return fmt.Errorf("clear puzzles of %s: %w", r.JobID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO puzzles (id, job_id, game_id, source_ply, category, kind, severity, fen, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare puzzle insert: %w", err)
	}
	defer stmt.Close()
	for _, pz := range r.Puzzles {
		body, err := json.Marshal(pz)
		if err != nil {
			return fmt.Errorf("marshal puzzle %s: %w", pz.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, pz.ID, r.JobID, pz.GameID, pz.SourcePly,
			string(pz.Category), string(pz.Kind), string(pz.Severity), pz.FEN, string(body)); err != nil {
			return fmt.Errorf("insert puzzle %s: %w", pz.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, StatusDone, r.JobID); err != nil {
		return fmt.Errorf("mark job %s done: %w", r.JobID, err)
	}
	return tx.Commit()
}

// GetResult returns the stored result of a job.
func (s *Store) GetResult(ctx context.Context, jobID string) (models.Result, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM results WHERE job_id = ?`, jobID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Result{}, fmt.Errorf("result %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return models.Result{}, fmt.Errorf("query result %s: %w", jobID, err)
	}
	var r models.Result
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return models.Result{}, fmt.Errorf("unmarshal result %s: %w", jobID, err)
	}
	return r, nil
}

// PuzzlesByGame returns the puzzles extracted from one game in ply order.
func (s *Store) PuzzlesByGame(ctx context.Context, gameID string) ([]models.Puzzle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM puzzles WHERE game_id = ? ORDER BY source_ply, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query puzzles of %s: %w", gameID, err)
	}
	defer rows.Close()

	var out []models.Puzzle
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan puzzle: %w", err)
		}
		var pz models.Puzzle
		if err := json.Unmarshal([]byte(payload), &pz); err != nil {
			return nil, fmt.Errorf("unmarshal puzzle: %w", err)
		}
		out = append(out, pz)
	}
	return out, rows.Err()
}
