// Package history persists run plans and step results. The store is
// append-only for results: every attempt is recorded, and executor
// dependents only become eligible after the attempt row is durable.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/murmurhq/murmur/internal/plan"
)

// StepResult is one recorded tool attempt.
type StepResult struct {
	RunID     uuid.UUID
	Revision  int // plan revision this attempt executed under
	StepIndex int
	Attempt   int // 1-based attempt number
	ToolName  string
	Success   bool
	Data      string // tool output when Success
	Error     string // failure description otherwise
	Advice    string // optional tool guidance, success or failure
	Timestamp time.Time
}

// Store persists plans and step results in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates a store backed by the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStore creates a store using an existing database handle.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS plans (
			run_id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			plan_json BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, revision)
		);

		CREATE TABLE IF NOT EXISTS step_results (
			run_id TEXT NOT NULL,
			revision INTEGER NOT NULL,
			step_index INTEGER NOT NULL,
			attempt INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			success INTEGER NOT NULL,
			data TEXT,
			error TEXT,
			advice TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (run_id, revision, step_index, attempt)
		);

		CREATE INDEX IF NOT EXISTS idx_step_results_run
			ON step_results(run_id, revision, step_index);
	`)
	return err
}

// SetPlan stores a plan revision for a run. Revisions start at 0 and
// increase on each replan.
func (s *Store) SetPlan(runID uuid.UUID, revision int, p *plan.Plan) error {
	data, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO plans (run_id, revision, plan_json, created_at)
		VALUES (?, ?, ?, ?)
	`, runID.String(), revision, data, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlan returns the latest plan revision for a run, or nil if none
// is stored.
func (s *Store) GetPlan(runID uuid.UUID) (*plan.Plan, int, error) {
	row := s.db.QueryRow(`
		SELECT revision, plan_json FROM plans
		WHERE run_id = ?
		ORDER BY revision DESC
		LIMIT 1
	`, runID.String())

	var revision int
	var data []byte
	if err := row.Scan(&revision, &data); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("query plan: %w", err)
	}

	p, err := plan.Unmarshal(data)
	if err != nil {
		return nil, 0, err
	}
	return p, revision, nil
}

// Append durably records one step attempt. It must return before the
// executor marks dependents eligible.
func (s *Store) Append(r *StepResult) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO step_results (run_id, revision, step_index, attempt, tool_name, success, data, error, advice, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.RunID.String(), r.Revision, r.StepIndex, r.Attempt, r.ToolName,
		boolToInt(r.Success), r.Data, r.Error, r.Advice,
		r.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert step result: %w", err)
	}
	return nil
}

// List returns every recorded attempt for one plan revision of a run,
// ordered by step index then attempt.
func (s *Store) List(runID uuid.UUID, revision int) ([]*StepResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, revision, step_index, attempt, tool_name, success, data, error, advice, created_at
		FROM step_results
		WHERE run_id = ? AND revision = ?
		ORDER BY step_index, attempt
	`, runID.String(), revision)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var results []*StepResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Latest returns the most recent attempt per step for one plan
// revision of a run, keyed by step index.
func (s *Store) Latest(runID uuid.UUID, revision int) (map[int]*StepResult, error) {
	all, err := s.List(runID, revision)
	if err != nil {
		return nil, err
	}
	latest := make(map[int]*StepResult)
	for _, r := range all {
		prev, ok := latest[r.StepIndex]
		if !ok || r.Attempt > prev.Attempt {
			latest[r.StepIndex] = r
		}
	}
	return latest, nil
}

func scanResult(rows *sql.Rows) (*StepResult, error) {
	var r StepResult
	var idStr, createdAt string
	var success int
	if err := rows.Scan(&idStr, &r.Revision, &r.StepIndex, &r.Attempt, &r.ToolName,
		&success, &r.Data, &r.Error, &r.Advice, &createdAt); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	r.RunID = id
	r.Success = success != 0
	r.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
