package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/summarycheck/internal/consistency"
)

// ErrRunNotFound is returned when a run ID is not in the store.
var ErrRunNotFound = errors.New("run not found")

// ListRuns returns the most recent runs first. An empty scenario matches
// every scenario; a non-positive limit returns all runs.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ListRuns(ctx context.Context, scenario string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, scenario, pass, checkpoints, failures, errors
		FROM runs
		WHERE ? = '' OR scenario = ?
		ORDER BY seq DESC
		LIMIT ?
	`, scenario, scenario, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns a run and its checkpoints ordered by seq.
// Returns ErrRunNotFound if the ID is unknown.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, []Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, scenario, pass, checkpoints, failures, errors
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, nil, fmt.Errorf("read run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, nil, err
	}

	checkpoints, err := s.readCheckpoints(ctx, `
		SELECT seq, subject, type_tag, expected, actual, verdict, class, detail
		FROM checkpoints
		WHERE run_id = ?
		ORDER BY seq ASC
	`, id)
	if err != nil {
		return Run{}, nil, err
	}
	return run, checkpoints, nil
}

// FailedCheckpoints returns the non-passing checkpoints of a run in seq
// order. Empty for a passing or unknown run.
func (s *Store) FailedCheckpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	return s.readCheckpoints(ctx, `
		SELECT seq, subject, type_tag, expected, actual, verdict, class, detail
		FROM checkpoints
		WHERE run_id = ? AND verdict != 'pass'
		ORDER BY seq ASC
	`, runID)
}

// ReadOperations returns the oracle traffic recorded for a run, in
// recording order. Empty when the idempotence check did not run.
func (s *Store) ReadOperations(ctx context.Context, runID string) ([]consistency.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, client_id, handle, text, call, ret
		FROM operations
		WHERE run_id = ?
		ORDER BY idx ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := []consistency.Operation{}
	for rows.Next() {
		var op consistency.Operation
		var kind string
		if err := rows.Scan(&kind, &op.ClientID, &op.Handle, &op.Text, &op.Call, &op.Return); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Kind = consistency.OpKind(kind)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

func (s *Store) readCheckpoints(ctx context.Context, query string, args ...any) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer rows.Close()

	checkpoints := []Checkpoint{}
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(
			&cp.Seq, &cp.Subject, &cp.TypeTag, &cp.Expected,
			&cp.Actual, &cp.Verdict, &cp.Class, &cp.Detail,
		); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return checkpoints, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var pass int
	var errorsJSON string

	if err := row.Scan(
		&run.ID, &run.Seq, &run.Scenario, &pass,
		&run.Checkpoints, &run.Failures, &errorsJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	run.Pass = pass == 1
	if err := json.Unmarshal([]byte(errorsJSON), &run.Errors); err != nil {
		return Run{}, fmt.Errorf("unmarshal run errors: %w", err)
	}
	if len(run.Errors) == 0 {
		run.Errors = nil
	}
	return run, nil
}
