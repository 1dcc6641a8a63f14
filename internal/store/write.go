package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/summarycheck/internal/consistency"
)

// Run is one stored scenario execution.
type Run struct {
	ID          string   `json:"id"`
	Seq         int64    `json:"seq"`
	Scenario    string   `json:"scenario"`
	Pass        bool     `json:"pass"`
	Checkpoints int      `json:"checkpoints"`
	Failures    int      `json:"failures"`
	Errors      []string `json:"errors,omitempty"`
}

// Checkpoint is one stored checkpoint outcome.
type Checkpoint struct {
	Seq      int64  `json:"seq"`
	Subject  string `json:"subject"`
	TypeTag  string `json:"type_tag"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
	Verdict  string `json:"verdict"`
	Class    string `json:"class,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// WriteRun stores a run with its checkpoints and recorded operations in a
// single transaction and returns the run's assigned seq.
//
// run.Seq is ignored; the store assigns the next seq. Writing a run ID that
// already exists fails.
func (s *Store) WriteRun(ctx context.Context, run Run, checkpoints []Checkpoint, ops []consistency.Operation) (int64, error) {
	errorsJSON, err := json.Marshal(nonNil(run.Errors))
	if err != nil {
		return 0, fmt.Errorf("write run: marshal errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write run: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, seq, scenario, pass, checkpoints, failures, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, seq, run.Scenario, boolToInt(run.Pass), run.Checkpoints, run.Failures, string(errorsJSON))
	if err != nil {
		return 0, fmt.Errorf("write run: insert run: %w", err)
	}

	for _, cp := range checkpoints {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (run_id, seq, subject, type_tag, expected, actual, verdict, class, detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, cp.Seq, cp.Subject, cp.TypeTag, cp.Expected, cp.Actual, cp.Verdict, cp.Class, cp.Detail)
		if err != nil {
			return 0, fmt.Errorf("write run: insert checkpoint %d: %w", cp.Seq, err)
		}
	}

	for i, op := range ops {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO operations (run_id, idx, kind, client_id, handle, text, call, ret)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i, string(op.Kind), op.ClientID, op.Handle, op.Text, op.Call, op.Return)
		if err != nil {
			return 0, fmt.Errorf("write run: insert operation %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, nil
}

// DeleteRun removes a run and everything stored with it.
// Deleting an unknown run returns ErrRunNotFound.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete run: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delete run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
