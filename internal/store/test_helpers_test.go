package store

import (
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRun creates a run with one passing and one failing checkpoint.
func createTestRun(id, scenario string) (Run, []Checkpoint) {
	run := Run{
		ID:          id,
		Scenario:    scenario,
		Pass:        false,
		Checkpoints: 2,
		Failures:    1,
		Errors:      []string{"checkpoint 2 failed: summary_mismatch"},
	}
	checkpoints := []Checkpoint{
		{Seq: 1, Subject: "request (0x1)", TypeTag: "NSURLRequest", Expected: "https://google.com", Actual: "https://google.com", Verdict: "pass"},
		{Seq: 2, Subject: "request (0x1)", TypeTag: "NSURLRequest", Expected: "GET, https://google.com", Actual: "POST, https://google.com", Verdict: "fail", Class: "summary_mismatch", Detail: "checkpoint 2 failed"},
	}
	return run, checkpoints
}
