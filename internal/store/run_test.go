package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/roach88/summarycheck/internal/consistency"
)

func TestWriteRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run, checkpoints := createTestRun("run-1", "url_request_method")
	ops := []consistency.Operation{
		{Kind: consistency.OpDescribe, ClientID: 0, Handle: "0x1", Text: "https://google.com", Call: 1, Return: 2},
		{Kind: consistency.OpMutate, ClientID: 1, Handle: "0x1", Call: 3, Return: 6},
		{Kind: consistency.OpDescribe, ClientID: 0, Handle: "0x1", Text: "POST, https://google.com", Call: 7, Return: 8},
	}

	seq, err := s.WriteRun(ctx, run, checkpoints, ops)
	if err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}

	gotRun, gotCheckpoints, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	run.Seq = 1
	if !reflect.DeepEqual(gotRun, run) {
		t.Errorf("ReadRun() run = %+v, want %+v", gotRun, run)
	}
	if !reflect.DeepEqual(gotCheckpoints, checkpoints) {
		t.Errorf("ReadRun() checkpoints = %+v, want %+v", gotCheckpoints, checkpoints)
	}

	gotOps, err := s.ReadOperations(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadOperations() failed: %v", err)
	}
	if !reflect.DeepEqual(gotOps, ops) {
		t.Errorf("ReadOperations() = %+v, want %+v", gotOps, ops)
	}
}

func TestWriteRun_PreservesTextVerbatim(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	text := "café  \t\"quoted\"\n"
	run := Run{ID: "run-1", Scenario: "verbatim", Pass: true, Checkpoints: 1}
	cps := []Checkpoint{{Seq: 1, Subject: "0x1", TypeTag: "NSString", Expected: text, Actual: text, Verdict: "pass"}}

	if _, err := s.WriteRun(ctx, run, cps, nil); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}
	_, got, err := s.ReadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadRun() failed: %v", err)
	}
	if got[0].Actual != text || got[0].Expected != text {
		t.Errorf("text changed in storage: %q", got[0].Actual)
	}
}

func TestWriteRun_DuplicateIDFails(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run, cps := createTestRun("run-1", "dup")
	if _, err := s.WriteRun(ctx, run, cps, nil); err != nil {
		t.Fatalf("first WriteRun() failed: %v", err)
	}
	if _, err := s.WriteRun(ctx, run, cps, nil); err == nil {
		t.Fatal("second WriteRun() with the same ID succeeded")
	}

	// The failed write must not leave a partial run behind.
	runs, err := s.ListRuns(ctx, "dup", 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("len(runs) = %d, want 1", len(runs))
	}
}

func TestWriteRun_InvalidVerdictRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := Run{ID: "run-1", Scenario: "bad"}
	cps := []Checkpoint{{Seq: 1, Subject: "0x1", TypeTag: "T", Verdict: "maybe"}}
	if _, err := s.WriteRun(ctx, run, cps, nil); err == nil {
		t.Fatal("WriteRun() accepted an invalid verdict")
	}
	if _, _, err := s.ReadRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("ReadRun() after rollback = %v, want ErrRunNotFound", err)
	}
}

func TestListRuns_NewestFirstAndFiltered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, r := range []struct{ id, scenario string }{
		{"run-a", "alpha"},
		{"run-b", "beta"},
		{"run-c", "alpha"},
	} {
		run, cps := createTestRun(r.id, r.scenario)
		if _, err := s.WriteRun(ctx, run, cps, nil); err != nil {
			t.Fatalf("WriteRun(%s) failed: %v", r.id, err)
		}
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns() failed: %v", err)
	}
	if got := runIDs(all); !reflect.DeepEqual(got, []string{"run-c", "run-b", "run-a"}) {
		t.Errorf("ListRuns() order = %v", got)
	}

	alpha, err := s.ListRuns(ctx, "alpha", 0)
	if err != nil {
		t.Fatalf("ListRuns(alpha) failed: %v", err)
	}
	if got := runIDs(alpha); !reflect.DeepEqual(got, []string{"run-c", "run-a"}) {
		t.Errorf("ListRuns(alpha) = %v", got)
	}

	limited, err := s.ListRuns(ctx, "", 1)
	if err != nil {
		t.Fatalf("ListRuns(limit 1) failed: %v", err)
	}
	if got := runIDs(limited); !reflect.DeepEqual(got, []string{"run-c"}) {
		t.Errorf("ListRuns(limit 1) = %v", got)
	}

	none, err := s.ListRuns(ctx, "gamma", 0)
	if err != nil {
		t.Fatalf("ListRuns(gamma) failed: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("ListRuns(gamma) = %#v, want empty non-nil slice", none)
	}
}

func TestFailedCheckpoints(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2"} {
		run, cps := createTestRun(id, "alpha")
		if _, err := s.WriteRun(ctx, run, cps, nil); err != nil {
			t.Fatalf("WriteRun(%s) failed: %v", id, err)
		}
	}

	failed, err := s.FailedCheckpoints(ctx, "run-2")
	if err != nil {
		t.Fatalf("FailedCheckpoints() failed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("len(failed) = %d, want 1 (one run's failures only)", len(failed))
	}
	for _, cp := range failed {
		if cp.Verdict == "pass" {
			t.Errorf("FailedCheckpoints() returned a passing checkpoint: %+v", cp)
		}
	}

	unknown, err := s.FailedCheckpoints(ctx, "missing")
	if err != nil {
		t.Fatalf("FailedCheckpoints(missing) failed: %v", err)
	}
	if len(unknown) != 0 {
		t.Errorf("FailedCheckpoints(missing) = %#v, want empty", unknown)
	}
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, _, err := s.ReadRun(context.Background(), "missing")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("ReadRun() = %v, want ErrRunNotFound", err)
	}
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run, cps := createTestRun("run-1", "alpha")
	ops := []consistency.Operation{{Kind: consistency.OpDescribe, Handle: "0x1", Text: "x", Call: 1, Return: 2}}
	if _, err := s.WriteRun(ctx, run, cps, ops); err != nil {
		t.Fatalf("WriteRun() failed: %v", err)
	}

	if err := s.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteRun() failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM checkpoints").Scan(&count); err != nil {
		t.Fatalf("count checkpoints: %v", err)
	}
	if count != 0 {
		t.Errorf("checkpoints left after delete: %d", count)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM operations").Scan(&count); err != nil {
		t.Fatalf("count operations: %v", err)
	}
	if count != 0 {
		t.Errorf("operations left after delete: %d", count)
	}

	if err := s.DeleteRun(ctx, "run-1"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("second DeleteRun() = %v, want ErrRunNotFound", err)
	}
}

func runIDs(runs []Run) []string {
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	return ids
}
