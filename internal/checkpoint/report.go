package checkpoint

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/summarycheck/internal/oracle"
)

// FailureClass distinguishes why a checkpoint did not pass.
type FailureClass string

const (
	// ClassSummaryMismatch: the oracle answered with different text.
	ClassSummaryMismatch FailureClass = "summary_mismatch"

	// ClassTypeMismatch: the oracle resolved a different runtime type.
	ClassTypeMismatch FailureClass = "type_mismatch"

	// ClassOracleUnreachable: the oracle could not be contacted.
	ClassOracleUnreachable FailureClass = "oracle_unreachable"

	// ClassNoFormatter: the oracle has no rule for the subject's type.
	ClassNoFormatter FailureClass = "no_formatter"

	// ClassGateTimeout: the awaited operation did not complete within bound.
	ClassGateTimeout FailureClass = "gate_timeout"

	// ClassActionFailed: the awaited operation reported an error.
	ClassActionFailed FailureClass = "action_failed"

	// ClassCancelled: the wait was cancelled before the operation resolved.
	ClassCancelled FailureClass = "cancelled"
)

// MismatchReport describes a failed checkpoint. It is immutable once built
// and is returned to the caller as the outcome's error.
type MismatchReport struct {
	Class   FailureClass
	Seq     int64
	Subject oracle.Subject
	TypeTag oracle.TypeTag

	// Expected is the literal the scenario supplied.
	Expected string

	// Actual is the oracle text verbatim. Empty for oracle errors and timeouts.
	Actual string

	// ActualType is the runtime type the oracle reported (type mismatches).
	ActualType oracle.TypeTag

	// Bound is the gate timeout (gate timeouts only).
	Bound time.Duration

	// Cause is the oracle error, the operation's error, or the
	// cancellation error.
	Cause error
}

// Error implements the error interface.
//
// Strings are printed with %q so invisible differences stay visible.
func (r *MismatchReport) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "checkpoint %d failed: %s\n", r.Seq, r.Class)
	fmt.Fprintf(&buf, "  Type: %s\n", r.TypeTag)
	fmt.Fprintf(&buf, "  Subject: %s\n", r.Subject)

	switch r.Class {
	case ClassGateTimeout:
		fmt.Fprintf(&buf, "  Operation did not complete within %s\n", r.Bound)
		fmt.Fprintf(&buf, "  Expected: %q (not compared)\n", r.Expected)
	case ClassActionFailed:
		fmt.Fprintf(&buf, "  Operation failed: %v\n", r.Cause)
		fmt.Fprintf(&buf, "  Expected: %q (not compared)\n", r.Expected)
	case ClassCancelled:
		fmt.Fprintf(&buf, "  Wait cancelled before the operation completed: %v\n", r.Cause)
		fmt.Fprintf(&buf, "  Expected: %q (not compared)\n", r.Expected)
	case ClassOracleUnreachable, ClassNoFormatter:
		fmt.Fprintf(&buf, "  Expected: %q\n", r.Expected)
		fmt.Fprintf(&buf, "  Oracle error: %v\n", r.Cause)
	case ClassTypeMismatch:
		fmt.Fprintf(&buf, "  Expected type: %s\n", r.TypeTag)
		fmt.Fprintf(&buf, "  Actual type: %s\n", r.ActualType)
		fmt.Fprintf(&buf, "  Expected: %q\n", r.Expected)
		fmt.Fprintf(&buf, "  Actual: %q\n", r.Actual)
	default:
		fmt.Fprintf(&buf, "  Expected: %q\n", r.Expected)
		fmt.Fprintf(&buf, "  Actual: %q\n", r.Actual)
		if hint := r.Hint(); hint != "" {
			fmt.Fprintf(&buf, "  Hint: %s\n", hint)
		}
	}

	return buf.String()
}

func (r *MismatchReport) Unwrap() error {
	return r.Cause
}

// Diff renders a human-readable diff of expected vs actual text.
// Empty when there is nothing to diff. The format is for people, not parsers.
func (r *MismatchReport) Diff() string {
	if r.Class != ClassSummaryMismatch && r.Class != ClassTypeMismatch {
		return ""
	}
	return cmp.Diff(strings.Split(r.Expected, "\n"), strings.Split(r.Actual, "\n"))
}

// Hint names a near miss between expected and actual text. It never changes
// the verdict: comparison is exact.
func (r *MismatchReport) Hint() string {
	if r.Class != ClassSummaryMismatch || r.Expected == r.Actual {
		return ""
	}
	switch {
	case norm.NFC.String(r.Expected) == norm.NFC.String(r.Actual):
		return "texts differ only in Unicode normalization"
	case strings.TrimSpace(r.Expected) == strings.TrimSpace(r.Actual):
		return "texts differ only in surrounding whitespace"
	case strings.EqualFold(r.Expected, r.Actual):
		return "texts differ only in letter case"
	}
	return ""
}
