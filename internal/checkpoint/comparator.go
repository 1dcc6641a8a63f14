// Package checkpoint compares oracle summaries against expected literals.
//
// Each call to Verify is one checkpoint: the oracle is queried exactly once
// and the result resolves to exactly one Outcome. Comparison is exact byte
// equality; summaries are a committed format, not free text.
package checkpoint

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/roach88/summarycheck/internal/oracle"
)

// Verdict is the resolution of a checkpoint.
type Verdict string

const (
	Pass    Verdict = "pass"
	Fail    Verdict = "fail"
	Timeout Verdict = "timeout"
)

// Outcome is the result of one checkpoint.
type Outcome struct {
	Verdict Verdict
	Seq     int64

	// Actual is the summary the oracle returned, when it returned one.
	Actual string

	// Report is set for Fail and Timeout.
	Report *MismatchReport
}

// Passed reports whether the checkpoint passed.
func (o Outcome) Passed() bool {
	return o.Verdict == Pass
}

// Err returns the mismatch report as an error, or nil on Pass.
func (o Outcome) Err() error {
	if o.Report == nil {
		return nil
	}
	return o.Report
}

// Comparator runs checkpoints against an oracle and numbers them.
//
// Thread-safety: sequence allocation is atomic; the oracle must be safe for
// the callers' concurrency.
type Comparator struct {
	oracle oracle.Oracle
	seq    atomic.Int64
}

// NewComparator creates a comparator that queries o.
func NewComparator(o oracle.Oracle) *Comparator {
	return &Comparator{oracle: o}
}

// Verify queries the oracle once and compares its summary with expected.
func (c *Comparator) Verify(ctx context.Context, subject oracle.Subject, tag oracle.TypeTag, expected string) Outcome {
	seq := c.seq.Add(1)

	summary, err := c.oracle.Describe(ctx, subject)
	if err != nil {
		class := ClassOracleUnreachable
		if oracle.IsNoFormatter(err) {
			class = ClassNoFormatter
		}
		return Outcome{
			Verdict: Fail,
			Seq:     seq,
			Report: &MismatchReport{
				Class:    class,
				Seq:      seq,
				Subject:  subject,
				TypeTag:  tag,
				Expected: expected,
				Cause:    err,
			},
		}
	}

	if summary.Type != "" && summary.Type != tag {
		return Outcome{
			Verdict: Fail,
			Seq:     seq,
			Actual:  summary.Text,
			Report: &MismatchReport{
				Class:      ClassTypeMismatch,
				Seq:        seq,
				Subject:    subject,
				TypeTag:    tag,
				Expected:   expected,
				Actual:     summary.Text,
				ActualType: summary.Type,
			},
		}
	}

	if summary.Text != expected {
		return Outcome{
			Verdict: Fail,
			Seq:     seq,
			Actual:  summary.Text,
			Report: &MismatchReport{
				Class:    ClassSummaryMismatch,
				Seq:      seq,
				Subject:  subject,
				TypeTag:  tag,
				Expected: expected,
				Actual:   summary.Text,
			},
		}
	}

	return Outcome{Verdict: Pass, Seq: seq, Actual: summary.Text}
}

// Expired resolves a gated checkpoint whose gate timed out. The oracle is
// not queried.
func (c *Comparator) Expired(subject oracle.Subject, tag oracle.TypeTag, expected string, bound time.Duration) Outcome {
	seq := c.seq.Add(1)
	return Outcome{
		Verdict: Timeout,
		Seq:     seq,
		Report: &MismatchReport{
			Class:    ClassGateTimeout,
			Seq:      seq,
			Subject:  subject,
			TypeTag:  tag,
			Expected: expected,
			Bound:    bound,
		},
	}
}

// ActionFailed resolves a gated checkpoint whose operation reported err.
// The oracle is not queried.
func (c *Comparator) ActionFailed(subject oracle.Subject, tag oracle.TypeTag, expected string, err error) Outcome {
	return c.unresolved(ClassActionFailed, subject, tag, expected, err)
}

// Cancelled resolves a gated checkpoint whose wait was cancelled by err.
// The oracle is not queried.
func (c *Comparator) Cancelled(subject oracle.Subject, tag oracle.TypeTag, expected string, err error) Outcome {
	return c.unresolved(ClassCancelled, subject, tag, expected, err)
}

func (c *Comparator) unresolved(class FailureClass, subject oracle.Subject, tag oracle.TypeTag, expected string, err error) Outcome {
	seq := c.seq.Add(1)
	return Outcome{
		Verdict: Fail,
		Seq:     seq,
		Report: &MismatchReport{
			Class:    class,
			Seq:      seq,
			Subject:  subject,
			TypeTag:  tag,
			Expected: expected,
			Cause:    err,
		},
	}
}

// Count returns the number of checkpoints resolved so far.
func (c *Comparator) Count() int64 {
	return c.seq.Load()
}
