package oracle

import (
	"context"
	"fmt"
)

// TypeTag names the runtime type a checkpoint expects the subject to have,
// e.g. "NSURLRequest".
type TypeTag string

// Subject identifies a live object under inspection.
//
// Handle is stable for the duration of one checkpoint sequence (a memory
// address, a session id). Name is an optional human label used in reports.
type Subject struct {
	Handle string `json:"handle" yaml:"handle"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
}

// String returns the label if set, otherwise the handle.
func (s Subject) String() string {
	if s.Name != "" {
		return fmt.Sprintf("%s (%s)", s.Name, s.Handle)
	}
	return s.Handle
}

// Summary is what the oracle rendered for a subject.
type Summary struct {
	// Text is the summary exactly as the oracle returned it.
	Text string

	// Type is the runtime type the oracle resolved. Empty if the oracle
	// does not report it.
	Type TypeTag
}

// Oracle produces the ground-truth summary for a subject.
type Oracle interface {
	Describe(ctx context.Context, subject Subject) (Summary, error)
}

// Func adapts a function to the Oracle interface.
type Func func(ctx context.Context, subject Subject) (Summary, error)

// Describe calls f.
func (f Func) Describe(ctx context.Context, subject Subject) (Summary, error) {
	return f(ctx, subject)
}
