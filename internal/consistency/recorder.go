// Package consistency checks that an oracle behaves like a read-only view of
// its subjects.
//
// A Recorder wraps an oracle and logs every describe together with the
// mutations the scenario reports. Check then asks porcupine whether the
// history is linearizable against a model where, per subject, a describe must
// return the same text as the previous describe unless a mutation may have
// happened in between. Asynchronous mutations span from the moment the
// background operation started until it signalled completion.
package consistency

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/summarycheck/internal/oracle"
)

// OpKind distinguishes recorded operations.
type OpKind string

const (
	OpDescribe OpKind = "describe"
	OpMutate   OpKind = "mutate"
)

// Client ids used for visualization lanes.
const (
	ClientScenario   = 0
	ClientBackground = 1
)

// Operation is one recorded call.
//
// Call and Return are logical timestamps from the recorder's clock, so the
// history is deterministic and independent of wall time.
type Operation struct {
	Kind     OpKind `json:"kind"`
	ClientID int    `json:"client_id"`
	Handle   string `json:"handle"`
	Text     string `json:"text,omitempty"`
	Call     int64  `json:"call"`
	Return   int64  `json:"return"`
}

// Recorder is an oracle decorator that records describes and mutations.
//
// Only successful describes are recorded; failures carry no summary to
// compare. Thread-safety: safe for concurrent use.
type Recorder struct {
	oracle oracle.Oracle
	clock  atomic.Int64

	mu  sync.Mutex
	ops []Operation
}

// NewRecorder wraps o.
func NewRecorder(o oracle.Oracle) *Recorder {
	return &Recorder{oracle: o}
}

func (r *Recorder) tick() int64 {
	return r.clock.Add(1)
}

func (r *Recorder) append(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

// Describe queries the wrapped oracle and records the result.
func (r *Recorder) Describe(ctx context.Context, subject oracle.Subject) (oracle.Summary, error) {
	call := r.tick()
	summary, err := r.oracle.Describe(ctx, subject)
	ret := r.tick()
	if err != nil {
		return summary, err
	}

	r.append(Operation{
		Kind:     OpDescribe,
		ClientID: ClientScenario,
		Handle:   subject.Handle,
		Text:     summary.Text,
		Call:     call,
		Return:   ret,
	})
	return summary, nil
}

// Mutated records an instantaneous mutation of subject.
func (r *Recorder) Mutated(subject oracle.Subject) {
	r.Mutating(subject, ClientScenario)()
}

// Mutating records the start of a mutation and returns a function that
// records its end. Calling the returned function more than once has no
// further effect.
func (r *Recorder) Mutating(subject oracle.Subject, client int) func() {
	call := r.tick()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.append(Operation{
				Kind:     OpMutate,
				ClientID: client,
				Handle:   subject.Handle,
				Call:     call,
				Return:   r.tick(),
			})
		})
	}
}

// History returns a copy of the recorded operations.
func (r *Recorder) History() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Operation(nil), r.ops...)
}
