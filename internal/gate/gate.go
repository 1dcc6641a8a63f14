// Package gate provides a one-shot completion gate that bridges a background
// operation to a checkpoint waiting for it.
//
// A Gate starts Pending and moves exactly once to a terminal state:
//
//	Pending → Fulfilled   (the background operation called Fulfill)
//	Pending → Failed      (the background operation reported an error)
//	Pending → Expired     (Wait's bound elapsed first, or the gate was released)
//
// Fulfill is advisory: calling it on a terminal gate is a no-op. A Fulfill
// that happens before anyone waits is remembered, so a later Wait returns
// Fulfilled immediately.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// State is the lifecycle state of a Gate.
type State int

const (
	Pending State = iota
	Fulfilled
	Expired
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Expired:
		return "expired"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the result of waiting on a gate. Wait never returns Pending
// without an error.
type Outcome = State

// Gate is a one-shot synchronization point.
//
// Thread-safety: one goroutine may call Fulfill while another calls Wait.
// All state transitions happen under mu and done is closed exactly once,
// on the transition out of Pending.
type Gate struct {
	id int64

	mu    sync.Mutex
	state State
	cause error
	done  chan struct{}
}

func newGate(id int64) *Gate {
	return &Gate{
		id:   id,
		done: make(chan struct{}),
	}
}

// ID returns the gate's sequence number within its Keeper.
func (g *Gate) ID() int64 {
	return g.id
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Err returns the error passed to Fail, or nil.
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cause
}

// Fulfill marks the gate Fulfilled and wakes the waiter.
// Returns true if this call performed the transition.
func (g *Gate) Fulfill() bool {
	return g.resolve(Fulfilled, nil)
}

// Fail marks the gate Failed with err as its cause, waking the waiter.
// Like Fulfill it is a no-op on a terminal gate.
func (g *Gate) Fail(err error) bool {
	if err == nil {
		err = fmt.Errorf("operation failed")
	}
	return g.resolve(Failed, err)
}

// Abandon marks the gate Expired if it is still Pending, waking any waiter.
// Used when the scenario is torn down.
func (g *Gate) Abandon() bool {
	return g.resolve(Expired, nil)
}

func (g *Gate) resolve(to State, cause error) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Pending {
		return false
	}
	g.state = to
	g.cause = cause
	close(g.done)
	return true
}

// Wait blocks until the gate resolves or timeout elapses, whichever comes
// first, and returns the terminal state.
//
// If ctx is cancelled first, Wait returns ctx.Err() and the gate stays
// Pending. A non-positive timeout expires the gate immediately unless it
// was already fulfilled.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		g.Abandon()
		return g.State(), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-g.done:
	case <-timer.C:
		// Fulfill may have won the race between the timer firing and
		// here; whichever transition happened first is the outcome.
		g.Abandon()
	case <-ctx.Done():
		return Pending, ctx.Err()
	}
	return g.State(), nil
}
