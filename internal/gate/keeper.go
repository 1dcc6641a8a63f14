package gate

import (
	"errors"
	"fmt"
	"sync"
)

// ErrMisuse is returned when a second gate is requested while one is Pending.
var ErrMisuse = errors.New("gate misuse")

// Keeper owns the single active gate of a scenario.
//
// At most one gate may be Pending at a time. Once the active gate reaches a
// terminal state a new one may be created.
type Keeper struct {
	mu     sync.Mutex
	active *Gate
	nextID int64
}

// NewKeeper creates a keeper with no active gate.
func NewKeeper() *Keeper {
	return &Keeper{}
}

// Create allocates a new Pending gate.
// Returns an error wrapping ErrMisuse if the active gate is still Pending.
func (k *Keeper) Create() (*Gate, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.active != nil && k.active.State() == Pending {
		return nil, fmt.Errorf("%w: gate %d is still pending", ErrMisuse, k.active.id)
	}

	k.nextID++
	k.active = newGate(k.nextID)
	return k.active, nil
}

// Active returns the most recently created gate, or nil.
func (k *Keeper) Active() *Gate {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}

// Release forgets the active gate. A Pending gate is expired so any waiter
// returns and later Fulfill calls become no-ops. Release never blocks on the
// background operation.
func (k *Keeper) Release() {
	k.mu.Lock()
	g := k.active
	k.active = nil
	k.mu.Unlock()

	if g != nil {
		g.Abandon()
	}
}
