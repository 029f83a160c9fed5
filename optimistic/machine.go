// Package optimistic tracks a locally applied board mutation until the
// server confirms or rejects it. Clients apply the move to their copy of
// the board immediately, remember the pre-move snapshot, and either keep
// the result or restore the snapshot when the outcome arrives.
package optimistic

import (
	"sync"

	"corkboard-api/domain"
)

// State is the lifecycle phase of a pending mutation.
type State int

const (
	// Idle means no mutation is in flight.
	Idle State = iota
	// Pending means a mutation was applied locally and awaits the server.
	Pending
	// Confirmed means the server accepted the mutation.
	Confirmed
	// RolledBack means the server rejected the mutation and the
	// pre-mutation snapshot was restored.
	RolledBack
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case RolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Machine guards a board snapshot through one optimistic mutation at a
// time. It is safe for concurrent use.
type Machine struct {
	mu       sync.Mutex
	state    State
	current  *domain.Snapshot
	saved    *domain.Snapshot
	onChange func(State)
}

// NewMachine wraps snap in an idle machine. onChange, when non-nil, is
// invoked after every state transition while the machine lock is held,
// so callbacks must not call back into the machine.
func NewMachine(snap *domain.Snapshot, onChange func(State)) *Machine {
	return &Machine{state: Idle, current: snap, onChange: onChange}
}

// State reports the current lifecycle phase.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the board as the client currently sees it, including
// any unconfirmed mutation.
func (m *Machine) Snapshot() *domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Apply runs mutate against the snapshot after saving a copy for
// rollback. It fails with ErrInvalidOperation while another mutation is
// pending, and leaves the snapshot untouched when mutate itself fails.
func (m *Machine) Apply(mutate func(*domain.Snapshot) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Pending {
		return domain.ErrInvalidOperation
	}

	saved := m.current.Clone()
	if err := mutate(m.current); err != nil {
		m.current = saved
		return err
	}

	m.saved = saved
	m.transition(Pending)
	return nil
}

// Confirm keeps the applied mutation and discards the rollback snapshot.
// Confirming without a pending mutation is a no-op.
func (m *Machine) Confirm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Pending {
		return
	}
	m.saved = nil
	m.transition(Confirmed)
	m.transition(Idle)
}

// Rollback restores the pre-mutation snapshot. Rolling back without a
// pending mutation is a no-op.
func (m *Machine) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != Pending {
		return
	}
	m.current = m.saved
	m.saved = nil
	m.transition(RolledBack)
	m.transition(Idle)
}

// Reconcile replaces the snapshot with authoritative server state. A
// pending mutation is abandoned: the server copy already reflects its
// outcome, so the saved rollback snapshot is stale either way.
func (m *Machine) Reconcile(snap *domain.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current = snap
	m.saved = nil
	if m.state == Pending {
		m.transition(Confirmed)
	}
	m.transition(Idle)
}

func (m *Machine) transition(next State) {
	m.state = next
	if m.onChange != nil {
		m.onChange(next)
	}
}
