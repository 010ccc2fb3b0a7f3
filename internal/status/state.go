package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/inbox/internal/bus"
)

// State represents the message socket's connection state.
type State string

const (
	Disconnected   State = "DISCONNECTED"
	Connecting     State = "CONNECTING"
	Authenticating State = "AUTHENTICATING"
	Connected      State = "CONNECTED"
	Retrying       State = "RETRYING"
	GaveUp         State = "GAVE_UP"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Disconnected:   {Connecting},
	Connecting:     {Authenticating, Retrying, GaveUp, Disconnected},
	Authenticating: {Connected, Retrying, GaveUp, Disconnected},
	Connected:      {Retrying, GaveUp, Disconnected},
	Retrying:       {Connecting, Disconnected},
	GaveUp:         {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Disconnected state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in any of the given states.
func (m *Machine) Is(states ...State) bool {
	return slices.Contains(states, m.Current())
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
// Transitioning to the current state is a no-op and publishes nothing.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == to {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}
