package subs

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/amoria-app/chatsync/internal/bus"
)

// State represents a subscription lifecycle state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Subscribing  State = "SUBSCRIBING"
	Subscribed   State = "SUBSCRIBED"
	Failed       State = "ERROR"
	Closed       State = "CLOSED"
)

// validTransitions defines allowed state transitions. Closed is terminal.
var validTransitions = map[State][]State{
	Disconnected: {Subscribing, Closed},
	Subscribing:  {Subscribed, Failed, Closed},
	Subscribed:   {Failed, Closed},
	Failed:       {Subscribing, Closed},
	Closed:       {},
}

// Machine tracks and enforces subscription state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Disconnected, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindStatusChanged,
			Timestamp: time.Now(),
			Payload:   StatusChange{From: from, To: to},
		})
	}
	return nil
}

// StatusChange is the payload for subscription status change events.
type StatusChange struct {
	From State
	To   State
}
