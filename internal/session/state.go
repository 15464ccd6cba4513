package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle position of the active session
type State string

const (
	StateIdle         State = "IDLE"
	StateRecording    State = "RECORDING"
	StateTranscribing State = "TRANSCRIBING" // transcript held for review before analysis
	StateAnalyzing    State = "ANALYZING"
	StateDone         State = "DONE"
)

var (
	// ErrInvalidTransition is returned for a transition the table does not allow
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrSessionActive is returned when starting while another session runs
	ErrSessionActive = errors.New("a session is already active")
	// ErrNoSession is returned by operations that need an active session
	ErrNoSession = errors.New("no active session")
)

// Active reports whether the state holds a running session
func (s State) Active() bool {
	return s == StateRecording || s == StateTranscribing || s == StateAnalyzing
}

var transitions = map[State][]State{
	StateIdle:         {StateRecording},
	StateRecording:    {StateAnalyzing, StateTranscribing},
	StateTranscribing: {StateAnalyzing},
	StateAnalyzing:    {StateDone},
	StateDone:         {},
}

// CanTransition reports whether from → to is allowed. Any state may return
// to IDLE.
func CanTransition(from, to State) bool {
	if to == StateIdle {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine guards the session state
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []func(from, to State)
}

// NewMachine creates a machine in IDLE
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe registers a callback run after every transition
func (m *Machine) Observe(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Transition moves to the given state if the table allows it
func (m *Machine) Transition(to State) error {
	return m.TransitionFrom(nil, to)
}

// TransitionFrom moves to the given state only when the current state is one
// of from (any state when from is empty)
func (m *Machine) TransitionFrom(from []State, to State) error {
	m.mu.Lock()
	cur := m.state
	if len(from) > 0 && !contains(from, cur) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, cur, to)
	}
	if !CanTransition(cur, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, cur, to)
	}
	m.state = to
	observers := append([]func(from, to State){}, m.observers...)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(cur, to)
	}
	return nil
}

func contains(states []State, s State) bool {
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}
