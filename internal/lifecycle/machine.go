// Package lifecycle tracks the life of one controller version with a
// statekit statechart: parsed → installing → installed (waiting) →
// activating → activated → redundant.
package lifecycle

import (
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"
)

// State is a controller version state
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed" // waiting to activate
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Event drives a state change
type Event string

// Events accepted by the machine
const (
	EventInstall   Event = "INSTALL"
	EventInstalled Event = "INSTALLED"
	EventActivate  Event = "ACTIVATE"
	EventActivated Event = "ACTIVATED"
	EventRedundant Event = "REDUNDANT"
)

// Transition records one state change
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Statechart identifiers
const (
	idParsed     statekit.StateID = statekit.StateID(StateParsed)
	idInstalling statekit.StateID = statekit.StateID(StateInstalling)
	idInstalled  statekit.StateID = statekit.StateID(StateInstalled)
	idActivating statekit.StateID = statekit.StateID(StateActivating)
	idActivated  statekit.StateID = statekit.StateID(StateActivated)
	idRedundant  statekit.StateID = statekit.StateID(StateRedundant)

	evInstall   statekit.EventType = statekit.EventType(EventInstall)
	evInstalled statekit.EventType = statekit.EventType(EventInstalled)
	evActivate  statekit.EventType = statekit.EventType(EventActivate)
	evActivated statekit.EventType = statekit.EventType(EventActivated)
	evRedundant statekit.EventType = statekit.EventType(EventRedundant)
)

// machineContext is the statekit extended state
type machineContext struct {
	history []Transition
}

func newMachine() (*statekit.MachineConfig[*machineContext], error) {
	return statekit.NewMachine[*machineContext]("controller").
		WithInitial(idParsed).
		WithContext(&machineContext{}).
		State(idParsed).
			On(evInstall).Target(idInstalling).
			On(evRedundant).Target(idRedundant).
			Done().
		State(idInstalling).
			On(evInstalled).Target(idInstalled).
			On(evRedundant).Target(idRedundant).
			Done().
		State(idInstalled).
			On(evActivate).Target(idActivating).
			On(evRedundant).Target(idRedundant).
			Done().
		State(idActivating).
			On(evActivated).Target(idActivated).
			On(evRedundant).Target(idRedundant).
			Done().
		State(idActivated).
			On(evRedundant).Target(idRedundant).
			Done().
		State(idRedundant).
			Final().
			Done().
		Build()
}

// Machine is a goroutine-safe lifecycle for one controller version
type Machine struct {
	interp *statekit.Interpreter[*machineContext]
	ctx    *machineContext
	mu     sync.Mutex
}

// New creates a machine in the parsed state
func New() (*Machine, error) {
	config, err := newMachine()
	if err != nil {
		return nil, fmt.Errorf("failed to build lifecycle machine: %w", err)
	}

	mctx := &machineContext{}
	interp := statekit.NewInterpreter(config)
	interp.UpdateContext(func(c **machineContext) {
		*c = mctx
	})
	interp.Start()

	return &Machine{interp: interp, ctx: mctx}, nil
}

// State returns the current state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.interp.State().Value)
}

// Is reports whether the machine is in s
func (m *Machine) Is(s State) bool {
	return m.State() == s
}

// Fire applies event. It returns an error, leaving the state unchanged,
// when the current state does not accept the event.
func (m *Machine) Fire(event Event) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := State(m.interp.State().Value)
	m.interp.Send(statekit.Event{Type: statekit.EventType(event)})
	to := State(m.interp.State().Value)
	if to == from {
		return from, fmt.Errorf("lifecycle: event %s not allowed in state %s", event, from)
	}

	m.ctx.history = append(m.ctx.history, Transition{From: from, To: to, At: time.Now()})
	return to, nil
}

// History returns the recorded transitions
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.ctx.history))
	copy(out, m.ctx.history)
	return out
}

// Done reports whether the machine reached its final state
func (m *Machine) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interp.Done()
}
