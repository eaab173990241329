package trigger

import (
	"errors"
	"fmt"
)

// ErrStalled is returned when a fail chain cycles without returning to the
// state it started from. The firmware would spin forever on such a table.
var ErrStalled = errors.New("trigger: fail chain never returns to its start")

// Machine runs the firmware's triggering algorithm on the host. It performs
// no I/O; inputs are supplied one 8-line sample at a time.
type Machine struct {
	graph     Graph
	state     uint8
	triggered bool
	at        uint8
}

// NewMachine creates a machine positioned at state 0.
func NewMachine(g Graph) *Machine {
	return &Machine{graph: g}
}

// State reports the current state index.
func (m *Machine) State() uint8 {
	return m.state
}

// Triggered reports whether a pass to state 0 has occurred, and from which
// state.
func (m *Machine) Triggered() (bool, uint8) {
	return m.triggered, m.at
}

// Reset returns the machine to state 0 and clears the triggered flag.
func (m *Machine) Reset() {
	m.state = 0
	m.triggered = false
	m.at = 0
}

// Step checks one input sample. On a match the machine moves to the pass
// target, and a pass target of 0 completes triggering. On a mismatch it
// follows fail targets against the same input until one matches or the
// chain comes back to the state it began at.
func (m *Machine) Step(input uint8) (bool, error) {
	if m.triggered {
		return true, nil
	}
	begin := m.state
	for steps := 0; steps <= m.graph.Len(); steps++ {
		s, ok := m.graph.Lookup(m.state)
		if !ok {
			return false, fmt.Errorf("trigger: state %d not defined", m.state)
		}
		if s.Matches(input) {
			if s.Pass == 0 {
				m.triggered = true
				m.at = s.Index
				m.state = 0
				return true, nil
			}
			m.state = s.Pass
			return false, nil
		}
		m.state = s.Fail
		if m.state == begin {
			return false, nil
		}
	}
	return false, ErrStalled
}

// Run steps through inputs until triggering completes. It returns the
// position of the triggering sample, or -1 if the inputs ran out first.
func (m *Machine) Run(inputs []uint8) (int, error) {
	for i, in := range inputs {
		done, err := m.Step(in)
		if err != nil {
			return i, err
		}
		if done {
			return i, nil
		}
	}
	return -1, nil
}
