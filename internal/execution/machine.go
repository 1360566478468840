/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package execution

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/altairalabs/jobrunner/internal/jobs"
)

// ErrInvalidTransition is returned for a transition the machine does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[jobs.State][]jobs.State{
	jobs.StatePending: {jobs.StateRunning, jobs.StateTimedOut, jobs.StateCancelled},
	jobs.StateRunning: {jobs.StateSucceeded, jobs.StateFailed, jobs.StateTimedOut, jobs.StateCancelled},
}

// Transition is one recorded state change.
type Transition struct {
	From   jobs.State `json:"from"`
	To     jobs.State `json:"to"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

// Machine holds the execution state of one run. It is not safe for
// concurrent use; the controller goroutine that owns it is its only writer.
type Machine struct {
	state   jobs.State
	reason  string
	history []Transition
	now     func() time.Time
}

// NewMachine returns a machine in the Pending state.
func NewMachine() *Machine {
	return &Machine{state: jobs.StatePending, now: time.Now}
}

// State returns the current state.
func (m *Machine) State() jobs.State { return m.state }

// Reason returns the reason given for the current state.
func (m *Machine) Reason() string { return m.reason }

// History returns the transitions taken so far.
func (m *Machine) History() []Transition { return slices.Clone(m.history) }

// Transition moves the machine to state to. Terminal states never move.
func (m *Machine) Transition(to jobs.State, reason string) error {
	if !slices.Contains(transitions[m.state], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.history = append(m.history, Transition{From: m.state, To: to, Reason: reason, At: m.now()})
	m.state, m.reason = to, reason
	return nil
}

// Apply feeds a status event to the machine and reports whether the state
// changed. Non-terminal phases do not change the state of a submitted run,
// and nothing is applied once the machine is terminal.
func (m *Machine) Apply(ev jobs.StatusEvent) bool {
	if m.state.IsTerminal() {
		return false
	}
	var to jobs.State
	switch ev.Phase {
	case jobs.PhaseSucceeded:
		to = jobs.StateSucceeded
	case jobs.PhaseFailed:
		to = jobs.StateFailed
	default:
		return false
	}
	return m.Transition(to, describe(ev)) == nil
}

// describe builds a human-readable reason for a terminal event.
func describe(ev jobs.StatusEvent) string {
	var msg string
	switch {
	case ev.Reason != "" && ev.Message != "":
		msg = ev.Reason + ": " + ev.Message
	case ev.Reason != "":
		msg = ev.Reason
	case ev.Message != "":
		msg = ev.Message
	case ev.Phase == jobs.PhaseSucceeded:
		msg = "job completed"
	default:
		msg = "job failed"
	}
	if ev.ExitCode != nil && *ev.ExitCode != 0 {
		msg = fmt.Sprintf("%s (exit code %d)", msg, *ev.ExitCode)
	}
	return msg
}
