// Copyright 2026 The Stackhive Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lifecycle defines the instance state machine: the set of legal
// states, the actions that move between them, and the transition table that
// every mutation (dispatcher or sweeper) must go through.
package lifecycle

import "errors"

// State is the lifecycle state of an instance.
type State string

const (
	StateCreated    State = "CREATED"
	StateDeploying  State = "DEPLOYING"
	StateRunning    State = "RUNNING"
	StateStopping   State = "STOPPING"
	StateStopped    State = "STOPPED"
	StateStarting   State = "STARTING"
	StateRestarting State = "RESTARTING"
	StateDeleting   State = "DELETING"
	StateRemoved    State = "REMOVED"
	StateError      State = "ERROR"
)

// Action is a caller-requested lifecycle operation.
type Action string

const (
	ActionProvision Action = "PROVISION" // implicit on create
	ActionStart     Action = "START"
	ActionStop      Action = "STOP"
	ActionRestart   Action = "RESTART"
	ActionDelete    Action = "DELETE"
)

// ErrInvalidTransition is returned when an action is requested against a
// state it is not allowed from. No mutation happens in that case.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Transition describes one row of the transition table: the marker state
// while the executor works, and where the instance settles afterwards.
type Transition struct {
	Action       Action
	Intermediate State
	Success      State
	Failure      State
}

// from-states allowed per action. DELETE is special-cased in Lookup.
var allowedFrom = map[Action][]State{
	ActionProvision: {StateCreated},
	ActionStart:     {StateStopped, StateError},
	ActionStop:      {StateRunning, StateError},
	ActionRestart:   {StateRunning, StateStopped, StateError},
}

var transitions = map[Action]Transition{
	ActionProvision: {ActionProvision, StateDeploying, StateRunning, StateError},
	ActionStart:     {ActionStart, StateStarting, StateRunning, StateError},
	ActionStop:      {ActionStop, StateStopping, StateStopped, StateError},
	ActionRestart:   {ActionRestart, StateRestarting, StateRunning, StateError},
	ActionDelete:    {ActionDelete, StateDeleting, StateRemoved, StateError},
}

// Lookup resolves the transition for an action requested from the given
// state. It returns ErrInvalidTransition when the action is not allowed.
func Lookup(action Action, from State) (Transition, error) {
	t, ok := transitions[action]
	if !ok {
		return Transition{}, ErrInvalidTransition
	}

	if action == ActionDelete {
		// DELETE is allowed from any state that is not already deleting
		// and not terminal.
		if from == StateDeleting || from == StateRemoved {
			return Transition{}, ErrInvalidTransition
		}
		return t, nil
	}

	for _, s := range allowedFrom[action] {
		if s == from {
			return t, nil
		}
	}
	return Transition{}, ErrInvalidTransition
}

// IsTerminal reports whether no further action may ever be dispatched.
// ERROR is deliberately not terminal: an operator can still act on it.
func IsTerminal(s State) bool {
	return s == StateRemoved
}

// IsSettled reports whether the state is a resting state, i.e. no executor
// operation is supposed to be in flight.
func IsSettled(s State) bool {
	switch s {
	case StateCreated, StateRunning, StateStopped, StateRemoved, StateError:
		return true
	}
	return false
}

// Label returns the human-readable label for a state, matching the portal's
// display strings.
func Label(s State) string {
	switch s {
	case StateCreated:
		return "Created - Pending Deployment"
	case StateDeploying:
		return "Deploying"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRestarting:
		return "Restarting"
	case StateDeleting:
		return "Deleting"
	case StateRemoved:
		return "Removed"
	case StateError:
		return "Error"
	}
	return string(s)
}
