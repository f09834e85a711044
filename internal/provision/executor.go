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

// Package provision abstracts the mechanism that actually creates, starts,
// stops and destroys the per-tenant application stacks. The orchestrator
// core treats it as a capability with allocate/transition/deallocate plus a
// queryable ground-truth status.
package provision

import "context"

// Spec identifies the stack an operation applies to.
type Spec struct {
	InstanceID string
	Name       string
	Domain     string
	Port       int
	DBName     string
}

// Operation is a runtime transition on an already-allocated stack.
type Operation string

const (
	OpStart   Operation = "start"
	OpStop    Operation = "stop"
	OpRestart Operation = "restart"
)

// Status is the executor's ground-truth view of a stack.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusAbsent  Status = "absent"
	StatusFailed  Status = "failed"
)

// Executor is the external provisioning capability. Calls may take
// non-trivial wall-clock time and must respect context cancellation; the
// dispatcher bounds them with a timeout.
type Executor interface {
	// Allocate creates the database and starts the stack for the first time.
	Allocate(ctx context.Context, spec Spec) error

	// Transition starts, stops or restarts an allocated stack.
	Transition(ctx context.Context, spec Spec, op Operation) error

	// Deallocate tears the stack down and drops its database.
	Deallocate(ctx context.Context, spec Spec) error

	// Status queries the ground-truth state of the stack.
	Status(ctx context.Context, spec Spec) (Status, error)
}
