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

// Package instance holds the orchestrator core: the instance model, the
// authoritative registry contract, the per-instance locks, the action
// dispatcher and the reconciliation sweeper.
package instance

import (
	"errors"
	"time"

	"github.com/stackhive/stackhive/internal/lifecycle"
)

// Domain errors
var (
	ErrNotFound          = errors.New("instance not found")
	ErrStaleState        = errors.New("instance state changed concurrently")
	ErrResourceExhausted = errors.New("no free port in the configured range")
	ErrNameTaken         = errors.New("instance name already in use")
	ErrActionInProgress  = errors.New("another action is already in progress for this instance")
	ErrNoTenantAccount   = errors.New("caller has no tenant account")
	ErrInvalidParams     = errors.New("invalid instance parameters")
)

// Instance is a provisioned per-tenant application stack with its own port
// and database. Rows are created only through the dispatcher's CREATE path
// and mutated only through CompareAndTransition; REMOVED rows are retained
// for audit.
type Instance struct {
	ID                 string          `json:"id"`
	AccountID          string          `json:"account_id"`
	SubscriptionID     string          `json:"subscription_id"`
	Name               string          `json:"name"`
	Domain             string          `json:"domain"`
	Port               int             `json:"port"`
	DBName             string          `json:"db_name"`
	State              lifecycle.State `json:"state"`
	LastError          string          `json:"last_error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	LastTransitionedAt time.Time       `json:"last_transitioned_at"`
}

// Clone returns a copy, so registry implementations can hand out values
// without aliasing their stored rows.
func (i *Instance) Clone() *Instance {
	c := *i
	return &c
}
