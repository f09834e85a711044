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

// Package memory provides in-memory stores with the same semantics as the
// PostgreSQL ones. They back the orchestrator's concurrency tests and small
// single-node deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stackhive/stackhive/internal/entitlement"
	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/scope"
)

// Registry is an in-memory instance.Registry. All methods are safe for
// concurrent use; Create and CompareAndTransition run under one mutex so
// quota, port allocation and state comparisons are atomic.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*instance.Instance
	portFrom  int
	portTo    int
}

// NewRegistry creates an in-memory registry allocating ports from the
// inclusive range [portFrom, portTo].
func NewRegistry(portFrom, portTo int) *Registry {
	return &Registry{
		instances: make(map[string]*instance.Instance),
		portFrom:  portFrom,
		portTo:    portTo,
	}
}

// Get retrieves an instance by ID
func (r *Registry) Get(ctx context.Context, id string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, instance.ErrNotFound
	}
	return inst.Clone(), nil
}

// ListByScope returns the instances visible to the caller, newest first
func (r *Registry) ListByScope(ctx context.Context, sc scope.Scope) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*instance.Instance
	for _, inst := range r.instances {
		if sc.Allows(inst.AccountID) {
			out = append(out, inst.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// ListUnsettled returns reconciliation candidates
func (r *Registry) ListUnsettled(ctx context.Context) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*instance.Instance
	for _, inst := range r.instances {
		switch inst.State {
		case lifecycle.StateCreated, lifecycle.StateError, lifecycle.StateRemoved:
			continue
		}
		out = append(out, inst.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

// CountActiveByAccount counts the account's instances not yet REMOVED
func (r *Registry) CountActiveByAccount(ctx context.Context, accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countActiveLocked(accountID), nil
}

func (r *Registry) countActiveLocked(accountID string) int {
	count := 0
	for _, inst := range r.instances {
		if inst.AccountID == accountID && inst.State != lifecycle.StateRemoved {
			count++
		}
	}
	return count
}

// CountByState returns instance counts per lifecycle state
func (r *Registry) CountByState(ctx context.Context) (map[lifecycle.State]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[lifecycle.State]int)
	for _, inst := range r.instances {
		counts[inst.State]++
	}
	return counts, nil
}

// Create allocates a free port and database name and inserts the record in
// state CREATED
func (r *Registry) Create(ctx context.Context, draft instance.Draft) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.countActiveLocked(draft.AccountID) >= draft.MaxInstances {
		return nil, fmt.Errorf("%w: limit %d reached", entitlement.ErrQuotaExceeded, draft.MaxInstances)
	}

	dbName := "app_" + strings.ReplaceAll(draft.Name, "-", "_")
	for _, inst := range r.instances {
		if inst.State == lifecycle.StateRemoved {
			continue
		}
		if inst.Name == draft.Name || inst.DBName == dbName {
			return nil, instance.ErrNameTaken
		}
	}

	port, ok := r.freePortLocked()
	if !ok {
		return nil, instance.ErrResourceExhausted
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate instance id: %w", err)
	}

	now := time.Now()
	inst := &instance.Instance{
		ID:                 id.String(),
		AccountID:          draft.AccountID,
		SubscriptionID:     draft.SubscriptionID,
		Name:               draft.Name,
		Domain:             draft.Domain,
		Port:               port,
		DBName:             dbName,
		State:              lifecycle.StateCreated,
		CreatedAt:          now,
		LastTransitionedAt: now,
	}
	r.instances[inst.ID] = inst

	return inst.Clone(), nil
}

func (r *Registry) freePortLocked() (int, bool) {
	used := make(map[int]bool, len(r.instances))
	for _, inst := range r.instances {
		if inst.State != lifecycle.StateRemoved {
			used[inst.Port] = true
		}
	}
	for p := r.portFrom; p <= r.portTo; p++ {
		if !used[p] {
			return p, true
		}
	}
	return 0, false
}

// CompareAndTransition atomically moves the instance from expected to next
func (r *Registry) CompareAndTransition(ctx context.Context, id string, expected, next lifecycle.State, mutate func(*instance.Instance)) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, ok := r.instances[id]
	if !ok {
		return nil, instance.ErrNotFound
	}
	if inst.State != expected {
		return nil, fmt.Errorf("%w: expected %s, found %s", instance.ErrStaleState, expected, inst.State)
	}

	inst.State = next
	inst.LastTransitionedAt = time.Now()
	if mutate != nil {
		mutate(inst)
	}

	return inst.Clone(), nil
}

func sortNewestFirst(instances []*instance.Instance) {
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].CreatedAt.Equal(instances[j].CreatedAt) {
			return instances[i].ID > instances[j].ID
		}
		return instances[i].CreatedAt.After(instances[j].CreatedAt)
	})
}
