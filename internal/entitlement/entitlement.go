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

// Package entitlement computes the quota envelope a tenant currently has
// from its subscription and plan. Snapshots are derived fresh per call and
// must not be cached across requests: plan or subscription data may change
// between calls.
package entitlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/stackhive/stackhive/internal/billing"
)

// Evaluation errors
var (
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrQuotaExceeded        = errors.New("instance quota exceeded")
	ErrModuleNotAllowed     = errors.New("module not allowed by plan")
)

// Snapshot is the resolved quota of a tenant at a single point in time.
// Valid only for the duration of one dispatcher call.
type Snapshot struct {
	SubscriptionID     string
	SubscriptionStatus string
	PlanID             string
	PlanName           string
	MaxInstances       int
	MaxUsers           int
	StorageLimitGB     int
	AllowedModules     []string
}

// Provisionable reports whether the tenant may create or start instances.
// Suspended and expired subscriptions keep read/stop/delete access but their
// quota is treated as zero for provisioning.
func (s Snapshot) Provisionable() bool {
	return s.SubscriptionStatus == billing.StatusActive
}

// AllowsModule reports whether the plan includes the named module.
func (s Snapshot) AllowsModule(name string) bool {
	for _, m := range s.AllowedModules {
		if m == name {
			return true
		}
	}
	return false
}

// Evaluator resolves entitlement snapshots from billing data.
type Evaluator struct {
	subs  billing.SubscriptionRepository
	plans billing.PlanRepository
}

// NewEvaluator creates a new entitlement evaluator.
func NewEvaluator(subs billing.SubscriptionRepository, plans billing.PlanRepository) *Evaluator {
	return &Evaluator{subs: subs, plans: plans}
}

// Evaluate computes the snapshot for a tenant account. A tenant that never
// subscribed fails with ErrNoActiveSubscription; a suspended or expired
// subscription yields a zero-quota snapshot instead, so callers can tell the
// two apart.
func (e *Evaluator) Evaluate(ctx context.Context, accountID string) (Snapshot, error) {
	sub, err := e.subs.GetCurrentByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return Snapshot{}, ErrNoActiveSubscription
		}
		return Snapshot{}, fmt.Errorf("failed to resolve subscription: %w", err)
	}

	plan, err := e.plans.GetByID(ctx, sub.PlanID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to resolve plan %s: %w", sub.PlanID, err)
	}

	snap := Snapshot{
		SubscriptionID:     sub.ID,
		SubscriptionStatus: sub.Status,
		PlanID:             plan.ID,
		PlanName:           plan.Name,
		MaxInstances:       plan.MaxInstances,
		MaxUsers:           plan.MaxUsers,
		StorageLimitGB:     plan.StorageLimitGB,
		AllowedModules:     plan.AllowedModules,
	}

	if sub.Status != billing.StatusActive {
		snap.MaxInstances = 0
		snap.MaxUsers = 0
		snap.StorageLimitGB = 0
	}

	return snap, nil
}
