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

package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/scope"
)

// Service provides plan catalog and subscription management.
type Service struct {
	plans       PlanRepository
	subs        SubscriptionRepository
	auditLogger audit.Logger
}

// NewService creates a new billing service.
func NewService(plans PlanRepository, subs SubscriptionRepository, auditLogger audit.Logger) *Service {
	return &Service{
		plans:       plans,
		subs:        subs,
		auditLogger: auditLogger,
	}
}

// PlanParams holds plan creation/update data.
type PlanParams struct {
	Name           string
	Price          float64
	MaxUsers       int
	StorageLimitGB int
	MaxInstances   int
	AllowedModules []string
	IsActive       bool
}

func (p PlanParams) validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: plan name is required", ErrValidation)
	}
	if p.Price < 0 {
		return fmt.Errorf("%w: plan price must not be negative", ErrValidation)
	}
	if p.MaxInstances < 0 || p.MaxUsers < 0 || p.StorageLimitGB < 0 {
		return fmt.Errorf("%w: plan limits must not be negative", ErrValidation)
	}
	return nil
}

// CreatePlan creates a catalog entry. Staff only; the transport layer
// enforces the role before calling in.
func (s *Service) CreatePlan(ctx context.Context, actorID string, params PlanParams) (*Plan, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if existing, err := s.plans.GetByName(ctx, params.Name); err == nil && existing != nil {
		return nil, ErrPlanNameTaken
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate plan id: %w", err)
	}

	plan := &Plan{
		ID:             id.String(),
		Name:           params.Name,
		Price:          params.Price,
		MaxUsers:       params.MaxUsers,
		StorageLimitGB: params.StorageLimitGB,
		MaxInstances:   params.MaxInstances,
		AllowedModules: params.AllowedModules,
		IsActive:       params.IsActive,
		CreatedAt:      time.Now(),
	}
	if plan.AllowedModules == nil {
		plan.AllowedModules = []string{}
	}

	if err := s.plans.Create(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePlanCreated,
		ActorID:  actorID,
		Resource: plan.ID,
		Metadata: map[string]any{"name": plan.Name, "price": plan.Price},
	})

	return plan, nil
}

// GetPlan retrieves a plan by ID.
func (s *Service) GetPlan(ctx context.Context, id string) (*Plan, error) {
	return s.plans.GetByID(ctx, id)
}

// ListPlans lists the catalog.
func (s *Service) ListPlans(ctx context.Context) ([]*Plan, error) {
	return s.plans.List(ctx)
}

// UpdatePlan replaces the mutable fields of a plan.
func (s *Service) UpdatePlan(ctx context.Context, actorID, id string, params PlanParams) (*Plan, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}

	plan, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	plan.Name = params.Name
	plan.Price = params.Price
	plan.MaxUsers = params.MaxUsers
	plan.StorageLimitGB = params.StorageLimitGB
	plan.MaxInstances = params.MaxInstances
	plan.AllowedModules = params.AllowedModules
	plan.IsActive = params.IsActive
	if plan.AllowedModules == nil {
		plan.AllowedModules = []string{}
	}

	if err := s.plans.Update(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePlanUpdated,
		ActorID:  actorID,
		Resource: plan.ID,
		Metadata: map[string]any{"name": plan.Name},
	})

	return plan, nil
}

// DeletePlan removes a plan from the catalog. Plans referenced by
// subscriptions cannot be deleted.
func (s *Service) DeletePlan(ctx context.Context, actorID, id string) error {
	if err := s.plans.Delete(ctx, id); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePlanDeleted,
		ActorID:  actorID,
		Resource: id,
	})

	return nil
}

// SubscriptionParams holds subscription creation data.
type SubscriptionParams struct {
	AccountID    string
	PlanID       string
	BillingCycle string
	AutoRenew    bool
}

// CreateSubscription activates a new subscription for an account. Any
// previously ACTIVE subscription is suspended first so that the
// single-active-subscription invariant holds.
func (s *Service) CreateSubscription(ctx context.Context, actorID string, params SubscriptionParams) (*Subscription, error) {
	if params.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if params.BillingCycle == "" {
		params.BillingCycle = CycleMonthly
	}
	if params.BillingCycle != CycleMonthly && params.BillingCycle != CycleYearly {
		return nil, fmt.Errorf("%w: invalid billing cycle %s", ErrValidation, params.BillingCycle)
	}

	plan, err := s.plans.GetByID(ctx, params.PlanID)
	if err != nil {
		return nil, err
	}

	if err := s.subs.SuspendActiveByAccount(ctx, params.AccountID); err != nil {
		return nil, fmt.Errorf("failed to suspend previous subscription: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate subscription id: %w", err)
	}

	now := time.Now()
	next := nextBillingDate(now, params.BillingCycle)
	sub := &Subscription{
		ID:              id.String(),
		AccountID:       params.AccountID,
		PlanID:          plan.ID,
		Status:          StatusActive,
		BillingCycle:    params.BillingCycle,
		AutoRenew:       params.AutoRenew,
		StartDate:       now,
		NextBillingDate: &next,
		CreatedAt:       now,
	}

	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSubscriptionCreated,
		ActorID:  actorID,
		TenantID: params.AccountID,
		Resource: sub.ID,
		Metadata: map[string]any{"plan": plan.Name, "cycle": sub.BillingCycle},
	})

	return sub, nil
}

// UpdateSubscription changes status, auto-renew or end date.
func (s *Service) UpdateSubscription(ctx context.Context, actorID, id, status string, autoRenew *bool, endDate *time.Time) (*Subscription, error) {
	sub, err := s.subs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if status != "" {
		if status != StatusActive && status != StatusSuspended && status != StatusExpired {
			return nil, fmt.Errorf("%w: invalid subscription status %s", ErrValidation, status)
		}
		if status == StatusActive && sub.Status != StatusActive {
			// Re-activation must not break the single-active invariant.
			if err := s.subs.SuspendActiveByAccount(ctx, sub.AccountID); err != nil {
				return nil, fmt.Errorf("failed to suspend previous subscription: %w", err)
			}
		}
		sub.Status = status
	}
	if autoRenew != nil {
		sub.AutoRenew = *autoRenew
	}
	if endDate != nil {
		sub.EndDate = endDate
	}

	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeSubscriptionUpdated,
		ActorID:  actorID,
		TenantID: sub.AccountID,
		Resource: sub.ID,
		Metadata: map[string]any{"status": sub.Status},
	})

	return sub, nil
}

// GetSubscription retrieves a subscription by ID.
func (s *Service) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	return s.subs.GetByID(ctx, id)
}

// ListSubscriptions lists subscriptions inside the caller's scope.
func (s *Service) ListSubscriptions(ctx context.Context, sc scope.Scope) ([]*Subscription, error) {
	if sc.All() {
		return s.subs.List(ctx)
	}
	if sc.AccountID() == "" {
		return []*Subscription{}, nil
	}
	return s.subs.ListByAccount(ctx, sc.AccountID())
}

// MonthlyRevenue sums plan prices over currently ACTIVE subscriptions.
func (s *Service) MonthlyRevenue(ctx context.Context) (float64, error) {
	return s.subs.ActiveRevenue(ctx)
}

func nextBillingDate(from time.Time, cycle string) time.Time {
	if cycle == CycleYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}
