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

package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stackhive/stackhive/internal/billing"
	"github.com/stackhive/stackhive/internal/scope"
)

// PlanRequest holds plan creation/update input
type PlanRequest struct {
	Name           string   `json:"name"`
	Price          float64  `json:"price"`
	MaxUsers       int      `json:"max_users"`
	StorageLimitGB int      `json:"storage_limit_gb"`
	MaxInstances   int      `json:"max_instances"`
	AllowedModules []string `json:"allowed_modules"`
	IsActive       bool     `json:"is_active"`
}

func (req PlanRequest) params() billing.PlanParams {
	return billing.PlanParams{
		Name:           req.Name,
		Price:          req.Price,
		MaxUsers:       req.MaxUsers,
		StorageLimitGB: req.StorageLimitGB,
		MaxInstances:   req.MaxInstances,
		AllowedModules: req.AllowedModules,
		IsActive:       req.IsActive,
	}
}

// ListPlans returns the plan catalog.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.billingService.ListPlans(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if plans == nil {
		plans = []*billing.Plan{}
	}
	respondJSON(w, http.StatusOK, plans)
}

// GetPlan returns one plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.billingService.GetPlan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// CreatePlan creates a catalog entry. Staff only.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := h.billingService.CreatePlan(r.Context(), caller.UserID, req.params())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, plan)
}

// UpdatePlan replaces the mutable fields of a plan. Staff only.
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	plan, err := h.billingService.UpdatePlan(r.Context(), caller.UserID, chi.URLParam(r, "planID"), req.params())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, plan)
}

// DeletePlan removes a plan from the catalog. Staff only.
func (h *Handler) DeletePlan(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	if err := h.billingService.DeletePlan(r.Context(), caller.UserID, chi.URLParam(r, "planID")); err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "plan deleted"})
}

// ListSubscriptions returns subscriptions inside the caller's scope.
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	subs, err := h.billingService.ListSubscriptions(r.Context(), scope.ForCaller(caller))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, subs)
}

// SubscriptionRequest holds subscription creation input
type SubscriptionRequest struct {
	AccountID    string `json:"account_id"`
	PlanID       string `json:"plan_id"`
	BillingCycle string `json:"billing_cycle"`
	AutoRenew    bool   `json:"auto_renew"`
}

// CreateSubscription activates a subscription for an account, suspending any
// previously active one. Staff only.
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.billingService.CreateSubscription(r.Context(), caller.UserID, billing.SubscriptionParams{
		AccountID:    req.AccountID,
		PlanID:       req.PlanID,
		BillingCycle: req.BillingCycle,
		AutoRenew:    req.AutoRenew,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

// UpdateSubscriptionRequest holds subscription update input
type UpdateSubscriptionRequest struct {
	Status    string     `json:"status"`
	AutoRenew *bool      `json:"auto_renew"`
	EndDate   *time.Time `json:"end_date"`
}

// UpdateSubscription changes status, auto-renew or end date. Staff only.
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	var req UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.billingService.UpdateSubscription(r.Context(), caller.UserID,
		chi.URLParam(r, "subscriptionID"), req.Status, req.AutoRenew, req.EndDate)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sub)
}
