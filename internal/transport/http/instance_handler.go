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
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/scope"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instanceView decorates an instance with its display label. Company and
// plan names are filled in for the staff listing only.
type instanceView struct {
	*instance.Instance
	StateLabel  string `json:"state_label"`
	CompanyName string `json:"company_name,omitempty"`
	PlanName    string `json:"plan_name,omitempty"`
}

func viewOf(inst *instance.Instance) instanceView {
	return instanceView{Instance: inst, StateLabel: lifecycle.Label(inst.State)}
}

// ListInstances returns the instances visible to the caller, newest first.
// The staff view carries the owning tenant's company name and plan name.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	instances, err := h.instanceService.List(r.Context(), caller)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	views := make([]instanceView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, viewOf(inst))
	}

	if caller.Staff() {
		if err := h.enrichStaffViews(r.Context(), caller, views); err != nil {
			respondDomainError(w, err)
			return
		}
	}

	respondJSON(w, http.StatusOK, views)
}

// enrichStaffViews resolves company and plan names for the staff listing.
func (h *Handler) enrichStaffViews(ctx context.Context, caller scope.Caller, views []instanceView) error {
	accounts, err := h.accountService.List(ctx, scope.ForCaller(caller))
	if err != nil {
		return err
	}
	companies := make(map[string]string, len(accounts))
	for _, a := range accounts {
		companies[a.ID] = a.CompanyName
	}

	plans, err := h.billingService.ListPlans(ctx)
	if err != nil {
		return err
	}
	planNames := make(map[string]string, len(plans))
	for _, p := range plans {
		planNames[p.ID] = p.Name
	}

	subs, err := h.billingService.ListSubscriptions(ctx, scope.ForCaller(caller))
	if err != nil {
		return err
	}
	subPlans := make(map[string]string, len(subs))
	for _, s := range subs {
		subPlans[s.ID] = planNames[s.PlanID]
	}

	for i := range views {
		views[i].CompanyName = companies[views[i].AccountID]
		views[i].PlanName = subPlans[views[i].SubscriptionID]
	}
	return nil
}

// CreateInstanceRequest holds instance creation input
type CreateInstanceRequest struct {
	Name    string   `json:"name"`
	Domain  string   `json:"domain"`
	Modules []string `json:"modules"`
}

// CreateInstance provisions a new instance for the caller's account. The
// response carries the record in DEPLOYING; deployment settles in the
// background and is observable via GET or the deployment logs.
func (h *Handler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inst, err := h.instanceService.Create(r.Context(), caller, instance.CreateParams{
		Name:    req.Name,
		Domain:  req.Domain,
		Modules: req.Modules,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.recordAction(r, lifecycle.ActionProvision, 0)

	respondJSON(w, http.StatusCreated, viewOf(inst))
}

// GetInstance returns one instance within the caller's scope.
func (h *Handler) GetInstance(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	inst, err := h.instanceService.Get(r.Context(), caller, chi.URLParam(r, "instanceID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, viewOf(inst))
}

// StartInstance dispatches START.
func (h *Handler) StartInstance(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, lifecycle.ActionStart)
}

// StopInstance dispatches STOP.
func (h *Handler) StopInstance(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, lifecycle.ActionStop)
}

// RestartInstance dispatches RESTART.
func (h *Handler) RestartInstance(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, lifecycle.ActionRestart)
}

// RemoveInstance dispatches DELETE. The record is retained in REMOVED.
func (h *Handler) RemoveInstance(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, lifecycle.ActionDelete)
}

// dispatch runs one lifecycle action synchronously. Executor failures show
// up as a 200 with the instance in ERROR, not as a request failure.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, action lifecycle.Action) {
	caller, _ := CallerFromContext(r.Context())

	start := time.Now()
	inst, err := h.instanceService.Dispatch(r.Context(), caller, chi.URLParam(r, "instanceID"), action)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	h.recordAction(r, action, time.Since(start))

	respondJSON(w, http.StatusOK, viewOf(inst))
}

// recordAction bumps the dispatch metrics. A zero duration skips the
// histogram; CREATE settles asynchronously so its duration is not known here.
func (h *Handler) recordAction(r *http.Request, action lifecycle.Action, elapsed time.Duration) {
	if h.instruments == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("action", string(action)))
	h.instruments.ActionsDispatched.Add(r.Context(), 1, attrs)
	if elapsed > 0 {
		h.instruments.ActionDuration.Record(r.Context(), elapsed.Seconds(), attrs)
	}
}

// InstanceLogs returns the instance's deployment logs, newest first.
func (h *Handler) InstanceLogs(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	instanceID := chi.URLParam(r, "instanceID")

	// The instance must be visible to the caller before logs are served.
	if _, err := h.instanceService.Get(r.Context(), caller, instanceID); err != nil {
		respondDomainError(w, err)
		return
	}

	logs, err := h.instanceService.Logs(r.Context(), caller, instanceID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if logs == nil {
		logs = []*instance.DeploymentLog{}
	}

	respondJSON(w, http.StatusOK, logs)
}

// DeploymentLogs returns the action history visible to the caller, newest
// first, optionally filtered to one instance via ?instance=.
func (h *Handler) DeploymentLogs(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	logs, err := h.instanceService.Logs(r.Context(), caller, r.URL.Query().Get("instance"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if logs == nil {
		logs = []*instance.DeploymentLog{}
	}

	respondJSON(w, http.StatusOK, logs)
}

// ListClients returns tenant accounts: all of them for staff, the caller's
// own account for tenants.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())

	accounts, err := h.accountService.List(r.Context(), scope.ForCaller(caller))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, accounts)
}

// AdminStats returns the staff dashboard counters.
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	clients, err := h.accountService.Count(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	counts, err := h.instanceService.CountsByState(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	revenue, err := h.billingService.MonthlyRevenue(r.Context())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	total := 0
	byState := make(map[string]int, len(counts))
	for state, n := range counts {
		byState[string(state)] = n
		if state != lifecycle.StateRemoved {
			total += n
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"total_clients":      clients,
		"total_instances":    total,
		"instances_by_state": byState,
		"monthly_revenue":    revenue,
		"running_instances":  byState[string(lifecycle.StateRunning)],
	})
}
