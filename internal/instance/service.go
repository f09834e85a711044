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

package instance

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/entitlement"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/observability/logger"
	"github.com/stackhive/stackhive/internal/provision"
	"github.com/stackhive/stackhive/internal/scope"
)

// Service is the action dispatcher: the only entry point through which
// lifecycle intents reach the registry and the provisioning executor.
// Every dispatch validates scope, entitlement and the transition table,
// holds the per-instance lock across the executor call, and settles the
// instance through CompareAndTransition.
type Service struct {
	registry     Registry
	logs         LogRepository
	locks        *LockTable
	executor     provision.Executor
	entitlements *entitlement.Evaluator
	auditLogger  audit.Logger
	execTimeout  time.Duration
}

// NewService creates the action dispatcher.
func NewService(
	registry Registry,
	logs LogRepository,
	locks *LockTable,
	executor provision.Executor,
	entitlements *entitlement.Evaluator,
	auditLogger audit.Logger,
	execTimeout time.Duration,
) *Service {
	return &Service{
		registry:     registry,
		logs:         logs,
		locks:        locks,
		executor:     executor,
		entitlements: entitlements,
		auditLogger:  auditLogger,
		execTimeout:  execTimeout,
	}
}

// CreateParams holds instance creation input.
type CreateParams struct {
	Name    string
	Domain  string
	Modules []string
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9-]{1,62}$`)

// Create provisions a new instance for the caller's tenant account. The
// record is returned in state DEPLOYING; the executor call settles it to
// RUNNING or ERROR asynchronously while the per-instance lock is held.
func (s *Service) Create(ctx context.Context, caller scope.Caller, params CreateParams) (*Instance, error) {
	if caller.AccountID == "" {
		return nil, ErrNoTenantAccount
	}
	if params.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidParams)
	}
	if !nameRe.MatchString(params.Name) {
		return nil, fmt.Errorf("%w: name must be lowercase alphanumeric with dashes", ErrInvalidParams)
	}
	if params.Domain == "" {
		return nil, fmt.Errorf("%w: domain is required", ErrInvalidParams)
	}

	snap, err := s.entitlements.Evaluate(ctx, caller.AccountID)
	if err != nil {
		return nil, err
	}
	for _, m := range params.Modules {
		if !snap.AllowsModule(m) {
			return nil, fmt.Errorf("%w: %s", entitlement.ErrModuleNotAllowed, m)
		}
	}

	// The registry re-checks the quota atomically on insert; this early
	// check only shapes the error before any allocation work happens.
	count, err := s.registry.CountActiveByAccount(ctx, caller.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}
	if count >= snap.MaxInstances {
		return nil, fmt.Errorf("%w: limit %d reached", entitlement.ErrQuotaExceeded, snap.MaxInstances)
	}

	inst, err := s.registry.Create(ctx, Draft{
		AccountID:      caller.AccountID,
		SubscriptionID: snap.SubscriptionID,
		Name:           params.Name,
		Domain:         params.Domain,
		MaxInstances:   snap.MaxInstances,
	})
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInstanceCreated,
		TenantID: caller.AccountID,
		ActorID:  caller.UserID,
		Resource: inst.ID,
		Metadata: map[string]any{"name": inst.Name, "domain": inst.Domain, "port": inst.Port},
	})

	if !s.locks.TryAcquire(inst.ID) {
		// Freshly allocated id; nobody else can legitimately hold it.
		return nil, ErrActionInProgress
	}

	tr, err := lifecycle.Lookup(lifecycle.ActionProvision, inst.State)
	if err != nil {
		s.locks.Release(inst.ID)
		return nil, err
	}

	inst, err = s.registry.CompareAndTransition(ctx, inst.ID, inst.State, tr.Intermediate, nil)
	if err != nil {
		s.locks.Release(inst.ID)
		return nil, err
	}

	dlog := s.appendLog(ctx, inst, caller.UserID, lifecycle.ActionProvision, map[string]any{
		"name": inst.Name, "domain": inst.Domain, "port": inst.Port,
	})

	// Deployment settles in the background. Cancellation of the HTTP
	// request must not abort it, so only the request's values are carried.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.locks.Release(inst.ID)
		s.settle(bg, inst, tr, dlog, func(opCtx context.Context) error {
			return s.executor.Allocate(opCtx, specFor(inst))
		})
	}()

	return inst, nil
}

// Dispatch validates and executes a lifecycle action on an existing
// instance, settling it synchronously. An executor failure is absorbed into
// the instance state (ERROR) rather than failing the call.
func (s *Service) Dispatch(ctx context.Context, caller scope.Caller, instanceID string, action lifecycle.Action) (*Instance, error) {
	inst, err := s.getInScope(ctx, scope.ForCaller(caller), instanceID)
	if err != nil {
		return nil, err
	}

	// Suspended or lapsed subscriptions may stop and delete but not bring
	// instances (back) up.
	if action == lifecycle.ActionStart || action == lifecycle.ActionRestart {
		snap, err := s.entitlements.Evaluate(ctx, inst.AccountID)
		if err != nil {
			return nil, err
		}
		if !snap.Provisionable() {
			return nil, fmt.Errorf("%w: subscription is %s", entitlement.ErrNoActiveSubscription, snap.SubscriptionStatus)
		}
	}

	if !s.locks.TryAcquire(inst.ID) {
		return nil, ErrActionInProgress
	}
	defer s.locks.Release(inst.ID)

	// Re-read under the lock; the state may have moved since the scope check.
	inst, err = s.registry.Get(ctx, inst.ID)
	if err != nil {
		return nil, err
	}

	tr, err := lifecycle.Lookup(action, inst.State)
	if err != nil {
		return nil, err
	}

	inst, err = s.registry.CompareAndTransition(ctx, inst.ID, inst.State, tr.Intermediate, nil)
	if err != nil {
		return nil, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInstanceAction,
		TenantID: inst.AccountID,
		ActorID:  caller.UserID,
		Resource: inst.ID,
		Metadata: map[string]any{audit.AttrAction: string(action)},
	})

	dlog := s.appendLog(ctx, inst, caller.UserID, action, nil)

	return s.settle(ctx, inst, tr, dlog, func(opCtx context.Context) error {
		if action == lifecycle.ActionDelete {
			return s.executor.Deallocate(opCtx, specFor(inst))
		}
		return s.executor.Transition(opCtx, specFor(inst), opFor(action))
	}), nil
}

// settle runs the executor operation under the configured timeout and moves
// the instance from the intermediate marker to its settle state. The caller
// must hold the instance lock.
func (s *Service) settle(ctx context.Context, inst *Instance, tr lifecycle.Transition, dlog *DeploymentLog, op func(context.Context) error) *Instance {
	start := time.Now()
	opCtx, cancel := context.WithTimeout(ctx, s.execTimeout)
	defer cancel()

	opErr := op(opCtx)
	duration := time.Since(start)

	// Only the executor op is bound to the caller's context. The settle
	// write and log finalization must land even when the caller disconnects
	// or times out mid-action, otherwise the instance stays parked in the
	// intermediate state until a sweeper pass.
	ctx = context.WithoutCancel(ctx)

	var settled *Instance
	var casErr error
	if opErr == nil {
		settled, casErr = s.registry.CompareAndTransition(ctx, inst.ID, tr.Intermediate, tr.Success, func(i *Instance) {
			i.LastError = ""
		})
	} else {
		settled, casErr = s.registry.CompareAndTransition(ctx, inst.ID, tr.Intermediate, tr.Failure, func(i *Instance) {
			i.LastError = opErr.Error()
		})
	}
	if casErr != nil {
		// The marker state was corrected underneath us; the registry's view
		// wins. Report what is stored now.
		slog.ErrorContext(ctx, "failed to settle instance",
			logger.Component("dispatcher"),
			logger.InstanceID(inst.ID),
			logger.Error(casErr),
		)
		if current, err := s.registry.Get(ctx, inst.ID); err == nil {
			settled = current
		} else {
			settled = inst
		}
	}

	s.finishLog(ctx, dlog, opErr, duration)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeInstanceSettled,
		TenantID: settled.AccountID,
		Resource: settled.ID,
		Metadata: map[string]any{
			audit.AttrAction: string(tr.Action),
			audit.AttrState:  string(settled.State),
		},
	})

	if opErr != nil {
		slog.WarnContext(ctx, "executor operation failed",
			logger.Component("dispatcher"),
			logger.InstanceID(settled.ID),
			logger.Action(string(tr.Action)),
			logger.Error(opErr),
		)
	}

	return settled
}

// Get retrieves an instance within the caller's scope.
func (s *Service) Get(ctx context.Context, caller scope.Caller, id string) (*Instance, error) {
	return s.getInScope(ctx, scope.ForCaller(caller), id)
}

// List returns the instances visible to the caller, newest first.
func (s *Service) List(ctx context.Context, caller scope.Caller) ([]*Instance, error) {
	return s.registry.ListByScope(ctx, scope.ForCaller(caller))
}

// Logs returns deployment logs visible to the caller.
func (s *Service) Logs(ctx context.Context, caller scope.Caller, instanceID string) ([]*DeploymentLog, error) {
	return s.logs.ListByScope(ctx, scope.ForCaller(caller), instanceID)
}

// CountsByState returns instance counts per state, for the dashboard.
func (s *Service) CountsByState(ctx context.Context) (map[lifecycle.State]int, error) {
	return s.registry.CountByState(ctx)
}

// getInScope hides out-of-scope instances as not found so existence never
// leaks across tenants.
func (s *Service) getInScope(ctx context.Context, sc scope.Scope, id string) (*Instance, error) {
	inst, err := s.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sc.Allows(inst.AccountID) {
		return nil, ErrNotFound
	}
	return inst, nil
}

func (s *Service) appendLog(ctx context.Context, inst *Instance, userID string, action lifecycle.Action, details map[string]any) *DeploymentLog {
	id, err := uuid.NewV7()
	if err != nil {
		slog.ErrorContext(ctx, "failed to generate log id", logger.Error(err))
		return nil
	}
	dlog := &DeploymentLog{
		ID:         id.String(),
		InstanceID: inst.ID,
		AccountID:  inst.AccountID,
		UserID:     userID,
		Action:     action,
		Status:     LogInProgress,
		Details:    details,
		Timestamp:  time.Now(),
	}
	if err := s.logs.Append(ctx, dlog); err != nil {
		slog.ErrorContext(ctx, "failed to append deployment log",
			logger.Component("dispatcher"),
			logger.InstanceID(inst.ID),
			logger.Error(err),
		)
		return nil
	}
	return dlog
}

func (s *Service) finishLog(ctx context.Context, dlog *DeploymentLog, opErr error, duration time.Duration) {
	if dlog == nil {
		return
	}
	dlog.DurationSeconds = int(duration.Seconds())
	if opErr == nil {
		dlog.Status = LogSuccess
	} else {
		dlog.Status = LogFailed
		dlog.ErrorMessage = opErr.Error()
	}
	if err := s.logs.Update(ctx, dlog); err != nil {
		slog.ErrorContext(ctx, "failed to update deployment log",
			logger.Component("dispatcher"),
			logger.InstanceID(dlog.InstanceID),
			logger.Error(err),
		)
	}
}

func specFor(inst *Instance) provision.Spec {
	return provision.Spec{
		InstanceID: inst.ID,
		Name:       inst.Name,
		Domain:     inst.Domain,
		Port:       inst.Port,
		DBName:     inst.DBName,
	}
}

func opFor(action lifecycle.Action) provision.Operation {
	switch action {
	case lifecycle.ActionStop:
		return provision.OpStop
	case lifecycle.ActionRestart:
		return provision.OpRestart
	}
	return provision.OpStart
}
