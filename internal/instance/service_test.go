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

package instance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/billing"
	"github.com/stackhive/stackhive/internal/entitlement"
	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/provision"
	"github.com/stackhive/stackhive/internal/scope"
	"github.com/stackhive/stackhive/internal/store/memory"
)

// stubPlanRepo serves a fixed plan catalog.
type stubPlanRepo struct {
	plans map[string]*billing.Plan
}

func (r *stubPlanRepo) Create(ctx context.Context, p *billing.Plan) error { return nil }
func (r *stubPlanRepo) GetByID(ctx context.Context, id string) (*billing.Plan, error) {
	if p, ok := r.plans[id]; ok {
		return p, nil
	}
	return nil, billing.ErrPlanNotFound
}
func (r *stubPlanRepo) GetByName(ctx context.Context, name string) (*billing.Plan, error) {
	return nil, billing.ErrPlanNotFound
}
func (r *stubPlanRepo) List(ctx context.Context) ([]*billing.Plan, error) { return nil, nil }
func (r *stubPlanRepo) Update(ctx context.Context, p *billing.Plan) error { return nil }
func (r *stubPlanRepo) Delete(ctx context.Context, id string) error       { return nil }

// stubSubRepo serves one subscription per account.
type stubSubRepo struct {
	byAccount map[string]*billing.Subscription
}

func (r *stubSubRepo) Create(ctx context.Context, s *billing.Subscription) error { return nil }
func (r *stubSubRepo) GetByID(ctx context.Context, id string) (*billing.Subscription, error) {
	return nil, billing.ErrSubscriptionNotFound
}
func (r *stubSubRepo) GetCurrentByAccount(ctx context.Context, accountID string) (*billing.Subscription, error) {
	if s, ok := r.byAccount[accountID]; ok {
		return s, nil
	}
	return nil, billing.ErrSubscriptionNotFound
}
func (r *stubSubRepo) List(ctx context.Context) ([]*billing.Subscription, error) { return nil, nil }
func (r *stubSubRepo) ListByAccount(ctx context.Context, accountID string) ([]*billing.Subscription, error) {
	return nil, nil
}
func (r *stubSubRepo) Update(ctx context.Context, s *billing.Subscription) error { return nil }
func (r *stubSubRepo) SuspendActiveByAccount(ctx context.Context, accountID string) error {
	return nil
}
func (r *stubSubRepo) ActiveRevenue(ctx context.Context) (float64, error) { return 0, nil }

type fixture struct {
	registry *memory.Registry
	logs     *memory.LogStore
	locks    *instance.LockTable
	executor *provision.Fake
	subs     *stubSubRepo
	svc      *instance.Service
}

const (
	acctAlpha = "acct-alpha"
	acctBeta  = "acct-beta"
)

func newFixture(t *testing.T, maxInstances int) *fixture {
	t.Helper()

	plans := &stubPlanRepo{plans: map[string]*billing.Plan{
		"plan-pro": {
			ID:             "plan-pro",
			Name:           "pro",
			MaxInstances:   maxInstances,
			AllowedModules: []string{"crm", "sales"},
			IsActive:       true,
		},
	}}
	subs := &stubSubRepo{byAccount: map[string]*billing.Subscription{
		acctAlpha: {ID: "sub-alpha", AccountID: acctAlpha, PlanID: "plan-pro", Status: billing.StatusActive},
		acctBeta:  {ID: "sub-beta", AccountID: acctBeta, PlanID: "plan-pro", Status: billing.StatusActive},
	}}

	f := &fixture{
		registry: memory.NewRegistry(8070, 8080),
		logs:     memory.NewLogStore(),
		locks:    instance.NewLockTable(),
		executor: provision.NewFake(),
		subs:     subs,
	}
	f.svc = instance.NewService(
		f.registry,
		f.logs,
		f.locks,
		f.executor,
		entitlement.NewEvaluator(subs, plans),
		audit.NewSlogLogger(),
		5*time.Second,
	)
	return f
}

func tenantCaller(accountID string) scope.Caller {
	return scope.Caller{UserID: "user-" + accountID, Role: scope.RoleTenant, AccountID: accountID}
}

// waitSettled polls until the instance leaves its intermediate state.
func waitSettled(t *testing.T, f *fixture, id string) *instance.Instance {
	t.Helper()
	var got *instance.Instance
	require.Eventually(t, func() bool {
		inst, err := f.registry.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = inst
		return lifecycle.IsSettled(inst.State)
	}, 2*time.Second, 10*time.Millisecond)
	return got
}

func TestCreateSettlesToRunning(t *testing.T) {
	f := newFixture(t, 3)

	inst, err := f.svc.Create(context.Background(), tenantCaller(acctAlpha), instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateDeploying, inst.State)
	assert.Equal(t, 8070, inst.Port)
	assert.Equal(t, "app_alpha_main", inst.DBName)

	settled := waitSettled(t, f, inst.ID)
	assert.Equal(t, lifecycle.StateRunning, settled.State)
	assert.Empty(t, settled.LastError)
	assert.False(t, f.locks.Held(inst.ID))

	logs, err := f.svc.Logs(context.Background(), tenantCaller(acctAlpha), inst.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, lifecycle.ActionProvision, logs[0].Action)
	assert.Equal(t, instance.LogSuccess, logs[0].Status)
}

func TestCreateFailureSettlesToError(t *testing.T) {
	f := newFixture(t, 3)
	f.executor.FailNext = errors.New("disk full")

	inst, err := f.svc.Create(context.Background(), tenantCaller(acctAlpha), instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)

	settled := waitSettled(t, f, inst.ID)
	assert.Equal(t, lifecycle.StateError, settled.State)
	assert.Contains(t, settled.LastError, "disk full")
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	_, err := f.svc.Create(context.Background(), caller, instance.CreateParams{Domain: "a.example.com"})
	assert.ErrorIs(t, err, instance.ErrInvalidParams)

	_, err = f.svc.Create(context.Background(), caller, instance.CreateParams{Name: "Bad_Name", Domain: "a.example.com"})
	assert.ErrorIs(t, err, instance.ErrInvalidParams)

	_, err = f.svc.Create(context.Background(), caller, instance.CreateParams{Name: "alpha-main"})
	assert.ErrorIs(t, err, instance.ErrInvalidParams)

	_, err = f.svc.Create(context.Background(), scope.Caller{UserID: "u", Role: scope.RoleTenant}, instance.CreateParams{
		Name: "alpha-main", Domain: "a.example.com",
	})
	assert.ErrorIs(t, err, instance.ErrNoTenantAccount)
}

func TestCreateModuleNotAllowed(t *testing.T) {
	f := newFixture(t, 3)

	_, err := f.svc.Create(context.Background(), tenantCaller(acctAlpha), instance.CreateParams{
		Name:    "alpha-main",
		Domain:  "alpha.example.com",
		Modules: []string{"crm", "manufacturing"},
	})
	assert.ErrorIs(t, err, entitlement.ErrModuleNotAllowed)
}

func TestCreateQuotaExceeded(t *testing.T) {
	f := newFixture(t, 1)
	caller := tenantCaller(acctAlpha)

	inst, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-one",
		Domain: "one.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, inst.ID)

	_, err = f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-two",
		Domain: "two.example.com",
	})
	assert.ErrorIs(t, err, entitlement.ErrQuotaExceeded)
}

func TestCreateWithoutSubscription(t *testing.T) {
	f := newFixture(t, 3)
	delete(f.subs.byAccount, acctAlpha)

	_, err := f.svc.Create(context.Background(), tenantCaller(acctAlpha), instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	assert.ErrorIs(t, err, entitlement.ErrNoActiveSubscription)
}

func TestCreateNameTaken(t *testing.T) {
	f := newFixture(t, 5)

	inst, err := f.svc.Create(context.Background(), tenantCaller(acctAlpha), instance.CreateParams{
		Name:   "shared-name",
		Domain: "a.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, inst.ID)

	// Names are unique across tenants; the second tenant collides.
	_, err = f.svc.Create(context.Background(), tenantCaller(acctBeta), instance.CreateParams{
		Name:   "shared-name",
		Domain: "b.example.com",
	})
	assert.ErrorIs(t, err, instance.ErrNameTaken)
}

func TestDispatchStopAndStart(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	created, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	stopped, err := f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStop)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateStopped, stopped.State)

	started, err := f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStart)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRunning, started.State)
}

func TestDispatchInvalidTransition(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	created, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	// START from RUNNING is not a legal move.
	_, err = f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStart)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestDispatchExecutorFailureAbsorbed(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	created, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	f.executor.FailNext = errors.New("compose exited 1")
	inst, err := f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStop)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateError, inst.State)
	assert.Contains(t, inst.LastError, "compose exited 1")

	// ERROR recovers through an explicit START.
	recovered, err := f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStart)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRunning, recovered.State)
	assert.Empty(t, recovered.LastError)
}

func TestDispatchConflict(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	created, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	// Hold the first STOP in flight at the executor.
	f.executor.Gate = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStop)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return f.locks.Held(created.ID)
	}, 2*time.Second, 5*time.Millisecond)

	_, err = f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStop)
	assert.ErrorIs(t, err, instance.ErrActionInProgress)

	f.executor.Gate <- struct{}{}
	<-done

	inst, err := f.registry.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateStopped, inst.State)
}

// ctxRegistry rejects operations once the context is canceled, the way the
// SQL-backed registry does.
type ctxRegistry struct {
	*memory.Registry
}

func (r *ctxRegistry) CompareAndTransition(ctx context.Context, id string, expected, next lifecycle.State, mutate func(*instance.Instance)) (*instance.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Registry.CompareAndTransition(ctx, id, expected, next, mutate)
}

func (r *ctxRegistry) Get(ctx context.Context, id string) (*instance.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.Registry.Get(ctx, id)
}

func TestDispatchSettlesAfterCallerDisconnect(t *testing.T) {
	f := newFixture(t, 3)
	f.svc = instance.NewService(
		&ctxRegistry{Registry: f.registry},
		f.logs,
		f.locks,
		f.executor,
		entitlement.NewEvaluator(f.subs, &stubPlanRepo{plans: map[string]*billing.Plan{
			"plan-pro": {ID: "plan-pro", Name: "pro", MaxInstances: 3, IsActive: true},
		}}),
		audit.NewSlogLogger(),
		5*time.Second,
	)
	caller := tenantCaller(acctAlpha)

	created, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	// Hold the STOP at the executor, then cancel the request mid-action.
	f.executor.Gate = make(chan struct{})
	reqCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		inst, err := f.svc.Dispatch(reqCtx, caller, created.ID, lifecycle.ActionStop)
		assert.NoError(t, err)
		assert.Equal(t, lifecycle.StateError, inst.State)
	}()

	require.Eventually(t, func() bool {
		inst, err := f.registry.Get(context.Background(), created.ID)
		return err == nil && inst.State == lifecycle.StateStopping
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// The aborted action must settle to ERROR, not stay parked in the
	// intermediate state.
	inst, err := f.registry.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateError, inst.State)
	assert.Contains(t, inst.LastError, "context canceled")
	assert.False(t, f.locks.Held(created.ID))
}

func TestDispatchStartBlockedWhenSuspended(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	created, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	_, err = f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStop)
	require.NoError(t, err)

	f.subs.byAccount[acctAlpha].Status = billing.StatusSuspended

	_, err = f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStart)
	assert.ErrorIs(t, err, entitlement.ErrNoActiveSubscription)

	// Delete stays available to wind the instance down.
	removed, err := f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRemoved, removed.State)
}

func TestDeleteFreesPortAndName(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	first, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, first.ID)

	removed, err := f.svc.Dispatch(context.Background(), caller, first.ID, lifecycle.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRemoved, removed.State)

	// The REMOVED row stays visible but releases its name and port.
	second, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, first.Port, second.Port)
	waitSettled(t, f, second.ID)

	list, err := f.svc.List(context.Background(), caller)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDispatchOnRemovedInstance(t *testing.T) {
	f := newFixture(t, 3)
	caller := tenantCaller(acctAlpha)

	created, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	_, err = f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionDelete)
	require.NoError(t, err)

	_, err = f.svc.Dispatch(context.Background(), caller, created.ID, lifecycle.ActionStart)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t, 3)

	created, err := f.svc.Create(context.Background(), tenantCaller(acctAlpha), instance.CreateParams{
		Name:   "alpha-main",
		Domain: "alpha.example.com",
	})
	require.NoError(t, err)
	waitSettled(t, f, created.ID)

	// Another tenant sees not-found, never forbidden.
	_, err = f.svc.Get(context.Background(), tenantCaller(acctBeta), created.ID)
	assert.ErrorIs(t, err, instance.ErrNotFound)

	_, err = f.svc.Dispatch(context.Background(), tenantCaller(acctBeta), created.ID, lifecycle.ActionStop)
	assert.ErrorIs(t, err, instance.ErrNotFound)

	list, err := f.svc.List(context.Background(), tenantCaller(acctBeta))
	require.NoError(t, err)
	assert.Empty(t, list)

	// Staff sees everything.
	staff := scope.Caller{UserID: "staff", Role: scope.RoleStaff}
	list, err = f.svc.List(context.Background(), staff)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPortExhaustion(t *testing.T) {
	f := newFixture(t, 10)
	// Shrink the range to two ports.
	f.registry = memory.NewRegistry(8070, 8071)
	f.svc = instance.NewService(
		f.registry, f.logs, f.locks, f.executor,
		entitlement.NewEvaluator(f.subs, &stubPlanRepo{plans: map[string]*billing.Plan{
			"plan-pro": {ID: "plan-pro", Name: "pro", MaxInstances: 10, IsActive: true},
		}}),
		audit.NewSlogLogger(),
		5*time.Second,
	)
	caller := tenantCaller(acctAlpha)

	for _, name := range []string{"one", "two"} {
		inst, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
			Name: "alpha-" + name, Domain: name + ".example.com",
		})
		require.NoError(t, err)
		waitSettled(t, f, inst.ID)
	}

	_, err := f.svc.Create(context.Background(), caller, instance.CreateParams{
		Name: "alpha-three", Domain: "three.example.com",
	})
	assert.ErrorIs(t, err, instance.ErrResourceExhausted)
}
