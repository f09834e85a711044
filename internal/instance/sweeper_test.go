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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/provision"
)

func newSweeper(f *fixture) *instance.Sweeper {
	return instance.NewSweeper(f.registry, f.locks, f.executor, audit.NewSlogLogger(), time.Second)
}

// seedInstance creates a settled RUNNING instance through the dispatcher.
func seedInstance(t *testing.T, f *fixture, name string) *instance.Instance {
	t.Helper()
	inst, err := f.svc.Create(context.Background(), tenantCaller(acctAlpha), instance.CreateParams{
		Name:   name,
		Domain: name + ".example.com",
	})
	require.NoError(t, err)
	settled := waitSettled(t, f, inst.ID)
	require.Equal(t, lifecycle.StateRunning, settled.State)
	return settled
}

func TestSweepCorrectsStoppedDrift(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")

	// The stack died out-of-band.
	f.executor.SetStatus(inst.ID, provision.StatusStopped)

	corrected, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	got, err := f.registry.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateStopped, got.State)
	assert.Contains(t, got.LastError, "drift")
}

func TestSweepIsIdempotent(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")
	f.executor.SetStatus(inst.ID, provision.StatusStopped)

	sweeper := newSweeper(f)

	corrected, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	corrected, err = sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, corrected)
}

func TestSweepResolvesStuckIntermediate(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")

	// Simulate a crash mid-action: the marker state persisted but the
	// executor finished the stop.
	_, err := f.registry.CompareAndTransition(context.Background(), inst.ID,
		lifecycle.StateRunning, lifecycle.StateStopping, nil)
	require.NoError(t, err)
	f.executor.SetStatus(inst.ID, provision.StatusStopped)

	corrected, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	got, err := f.registry.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateStopped, got.State)
}

func TestSweepAbsentWhileDeleting(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")

	_, err := f.registry.CompareAndTransition(context.Background(), inst.ID,
		lifecycle.StateRunning, lifecycle.StateDeleting, nil)
	require.NoError(t, err)
	f.executor.SetStatus(inst.ID, provision.StatusAbsent)

	corrected, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	got, err := f.registry.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRemoved, got.State)
}

func TestSweepAbsentWhileRunningIsError(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")

	f.executor.SetStatus(inst.ID, provision.StatusAbsent)

	corrected, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, corrected)

	got, err := f.registry.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateError, got.State)
	assert.NotEmpty(t, got.LastError)
}

func TestSweepSkipsLockedInstances(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")
	f.executor.SetStatus(inst.ID, provision.StatusStopped)

	require.True(t, f.locks.TryAcquire(inst.ID))
	defer f.locks.Release(inst.ID)

	corrected, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, corrected)

	got, err := f.registry.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRunning, got.State)
}

func TestSweepIgnoresSettledTerminalStates(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")

	// Put the instance in ERROR; the sweeper must leave recovery to the
	// operator even though ground truth says running.
	f.executor.FailNext = assert.AnError
	_, err := f.svc.Dispatch(context.Background(), tenantCaller(acctAlpha), inst.ID, lifecycle.ActionStop)
	require.NoError(t, err)
	f.executor.SetStatus(inst.ID, provision.StatusRunning)

	corrected, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, corrected)

	got, err := f.registry.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateError, got.State)
}

func TestSweepMatchingStateIsNoop(t *testing.T) {
	f := newFixture(t, 5)
	inst := seedInstance(t, f, "alpha-main")

	// Ground truth agrees with the registry.
	corrected, err := newSweeper(f).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, corrected)

	got, err := f.registry.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateRunning, got.State)
	assert.False(t, f.locks.Held(inst.ID))
}
