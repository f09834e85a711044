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
	"time"

	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/observability/logger"
	"github.com/stackhive/stackhive/internal/provision"
)

// Sweeper reconciles registry state against the executor's ground truth.
// It runs beside the dispatcher on a fixed cadence and only touches
// instances whose lock it can take without waiting, so it never preempts or
// queues behind a caller-initiated action. Each pass is cheap and
// idempotent; no backoff is needed.
type Sweeper struct {
	registry     Registry
	locks        *LockTable
	executor     provision.Executor
	auditLogger  audit.Logger
	queryTimeout time.Duration
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(registry Registry, locks *LockTable, executor provision.Executor, auditLogger audit.Logger, queryTimeout time.Duration) *Sweeper {
	return &Sweeper{
		registry:     registry,
		locks:        locks,
		executor:     executor,
		auditLogger:  auditLogger,
		queryTimeout: queryTimeout,
	}
}

// Sweep runs one reconciliation pass and returns how many instances were
// corrected.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	candidates, err := s.registry.ListUnsettled(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sweep candidates: %w", err)
	}

	corrected := 0
	for _, inst := range candidates {
		if !s.locks.TryAcquire(inst.ID) {
			// An action is in flight; this pass skips the instance.
			continue
		}
		changed, err := s.reconcile(ctx, inst.ID)
		s.locks.Release(inst.ID)
		if err != nil {
			slog.WarnContext(ctx, "failed to reconcile instance",
				logger.Component("sweeper"),
				logger.InstanceID(inst.ID),
				logger.Error(err),
			)
			continue
		}
		if changed {
			corrected++
		}
	}
	return corrected, nil
}

// reconcile queries ground truth for one locked instance and corrects the
// registry if they disagree.
func (s *Sweeper) reconcile(ctx context.Context, id string) (bool, error) {
	// Re-read under the lock; the candidate list may be stale.
	inst, err := s.registry.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !sweepable(inst.State) {
		return false, nil
	}

	qCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	status, err := s.executor.Status(qCtx, specFor(inst))
	cancel()
	if err != nil {
		return false, fmt.Errorf("status query: %w", err)
	}

	target, note := observedState(inst.State, status)
	if target == inst.State {
		return false, nil
	}

	_, err = s.registry.CompareAndTransition(ctx, inst.ID, inst.State, target, func(i *Instance) {
		if note != "" {
			i.LastError = note
		}
	})
	if err != nil {
		return false, err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeDriftCorrected,
		TenantID: inst.AccountID,
		Resource: inst.ID,
		Metadata: map[string]any{
			"from":           string(inst.State),
			"to":             string(target),
			"observed":       string(status),
			audit.AttrReason: note,
		},
	})

	slog.InfoContext(ctx, "corrected instance drift",
		logger.Component("sweeper"),
		logger.InstanceID(inst.ID),
		logger.State(string(target)),
	)

	return true, nil
}

// sweepable reports whether the sweeper may touch an instance in this
// state. CREATED stacks have nothing provisioned yet, ERROR recovers only
// through explicit operator action, REMOVED is terminal.
func sweepable(s lifecycle.State) bool {
	switch s {
	case lifecycle.StateCreated, lifecycle.StateError, lifecycle.StateRemoved:
		return false
	}
	return true
}

// observedState maps an executor status onto the lifecycle state the
// registry should record, given the state it currently records. The note is
// non-empty when the mismatch is unexpected rather than the tail end of an
// interrupted action.
func observedState(current lifecycle.State, status provision.Status) (lifecycle.State, string) {
	switch status {
	case provision.StatusRunning:
		if current == lifecycle.StateStopped {
			return lifecycle.StateRunning, "drift: registry recorded STOPPED but stack is running"
		}
		return lifecycle.StateRunning, ""
	case provision.StatusStopped:
		if current == lifecycle.StateRunning {
			return lifecycle.StateStopped, "drift: registry recorded RUNNING but stack is stopped"
		}
		return lifecycle.StateStopped, ""
	case provision.StatusAbsent:
		if current == lifecycle.StateDeleting {
			return lifecycle.StateRemoved, ""
		}
		return lifecycle.StateError, "drift: stack is gone from the executor"
	}
	return lifecycle.StateError, "executor reports the stack as failed"
}
