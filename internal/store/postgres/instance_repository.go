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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stackhive/stackhive/internal/entitlement"
	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/scope"
)

// Advisory lock key serializing instance creation. Port allocation and the
// quota count must see a stable view of the live rows.
const createLockKey = 0x5748_4956 // "HIV"

// InstanceRepository implements instance.Registry on PostgreSQL.
type InstanceRepository struct {
	db       *DB
	portFrom int
	portTo   int
}

// NewInstanceRepository creates a new instance registry backed by PostgreSQL.
// Ports are allocated from the inclusive range [portFrom, portTo].
func NewInstanceRepository(db *DB, portFrom, portTo int) *InstanceRepository {
	return &InstanceRepository{db: db, portFrom: portFrom, portTo: portTo}
}

const instanceColumns = `id, account_id, subscription_id, name, domain, port, db_name, state, last_error, created_at, last_transitioned_at`

// Get retrieves an instance by ID
func (r *InstanceRepository) Get(ctx context.Context, id string) (*instance.Instance, error) {
	var inst instance.Instance

	err := r.db.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM instances
		WHERE id = $1
	`, id).Scan(
		&inst.ID, &inst.AccountID, &inst.SubscriptionID, &inst.Name, &inst.Domain,
		&inst.Port, &inst.DBName, &inst.State, &inst.LastError, &inst.CreatedAt, &inst.LastTransitionedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, instance.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return &inst, nil
}

// ListByScope returns the instances visible to the caller, newest first
func (r *InstanceRepository) ListByScope(ctx context.Context, sc scope.Scope) ([]*instance.Instance, error) {
	if sc.All() {
		return r.list(ctx, ``)
	}
	return r.list(ctx, `WHERE account_id = $1`, sc.AccountID())
}

// ListUnsettled returns reconciliation candidates
func (r *InstanceRepository) ListUnsettled(ctx context.Context) ([]*instance.Instance, error) {
	return r.list(ctx, `WHERE state NOT IN ($1, $2, $3)`,
		lifecycle.StateCreated, lifecycle.StateError, lifecycle.StateRemoved)
}

func (r *InstanceRepository) list(ctx context.Context, where string, args ...any) ([]*instance.Instance, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+instanceColumns+`
		FROM instances `+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*instance.Instance
	for rows.Next() {
		var inst instance.Instance
		if err := rows.Scan(
			&inst.ID, &inst.AccountID, &inst.SubscriptionID, &inst.Name, &inst.Domain,
			&inst.Port, &inst.DBName, &inst.State, &inst.LastError, &inst.CreatedAt, &inst.LastTransitionedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, &inst)
	}

	return instances, rows.Err()
}

// CountActiveByAccount counts the account's instances not yet REMOVED
func (r *InstanceRepository) CountActiveByAccount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM instances
		WHERE account_id = $1 AND state <> $2
	`, accountID, lifecycle.StateRemoved).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

// CountByState returns instance counts per lifecycle state
func (r *InstanceRepository) CountByState(ctx context.Context) (map[lifecycle.State]int, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT state, COUNT(*) FROM instances GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[lifecycle.State]int)
	for rows.Next() {
		var state lifecycle.State
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("failed to scan state count: %w", err)
		}
		counts[state] = count
	}

	return counts, rows.Err()
}

// Create allocates a free port and database name and inserts the record in
// state CREATED. Quota, name uniqueness and port allocation are all checked
// under one advisory lock so concurrent creates cannot race each other.
func (r *InstanceRepository) Create(ctx context.Context, draft instance.Draft) (*instance.Instance, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, createLockKey); err != nil {
		return nil, fmt.Errorf("failed to take create lock: %w", err)
	}

	var count int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM instances
		WHERE account_id = $1 AND state <> $2
	`, draft.AccountID, lifecycle.StateRemoved).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count instances: %w", err)
	}
	if count >= draft.MaxInstances {
		return nil, fmt.Errorf("%w: limit %d reached", entitlement.ErrQuotaExceeded, draft.MaxInstances)
	}

	dbName := databaseNameFor(draft.Name)

	var taken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM instances
			WHERE (name = $1 OR db_name = $2) AND state <> $3
		)
	`, draft.Name, dbName, lifecycle.StateRemoved).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("failed to check name: %w", err)
	}
	if taken {
		return nil, instance.ErrNameTaken
	}

	var port int
	err = tx.QueryRow(ctx, `
		SELECT p FROM generate_series($1::int, $2::int) AS p
		WHERE NOT EXISTS (
			SELECT 1 FROM instances WHERE port = p AND state <> $3
		)
		ORDER BY p
		LIMIT 1
	`, r.portFrom, r.portTo, lifecycle.StateRemoved).Scan(&port)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, instance.ErrResourceExhausted
		}
		return nil, fmt.Errorf("failed to allocate port: %w", err)
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

	_, err = tx.Exec(ctx, `
		INSERT INTO instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, inst.ID, inst.AccountID, inst.SubscriptionID, inst.Name, inst.Domain,
		inst.Port, inst.DBName, inst.State, inst.LastError, inst.CreatedAt, inst.LastTransitionedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert instance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit instance: %w", err)
	}

	return inst, nil
}

// CompareAndTransition atomically moves the instance from expected to next,
// applying mutate inside the same row lock
func (r *InstanceRepository) CompareAndTransition(ctx context.Context, id string, expected, next lifecycle.State, mutate func(*instance.Instance)) (*instance.Instance, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var inst instance.Instance
	err = tx.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM instances
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&inst.ID, &inst.AccountID, &inst.SubscriptionID, &inst.Name, &inst.Domain,
		&inst.Port, &inst.DBName, &inst.State, &inst.LastError, &inst.CreatedAt, &inst.LastTransitionedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, instance.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock instance: %w", err)
	}

	if inst.State != expected {
		return nil, fmt.Errorf("%w: expected %s, found %s", instance.ErrStaleState, expected, inst.State)
	}

	inst.State = next
	inst.LastTransitionedAt = time.Now()
	if mutate != nil {
		mutate(&inst)
	}

	_, err = tx.Exec(ctx, `
		UPDATE instances SET state = $2, last_error = $3, last_transitioned_at = $4
		WHERE id = $1
	`, inst.ID, inst.State, inst.LastError, inst.LastTransitionedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update instance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return &inst, nil
}

// databaseNameFor derives the per-instance database name from the instance
// name. Names are already validated as lowercase alphanumeric with dashes.
func databaseNameFor(name string) string {
	return "app_" + strings.ReplaceAll(name, "-", "_")
}
