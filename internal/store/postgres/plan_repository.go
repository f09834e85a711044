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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stackhive/stackhive/internal/billing"
)

// PlanRepository implements billing.PlanRepository
type PlanRepository struct {
	db *DB
}

// NewPlanRepository creates a new plan repository
func NewPlanRepository(db *DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// Create creates a new plan
func (r *PlanRepository) Create(ctx context.Context, plan *billing.Plan) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO plans (id, name, price, max_users, storage_limit_gb, max_instances, allowed_modules, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, plan.ID, plan.Name, plan.Price, plan.MaxUsers, plan.StorageLimitGB, plan.MaxInstances, plan.AllowedModules, plan.IsActive, now)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrPlanNameTaken
		}
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	plan.CreatedAt = now

	return nil
}

// GetByID retrieves a plan by ID
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*billing.Plan, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByName retrieves a plan by name
func (r *PlanRepository) GetByName(ctx context.Context, name string) (*billing.Plan, error) {
	return r.get(ctx, `WHERE name = $1`, name)
}

func (r *PlanRepository) get(ctx context.Context, where string, arg any) (*billing.Plan, error) {
	var plan billing.Plan

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, price, max_users, storage_limit_gb, max_instances, allowed_modules, is_active, created_at
		FROM plans `+where,
		arg,
	).Scan(
		&plan.ID, &plan.Name, &plan.Price, &plan.MaxUsers, &plan.StorageLimitGB,
		&plan.MaxInstances, &plan.AllowedModules, &plan.IsActive, &plan.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	return &plan, nil
}

// List returns all plans, cheapest first
func (r *PlanRepository) List(ctx context.Context) ([]*billing.Plan, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, name, price, max_users, storage_limit_gb, max_instances, allowed_modules, is_active, created_at
		FROM plans
		ORDER BY price ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var plans []*billing.Plan
	for rows.Next() {
		var plan billing.Plan
		if err := rows.Scan(
			&plan.ID, &plan.Name, &plan.Price, &plan.MaxUsers, &plan.StorageLimitGB,
			&plan.MaxInstances, &plan.AllowedModules, &plan.IsActive, &plan.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, &plan)
	}

	return plans, rows.Err()
}

// Update updates a plan
func (r *PlanRepository) Update(ctx context.Context, plan *billing.Plan) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE plans SET
			name = $2,
			price = $3,
			max_users = $4,
			storage_limit_gb = $5,
			max_instances = $6,
			allowed_modules = $7,
			is_active = $8
		WHERE id = $1
	`, plan.ID, plan.Name, plan.Price, plan.MaxUsers, plan.StorageLimitGB, plan.MaxInstances, plan.AllowedModules, plan.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return billing.ErrPlanNameTaken
		}
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if result.RowsAffected() == 0 {
		return billing.ErrPlanNotFound
	}
	return nil
}

// Delete deletes a plan that no subscription references
func (r *PlanRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return billing.ErrPlanInUse
		}
		return fmt.Errorf("failed to delete plan: %w", err)
	}
	if result.RowsAffected() == 0 {
		return billing.ErrPlanNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
