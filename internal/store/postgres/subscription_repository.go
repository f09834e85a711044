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
	"github.com/stackhive/stackhive/internal/billing"
)

// SubscriptionRepository implements billing.SubscriptionRepository
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, account_id, plan_id, status, billing_cycle, auto_renew, start_date, end_date, next_billing_date, created_at`

// Create creates a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, sub *billing.Subscription) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sub.ID, sub.AccountID, sub.PlanID, sub.Status, sub.BillingCycle, sub.AutoRenew,
		sub.StartDate, sub.EndDate, sub.NextBillingDate, now)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	sub.CreatedAt = now

	return nil
}

// GetByID retrieves a subscription by ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*billing.Subscription, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetCurrentByAccount returns the account's ACTIVE subscription, falling
// back to the most recent one of any status. The ACTIVE row is not always
// the newest: re-activating an older subscription suspends the newer one.
func (r *SubscriptionRepository) GetCurrentByAccount(ctx context.Context, accountID string) (*billing.Subscription, error) {
	return r.get(ctx, `
		WHERE account_id = $1
		ORDER BY (status = 'ACTIVE') DESC, created_at DESC
		LIMIT 1`, accountID)
}

func (r *SubscriptionRepository) get(ctx context.Context, where string, arg any) (*billing.Subscription, error) {
	var sub billing.Subscription

	err := r.db.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions `+where,
		arg,
	).Scan(
		&sub.ID, &sub.AccountID, &sub.PlanID, &sub.Status, &sub.BillingCycle,
		&sub.AutoRenew, &sub.StartDate, &sub.EndDate, &sub.NextBillingDate, &sub.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

// List returns all subscriptions, newest first
func (r *SubscriptionRepository) List(ctx context.Context) ([]*billing.Subscription, error) {
	return r.list(ctx, ``)
}

// ListByAccount returns an account's subscriptions, newest first
func (r *SubscriptionRepository) ListByAccount(ctx context.Context, accountID string) ([]*billing.Subscription, error) {
	return r.list(ctx, `WHERE account_id = $1`, accountID)
}

func (r *SubscriptionRepository) list(ctx context.Context, where string, args ...any) ([]*billing.Subscription, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions `+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*billing.Subscription
	for rows.Next() {
		var sub billing.Subscription
		if err := rows.Scan(
			&sub.ID, &sub.AccountID, &sub.PlanID, &sub.Status, &sub.BillingCycle,
			&sub.AutoRenew, &sub.StartDate, &sub.EndDate, &sub.NextBillingDate, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, &sub)
	}

	return subs, rows.Err()
}

// Update updates a subscription
func (r *SubscriptionRepository) Update(ctx context.Context, sub *billing.Subscription) error {
	result, err := r.db.pool.Exec(ctx, `
		UPDATE subscriptions SET
			plan_id = $2,
			status = $3,
			billing_cycle = $4,
			auto_renew = $5,
			end_date = $6,
			next_billing_date = $7
		WHERE id = $1
	`, sub.ID, sub.PlanID, sub.Status, sub.BillingCycle, sub.AutoRenew, sub.EndDate, sub.NextBillingDate)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

// SuspendActiveByAccount marks every ACTIVE subscription of the account
// as SUSPENDED
func (r *SubscriptionRepository) SuspendActiveByAccount(ctx context.Context, accountID string) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE subscriptions SET status = $2
		WHERE account_id = $1 AND status = $3
	`, accountID, billing.StatusSuspended, billing.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to suspend subscriptions: %w", err)
	}
	return nil
}

// ActiveRevenue sums plan prices over all ACTIVE subscriptions
func (r *SubscriptionRepository) ActiveRevenue(ctx context.Context) (float64, error) {
	var revenue float64
	err := r.db.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(p.price), 0)
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.status = $1
	`, billing.StatusActive).Scan(&revenue)
	if err != nil {
		return 0, fmt.Errorf("failed to sum active revenue: %w", err)
	}
	return revenue, nil
}
