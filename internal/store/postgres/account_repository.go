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
	"github.com/stackhive/stackhive/internal/account"
)

// AccountRepository implements account.Repository
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create creates a new tenant account
func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) error {
	now := time.Now()
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO accounts (id, user_id, company_name, phone, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acc.ID, acc.UserID, acc.CompanyName, acc.Phone, acc.Address, now)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	acc.CreatedAt = now

	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

// GetByUser retrieves the account owned by a user
func (r *AccountRepository) GetByUser(ctx context.Context, userID string) (*account.Account, error) {
	return r.get(ctx, `WHERE user_id = $1`, userID)
}

func (r *AccountRepository) get(ctx context.Context, where string, arg any) (*account.Account, error) {
	var acc account.Account

	err := r.db.pool.QueryRow(ctx, `
		SELECT id, user_id, company_name, phone, address, created_at
		FROM accounts `+where,
		arg,
	).Scan(&acc.ID, &acc.UserID, &acc.CompanyName, &acc.Phone, &acc.Address, &acc.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return &acc, nil
}

// List returns all tenant accounts, newest first
func (r *AccountRepository) List(ctx context.Context) ([]*account.Account, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, company_name, phone, address, created_at
		FROM accounts
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		var acc account.Account
		if err := rows.Scan(&acc.ID, &acc.UserID, &acc.CompanyName, &acc.Phone, &acc.Address, &acc.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, &acc)
	}

	return accounts, rows.Err()
}

// Count returns the number of tenant accounts
func (r *AccountRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return count, nil
}
