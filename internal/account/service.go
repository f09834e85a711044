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

package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/scope"
)

// Service provides tenant account management.
type Service struct {
	repo        Repository
	auditLogger audit.Logger
}

// NewService creates a new account service.
func NewService(repo Repository, auditLogger audit.Logger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// Create creates a tenant account owned by a user.
func (s *Service) Create(ctx context.Context, userID, companyName, phone, address string) (*Account, error) {
	if companyName == "" {
		return nil, fmt.Errorf("company name is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate account id: %w", err)
	}

	acct := &Account{
		ID:          id.String(),
		UserID:      userID,
		CompanyName: companyName,
		Phone:       phone,
		Address:     address,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Create(ctx, acct); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAccountCreated,
		TenantID: acct.ID,
		ActorID:  userID,
		Resource: acct.ID,
		Metadata: map[string]any{"company_name": companyName},
	})

	return acct, nil
}

// Get retrieves an account within the caller's scope. Out-of-scope accounts
// surface as not found.
func (s *Service) Get(ctx context.Context, sc scope.Scope, id string) (*Account, error) {
	acct, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sc.Allows(acct.ID) {
		return nil, ErrAccountNotFound
	}
	return acct, nil
}

// List returns the accounts visible to the caller: all for staff, the
// caller's own profile for tenants.
func (s *Service) List(ctx context.Context, sc scope.Scope) ([]*Account, error) {
	if sc.All() {
		return s.repo.List(ctx)
	}
	if sc.AccountID() == "" {
		return []*Account{}, nil
	}
	acct, err := s.repo.GetByID(ctx, sc.AccountID())
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{acct}, nil
}

// Count returns the number of tenant accounts.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}
