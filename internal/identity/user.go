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

package identity

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password does not meet security requirements")
)

// User is a portal login. Staff users operate the platform; tenant users are
// linked to the tenant account that owns their instances. The staff flag and
// account link are the only authorization inputs the core consumes.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Staff     bool      `json:"is_staff"`
	AccountID string    `json:"account_id,omitempty"` // empty for staff
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credentials is a user's password credential.
type Credentials struct {
	UserID       string
	PasswordHash string
	UpdatedAt    time.Time
}

// UserRepository defines the interface for user persistence
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)

	// SetAccount links a user to its tenant account after registration.
	SetAccount(ctx context.Context, userID, accountID string) error

	AddCredentials(ctx context.Context, credentials *Credentials) error
	GetCredentials(ctx context.Context, userID string) (*Credentials, error)
}
