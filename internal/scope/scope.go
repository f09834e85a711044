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

// Package scope is the single authorization boundary in front of the
// registry. Every read or write derives its visible set from a Scope value,
// never from an ad-hoc role check.
package scope

// Role of the calling identity.
type Role string

const (
	RoleStaff  Role = "STAFF"
	RoleTenant Role = "TENANT"
)

// Caller is the request-scoped identity passed into every core call.
// There is no ambient session state; handlers build a Caller per request.
type Caller struct {
	UserID    string
	Role      Role
	AccountID string // owning tenant account, empty for staff
}

// Staff reports whether the caller holds the staff role.
func (c Caller) Staff() bool {
	return c.Role == RoleStaff
}

// Scope is the visible/operable set derived from a caller: either everything
// (staff) or a single tenant account.
type Scope struct {
	all       bool
	accountID string
}

// ForCaller derives the access scope for a caller.
func ForCaller(c Caller) Scope {
	if c.Staff() {
		return Scope{all: true}
	}
	return Scope{accountID: c.AccountID}
}

// All reports whether the scope spans every tenant.
func (s Scope) All() bool {
	return s.all
}

// AccountID returns the tenant account the scope is restricted to, empty for
// staff scope.
func (s Scope) AccountID() string {
	return s.accountID
}

// Allows reports whether a record owned by the given account is inside the
// scope. Out-of-scope references must surface as NotFound to the caller,
// never as Forbidden, so that existence does not leak across tenants.
func (s Scope) Allows(ownerAccountID string) bool {
	if s.all {
		return true
	}
	return s.accountID != "" && s.accountID == ownerAccountID
}
