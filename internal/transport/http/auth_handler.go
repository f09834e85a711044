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

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/identity"
	"github.com/stackhive/stackhive/internal/observability/logger"
	"github.com/stackhive/stackhive/internal/scope"
)

// RegisterRequest represents tenant sign-up data
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	CompanyName string `json:"company_name"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
}

// Register creates a portal user with its tenant account and returns a
// token pair so the client is logged in immediately.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CompanyName == "" {
		respondError(w, http.StatusBadRequest, "company_name is required")
		return
	}

	user, err := h.identityService.CreateUser(r.Context(), req.Email, req.Password, false)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	acct, err := h.accountService.Create(r.Context(), user.ID, req.CompanyName, req.Phone, req.Address)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create account",
			logger.Error(err),
			logger.UserID(user.ID),
		)
		respondError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	if err := h.identityService.LinkAccount(r.Context(), user.ID, acct.ID); err != nil {
		slog.ErrorContext(r.Context(), "failed to link account",
			logger.Error(err),
			logger.UserID(user.ID),
			logger.AccountID(acct.ID),
		)
		respondError(w, http.StatusInternalServerError, "failed to link account")
		return
	}
	user.AccountID = acct.ID

	pair, err := h.tokens.IssuePair(user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		TenantID:  acct.ID,
		ActorID:   user.ID,
		Resource:  "token_pair",
		IPAddress: getIPAddress(r),
	})

	respondJSON(w, http.StatusCreated, map[string]any{
		"user":    user,
		"account": acct,
		"tokens":  pair,
	})
}

// TokenRequest represents login credentials
type TokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Token authenticates a user and issues an access/refresh token pair.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	pair, err := h.tokens.IssuePair(user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:      audit.TypeTokenIssued,
		TenantID:  user.AccountID,
		ActorID:   user.ID,
		Resource:  "token_pair",
		IPAddress: getIPAddress(r),
		UserAgent: r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, pair)
}

// RefreshRequest carries a refresh token
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// RefreshToken exchanges a valid refresh token for a new pair.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := h.tokens.Verify(req.Refresh, identity.TokenTypeRefresh)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	// Re-read the user so the new pair reflects current role and account.
	user, err := h.identityService.GetByID(r.Context(), claims.Subject)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	pair, err := h.tokens.IssuePair(user)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

// Me returns the authenticated user and, for tenants, their account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.identityService.GetByID(r.Context(), caller.UserID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := map[string]any{"user": user}
	if caller.AccountID != "" {
		if acct, err := h.accountService.Get(r.Context(), scope.ForCaller(caller), caller.AccountID); err == nil {
			resp["account"] = acct
		}
	}

	respondJSON(w, http.StatusOK, resp)
}
