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

// Package http is the portal's REST surface. Handlers translate requests
// into core calls and domain errors into status codes; no business rules
// live here.
package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stackhive/stackhive/internal/account"
	"github.com/stackhive/stackhive/internal/audit"
	"github.com/stackhive/stackhive/internal/billing"
	"github.com/stackhive/stackhive/internal/entitlement"
	"github.com/stackhive/stackhive/internal/identity"
	"github.com/stackhive/stackhive/internal/instance"
	"github.com/stackhive/stackhive/internal/lifecycle"
	"github.com/stackhive/stackhive/internal/observability/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService *identity.Service
	accountService  *account.Service
	billingService  *billing.Service
	instanceService *instance.Service
	tokens          *identity.TokenService
	auditLogger     audit.Logger
	instruments     *metrics.Instruments
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	accountService *account.Service,
	billingService *billing.Service,
	instanceService *instance.Service,
	tokens *identity.TokenService,
	auditLogger audit.Logger,
	instruments *metrics.Instruments,
) *Handler {
	return &Handler{
		identityService: identityService,
		accountService:  accountService,
		billingService:  billingService,
		instanceService: instanceService,
		tokens:          tokens,
		auditLogger:     auditLogger,
		instruments:     instruments,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints
		r.Post("/auth/register", h.Register)
		r.Post("/auth/token", h.Token)
		r.Post("/auth/token/refresh", h.RefreshToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Get("/auth/me", h.Me)

			r.Route("/instances", func(r chi.Router) {
				r.Get("/", h.ListInstances)
				r.Post("/", h.CreateInstance)
				r.Route("/{instanceID}", func(r chi.Router) {
					r.Get("/", h.GetInstance)
					r.Delete("/", h.RemoveInstance)
					r.Post("/start", h.StartInstance)
					r.Post("/stop", h.StopInstance)
					r.Post("/restart", h.RestartInstance)
					r.Get("/logs", h.InstanceLogs)
				})
			})

			r.Route("/plans", func(r chi.Router) {
				r.Get("/", h.ListPlans)
				r.Get("/{planID}", h.GetPlan)

				// Catalog management is staff-only
				r.Group(func(r chi.Router) {
					r.Use(RequireStaff)
					r.Post("/", h.CreatePlan)
					r.Put("/{planID}", h.UpdatePlan)
					r.Delete("/{planID}", h.DeletePlan)
				})
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", h.ListSubscriptions)

				r.Group(func(r chi.Router) {
					r.Use(RequireStaff)
					r.Post("/", h.CreateSubscription)
					r.Patch("/{subscriptionID}", h.UpdateSubscription)
				})
			})

			r.Get("/deployment-logs", h.DeploymentLogs)

			r.Get("/clients", h.ListClients)

			r.With(RequireStaff).Get("/admin/stats", h.AdminStats)
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "stackhive",
	})
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondDomainError maps core errors onto status codes. Scope violations
// arrive here already converted to not-found by the core.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, instance.ErrNotFound),
		errors.Is(err, account.ErrAccountNotFound),
		errors.Is(err, billing.ErrPlanNotFound),
		errors.Is(err, billing.ErrSubscriptionNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())

	case errors.Is(err, instance.ErrInvalidParams),
		errors.Is(err, billing.ErrValidation),
		errors.Is(err, identity.ErrInvalidEmail),
		errors.Is(err, identity.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, entitlement.ErrQuotaExceeded),
		errors.Is(err, entitlement.ErrModuleNotAllowed),
		errors.Is(err, entitlement.ErrNoActiveSubscription),
		errors.Is(err, instance.ErrNoTenantAccount):
		respondError(w, http.StatusForbidden, err.Error())

	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, instance.ErrStaleState),
		errors.Is(err, instance.ErrActionInProgress),
		errors.Is(err, instance.ErrNameTaken),
		errors.Is(err, identity.ErrUserAlreadyExists),
		errors.Is(err, billing.ErrPlanNameTaken),
		errors.Is(err, billing.ErrPlanInUse):
		respondError(w, http.StatusConflict, err.Error())

	case errors.Is(err, instance.ErrResourceExhausted):
		respondError(w, http.StatusServiceUnavailable, err.Error())

	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
