package http

import (
	"context"

	"github.com/stackhive/stackhive/internal/scope"
)

type contextKey string

const (
	callerKey contextKey = "caller"
)

// CallerFromContext returns the authenticated caller stored by AuthMiddleware.
func CallerFromContext(ctx context.Context) (scope.Caller, bool) {
	c, ok := ctx.Value(callerKey).(scope.Caller)
	return c, ok
}

// WithCaller stores the caller in the context. Exported for handler tests.
func WithCaller(ctx context.Context, c scope.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}
