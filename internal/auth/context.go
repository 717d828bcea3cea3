package auth

import (
	"context"
)

type contextKey struct{}

// WithContext attaches the request's AuthContext
func WithContext(ctx context.Context, a *AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// FromContext returns the request's AuthContext, or nil when the request
// did not come through Middleware (stdio clients, tests)
func FromContext(ctx context.Context) *AuthContext {
	a, _ := ctx.Value(contextKey{}).(*AuthContext)
	return a
}
