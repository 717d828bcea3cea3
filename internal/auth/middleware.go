package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/HyphaGroup/execstream/internal/control"
	"github.com/HyphaGroup/execstream/internal/logger"
)

// Middleware creates HTTP middleware requiring a Bearer token from store
func Middleware(store *Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")

			if !strings.HasPrefix(header, "Bearer ") {
				jsonError(w, "Authentication required (Bearer token)", http.StatusUnauthorized)
				return
			}

			secret := strings.TrimPrefix(header, "Bearer ")
			token, err := store.ValidateToken(secret)
			if err != nil {
				logger.Info("Token validation failed for %s: %v", maskToken(secret), err)
				jsonError(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := WithContext(r.Context(), &AuthContext{Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware throttles requests per token name, or per remote
// address when unauthenticated. Apply it after Middleware.
func RateLimitMiddleware(limiter *control.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if authCtx := FromContext(r.Context()); authCtx != nil && authCtx.Token != nil {
				key = "token:" + authCtx.Token.Name
			}

			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", "1")
				jsonErrorCode(w, "Rate limit exceeded. Please slow down.", -32029, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func jsonError(w http.ResponseWriter, message string, status int) {
	jsonErrorCode(w, message, -32001, status)
}

func jsonErrorCode(w http.ResponseWriter, message string, code, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
		"id": nil,
	})
}
