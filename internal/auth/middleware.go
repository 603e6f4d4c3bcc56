package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sungwon/enroll-notify/internal/metrics"
)

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the authenticated token claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(claimsKey).(*Claims); ok {
		return c
	}
	return nil
}

// SubjectFromContext returns the authenticated subject, or "".
func SubjectFromContext(ctx context.Context) string {
	if c := ClaimsFromContext(ctx); c != nil {
		return c.Subject
	}
	return ""
}

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// JWTAuth returns an HTTP middleware that validates JWT Bearer tokens and
// stores the claims in the request context.
func JWTAuth(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "authorization header required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				unauthorized(w, "invalid authorization format, expected Bearer <token>")
				return
			}

			tokenStr := parts[1]
			if tokenStr == "" {
				unauthorized(w, "empty token")
				return
			}

			claims, err := jwtService.ValidateToken(tokenStr)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireScope returns an HTTP middleware that rejects requests whose token
// does not grant scope. Must be used after JWTAuth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				unauthorized(w, "authentication required")
				return
			}
			if !claims.HasScope(scope) {
				metrics.APIAuthFailuresTotal.Inc()
				http.Error(w, `{"error":"insufficient permissions"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	metrics.APIAuthFailuresTotal.Inc()
	http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnauthorized)
}
