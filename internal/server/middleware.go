package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"engage/internal/domain"
	"engage/internal/security"
)

type contextKey string

const claimsContextKey contextKey = "currentClaims"

// WithClaims returns a new context carrying the authenticated identity.
func WithClaims(ctx context.Context, claims *security.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// CurrentClaims extracts the authenticated identity from the request, if any.
func CurrentClaims(r *http.Request) *security.Claims {
	if v := r.Context().Value(claimsContextKey); v != nil {
		if c, ok := v.(*security.Claims); ok {
			return c
		}
	}
	return nil
}

// AuthMiddleware validates the Bearer token and attaches the claims to the
// request context.
func AuthMiddleware(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimSpace(authHeader[len("Bearer "):])

			claims, err := tokens.Parse(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := WithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// errStatus maps domain sentinel errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrWrite):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
