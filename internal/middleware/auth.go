package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coamsaas/secore/internal/access"
	"github.com/coamsaas/secore/internal/auth"
)

// Authenticate validates the Bearer token on each request and places the
// user and tenant scope into the context. Expired and invalid tokens both
// map to 401, with distinct error strings for client UX.
func Authenticate(jwtSvc *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claims, err := jwtSvc.ValidateAccessToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					unauthorized(w, "token expired")
				} else {
					unauthorized(w, "invalid token")
				}
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			if claims.TenantID != "" {
				ctx = SetTenantID(ctx, claims.TenantID)
			}
			if claims.Role != "" {
				ctx = SetRole(ctx, claims.Role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose token role does not meet the required
// hierarchy level. Must run after Authenticate; a missing or unknown role is
// a 403, not a 401, since the caller is authenticated but not permitted.
func RequireRole(required access.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, err := access.Normalize(GetRole(r.Context()))
			if err != nil || !access.HasPermission(role, required, "", "") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "insufficient permissions"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
