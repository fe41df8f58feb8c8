package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/http/response"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/security"
	"github.com/johnson-oragui/diosa-messaging-backend/internal/service"
)

type contextKey string

const (
	IdentityContextKey contextKey = "identity"
)

// BearerToken extracts the raw token from the Authorization header, or ""
// when the header is missing or not a bearer scheme.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// AuthMiddleware runs the full authorization check, signature then session
// row then jti, and attaches the resulting identity. All four failure modes
// collapse into the same 401 envelope.
func AuthMiddleware(gate *service.AuthGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				response.Unauthorized(w, r)
				return
			}
			identity, err := gate.Authorize(r.Context(), raw, security.TokenTypeAccess)
			if err != nil {
				if service.IsAuthError(err) {
					response.Unauthorized(w, r)
					return
				}
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
				return
			}
			ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (*service.Identity, bool) {
	id, ok := ctx.Value(IdentityContextKey).(*service.Identity)
	return id, ok
}
