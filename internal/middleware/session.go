package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/services"
)

type identityKey struct{}

// CurrentUserSource resolves the signed-in identity.
type CurrentUserSource interface {
	CurrentUser(ctx context.Context) (*services.Identity, error)
}

// IdentityFromContext returns the identity RequireSession attached.
func IdentityFromContext(ctx context.Context) *services.Identity {
	ident, _ := ctx.Value(identityKey{}).(*services.Identity)
	return ident
}

// WithIdentity attaches ident to ctx.
func WithIdentity(ctx context.Context, ident *services.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, ident)
}

// RequireSession rejects requests without a live session and attaches the
// signed-in identity to the request context.
func RequireSession(users CurrentUserSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, err := users.CurrentUser(r.Context())
			if err != nil {
				if errors.Is(err, services.ErrNotSignedIn) {
					writeError(w, http.StatusUnauthorized, services.UserMessage(err))
					return
				}
				logging.L(r.Context()).Error("session lookup failed", "error", err)
				writeError(w, http.StatusServiceUnavailable, services.UserMessage(err))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// RequireAdmin allows only identities whose email isAdmin accepts. It must
// run after RequireSession.
func RequireAdmin(isAdmin func(email string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident := IdentityFromContext(r.Context())
			if ident == nil || !isAdmin(ident.Email) {
				writeError(w, http.StatusForbidden, "Admin access required.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
