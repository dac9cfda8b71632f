package middleware

import (
	"context"
	"net/http"

	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/pkg/clientip"
)

// BlockChecker reports whether a client identifier is blocked.
type BlockChecker interface {
	IsBlocked(ctx context.Context, identifier string) bool
}

// BlockedCheck refuses clients the monitor has blocked for repeated
// suspicious activity. Block lookups fail open.
func BlockedCheck(blocks BlockChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientip.RealClientIP(r)
			if blocks.IsBlocked(r.Context(), ip) {
				logging.L(r.Context()).Warn("blocked client refused", "client", logging.Mask(ip), "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "Access temporarily blocked due to suspicious activity.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
