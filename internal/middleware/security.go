package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AnshRaj112/techphono-security/pkg/clientip"
)

const (
	headerXContentTypeOptions     = "X-Content-Type-Options"
	headerXFrameOptions           = "X-Frame-Options"
	headerXXSSProtection          = "X-XSS-Protection"
	headerContentSecurityPolicy   = "Content-Security-Policy"
	headerStrictTransportSecurity = "Strict-Transport-Security"
	headerReferrerPolicy          = "Referrer-Policy"
	headerPermissionsPolicy       = "Permissions-Policy"
	headerCacheControl            = "Cache-Control"
)

// ContentSecurityPolicy is sent on every response.
var ContentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self'",
	"style-src 'self' 'unsafe-inline'",
	"img-src 'self' data: https:",
	"font-src 'self' data:",
	"connect-src 'self'",
	"frame-ancestors 'none'",
	"base-uri 'self'",
	"form-action 'self'",
}, "; ")

// SecurityHeaders sets security-related response headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set(headerXContentTypeOptions, "nosniff")
		h.Set(headerXFrameOptions, "DENY")
		h.Set(headerXXSSProtection, "1; mode=block")
		h.Set(headerContentSecurityPolicy, ContentSecurityPolicy)
		h.Set(headerStrictTransportSecurity, "max-age=31536000; includeSubDomains")
		h.Set(headerReferrerPolicy, "strict-origin-when-cross-origin")
		h.Set(headerPermissionsPolicy, "camera=(), microphone=(), geolocation=()")
		h.Set(headerCacheControl, "no-store")
		next.ServeHTTP(w, r)
	})
}

// HostCheck returns 403 unless r.Host is one of allowedHosts. The engine
// listens on loopback, so this stops DNS rebinding from a browser page.
// allowedHosts are bare hostnames without scheme or port; none disables the
// check.
func HostCheck(allowedHosts ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			allowed[h] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			reqHost := r.Host
			if host, _, err := net.SplitHostPort(reqHost); err == nil {
				reqHost = host
			}
			if !allowed[strings.ToLower(strings.TrimSpace(reqHost))] {
				writeError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// Throttle is a per-client token bucket keyed by client IP.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	message string
}

// NewThrottle allows limit requests per second with the given burst.
// Clients idle for longer than ttl are forgotten by Sweep.
func NewThrottle(limit rate.Limit, burst int, ttl time.Duration, message string) *Throttle {
	return &Throttle{
		entries: make(map[string]*limiterEntry),
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		message: message,
	}
}

func (t *Throttle) limiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.entries[ip] = e
	}
	e.lastUse = time.Now()
	return e.limiter
}

// Sweep forgets idle clients and returns how many were removed.
func (t *Throttle) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	removed := 0
	for ip, e := range t.entries {
		if now.Sub(e.lastUse) > t.ttl {
			delete(t.entries, ip)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx ends.
func (t *Throttle) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep()
			}
		}
	}()
}

// Middleware throttles every request. Returns 429 when exceeded.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.limiter(clientip.RealClientIP(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, t.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Paths throttles only requests for the listed paths.
func (t *Throttle) Paths(paths ...string) func(http.Handler) http.Handler {
	only := make(map[string]bool, len(paths))
	for _, p := range paths {
		only[p] = true
	}
	return func(next http.Handler) http.Handler {
		throttled := t.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if only[r.URL.Path] {
				throttled.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
