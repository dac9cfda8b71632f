package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/logging"
)

// RateLimitKeyPrefix namespaces persisted windows.
const RateLimitKeyPrefix = "ratelimit:"

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining time.Duration // time until the oldest counted request leaves the window; zero when allowed
}

// WindowStore holds request timestamps per identifier. Update must apply fn
// atomically with respect to other calls for the same identifier.
type WindowStore interface {
	Update(ctx context.Context, identifier string, fn func(window []time.Time) []time.Time) error
	Reset(ctx context.Context, identifier string) error
}

// RateLimiter is a sliding-window limiter. One algorithm serves both the
// in-memory backend (API throttling) and the persisted one (login attempts).
type RateLimiter struct {
	name  string
	store WindowStore
	opts  options
}

// NewRateLimiter builds a limiter over store. name labels logs and metrics.
func NewRateLimiter(name string, store WindowStore, opts ...Option) *RateLimiter {
	o := buildOptions(opts)
	return &RateLimiter{name: name, store: store, opts: o}
}

// Check records a request for identifier if the window has room. A
// persistence failure allows the request: availability is preferred over
// strict limiting, and the failure is logged and counted.
func (l *RateLimiter) Check(ctx context.Context, identifier string, maxRequests int, window time.Duration) (Decision, error) {
	if strings.TrimSpace(identifier) == "" {
		return Decision{}, ErrInvalidIdentifier
	}
	if maxRequests <= 0 || window <= 0 {
		return Decision{}, fmt.Errorf("rate limit: maxRequests and window must be positive")
	}

	now := l.opts.clock.Now()
	var decision Decision
	err := l.store.Update(ctx, identifier, func(stamps []time.Time) []time.Time {
		next, d := slide(stamps, now, maxRequests, window)
		decision = d
		return next
	})
	if err != nil {
		l.opts.logger.Warn("rate limit store failed, allowing request",
			"limiter", l.name, "identifier", logging.Mask(identifier), "error", err)
		l.opts.metrics.StoreErrorsTotal.WithLabelValues("ratelimit").Inc()
		l.opts.metrics.RateLimitDecisions.WithLabelValues(l.name, "fail_open").Inc()
		return Decision{Allowed: true}, nil
	}

	result := "allowed"
	if !decision.Allowed {
		result = "denied"
	}
	l.opts.metrics.RateLimitDecisions.WithLabelValues(l.name, result).Inc()
	return decision, nil
}

// Reset forgets every request recorded for identifier.
func (l *RateLimiter) Reset(ctx context.Context, identifier string) error {
	if strings.TrimSpace(identifier) == "" {
		return ErrInvalidIdentifier
	}
	return l.store.Reset(ctx, identifier)
}

// slide drops timestamps older than window and, if fewer than max remain,
// appends now. Timestamps are kept oldest first.
func slide(stamps []time.Time, now time.Time, max int, window time.Duration) ([]time.Time, Decision) {
	cutoff := now.Add(-window)
	kept := stamps[:0:0]
	for _, ts := range stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= max {
		remaining := kept[0].Add(window).Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		return kept, Decision{Allowed: false, Remaining: remaining}
	}
	return append(kept, now), Decision{Allowed: true}
}

// MemoryWindows keeps windows in process memory for the process lifetime.
type MemoryWindows struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryWindows() *MemoryWindows {
	return &MemoryWindows{windows: make(map[string][]time.Time)}
}

func (m *MemoryWindows) Update(_ context.Context, identifier string, fn func([]time.Time) []time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := fn(m.windows[identifier])
	if len(next) == 0 {
		delete(m.windows, identifier)
		return nil
	}
	m.windows[identifier] = next
	return nil
}

func (m *MemoryWindows) Reset(_ context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, identifier)
	return nil
}

// Prune drops windows whose newest request is older than idle. It returns
// the number of windows removed.
func (m *MemoryWindows) Prune(now time.Time, idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, stamps := range m.windows {
		if len(stamps) == 0 || now.Sub(stamps[len(stamps)-1]) > idle {
			delete(m.windows, id)
			removed++
		}
	}
	return removed
}

// Len is the number of identifiers currently tracked.
func (m *MemoryWindows) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// StoreWindows persists each identifier's window under ratelimit:<id> as a
// JSON array of unix milliseconds, so limits survive restarts.
type StoreWindows struct {
	store *database.Guarded
}

func NewStoreWindows(store *database.Guarded) *StoreWindows {
	return &StoreWindows{store: store}
}

func (s *StoreWindows) Update(ctx context.Context, identifier string, fn func([]time.Time) []time.Time) error {
	return s.store.Update(ctx, RateLimitKeyPrefix+identifier, func(cur string, ok bool) (string, bool, error) {
		var millis []int64
		if ok && cur != "" {
			// A corrupt window is treated as empty rather than blocking the
			// identifier forever.
			if err := json.Unmarshal([]byte(cur), &millis); err != nil {
				millis = nil
			}
		}
		stamps := make([]time.Time, len(millis))
		for i, ms := range millis {
			stamps[i] = time.UnixMilli(ms)
		}

		next := fn(stamps)
		if len(next) == 0 {
			return "", false, nil
		}
		out := make([]int64, len(next))
		for i, ts := range next {
			out[i] = ts.UnixMilli()
		}
		data, err := json.Marshal(out)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
}

func (s *StoreWindows) Reset(ctx context.Context, identifier string) error {
	return s.store.Delete(ctx, RateLimitKeyPrefix+identifier)
}

// PruneStale removes persisted windows whose newest entry is older than
// idle. Read failures on individual keys are skipped.
func (s *StoreWindows) PruneStale(ctx context.Context, now time.Time, idle time.Duration) (int, error) {
	keys, err := s.store.KeysWithPrefix(ctx, RateLimitKeyPrefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		stale := false
		err := s.store.Update(ctx, key, func(cur string, ok bool) (string, bool, error) {
			var millis []int64
			if !ok || json.Unmarshal([]byte(cur), &millis) != nil || len(millis) == 0 ||
				now.Sub(time.UnixMilli(millis[len(millis)-1])) > idle {
				stale = ok
				return "", false, nil
			}
			return cur, true, nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return removed, err
			}
			continue
		}
		if stale {
			removed++
		}
	}
	return removed, nil
}
