package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/logging"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

const (
	LockoutKeyPrefix = "lockout:"
	BlockedKeyPrefix = "blocked:"

	DefaultLockoutDuration = 15 * time.Minute
	DefaultBlockDuration   = time.Hour
)

// expiryList stores one record per identifier under prefix. A record is
// fixed from the moment it is created and removed lazily once expired.
type expiryList struct {
	store     *database.Guarded
	prefix    string
	duration  time.Duration
	component string
	opts      options
}

func (e *expiryList) key(id string) string { return e.prefix + id }

// active returns the live record for id. Expired records are deleted on the
// way out.
func (e *expiryList) active(ctx context.Context, id string) (*models.LockoutRecord, error) {
	now := e.opts.clock.Now()
	var rec *models.LockoutRecord
	err := e.store.Update(ctx, e.key(id), func(cur string, ok bool) (string, bool, error) {
		if !ok {
			return "", false, nil
		}
		var r models.LockoutRecord
		if err := json.Unmarshal([]byte(cur), &r); err != nil || !r.Active(now) {
			return "", false, nil
		}
		rec = &r
		return cur, true, nil
	})
	return rec, err
}

// lock creates a record for id unless one is already active. It reports
// whether a new record was written.
func (e *expiryList) lock(ctx context.Context, id, reason string) (models.LockoutRecord, bool, error) {
	now := e.opts.clock.Now()
	var (
		rec     models.LockoutRecord
		created bool
	)
	err := e.store.Update(ctx, e.key(id), func(cur string, ok bool) (string, bool, error) {
		if ok {
			var existing models.LockoutRecord
			if json.Unmarshal([]byte(cur), &existing) == nil && existing.Active(now) {
				rec = existing
				return cur, true, nil
			}
		}
		rec = models.LockoutRecord{
			Identifier: id,
			Reason:     reason,
			CreatedAt:  now,
			ExpiresAt:  now.Add(e.duration),
		}
		created = true
		data, err := json.Marshal(rec)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
	return rec, created, err
}

func (e *expiryList) clear(ctx context.Context, id string) error {
	return e.store.Delete(ctx, e.key(id))
}

func (e *expiryList) clearAll(ctx context.Context) error {
	keys, err := e.store.KeysWithPrefix(ctx, e.prefix)
	if err != nil {
		return err
	}
	return e.store.MultiRemove(ctx, keys)
}

// list returns the active records, soonest expiry first.
func (e *expiryList) list(ctx context.Context) ([]models.LockoutRecord, error) {
	keys, err := e.store.KeysWithPrefix(ctx, e.prefix)
	if err != nil {
		return nil, err
	}
	now := e.opts.clock.Now()
	var out []models.LockoutRecord
	for _, key := range keys {
		cur, ok, err := e.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		var r models.LockoutRecord
		if !ok || json.Unmarshal([]byte(cur), &r) != nil || !r.Active(now) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// cleanup deletes every expired or unreadable record.
func (e *expiryList) cleanup(ctx context.Context) (int, error) {
	keys, err := e.store.KeysWithPrefix(ctx, e.prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, e.prefix)
		before, _, _ := e.store.Get(ctx, key)
		rec, err := e.active(ctx, id)
		if err != nil {
			return removed, err
		}
		if rec == nil && before != "" {
			removed++
		}
	}
	return removed, nil
}

// LockoutTracker keeps identifiers (normally emails) locked for a fixed
// window after too many failed sign-ins.
type LockoutTracker struct {
	list expiryList
}

// NewLockoutTracker builds a tracker whose lockouts last duration.
func NewLockoutTracker(store *database.Guarded, duration time.Duration, opts ...Option) *LockoutTracker {
	if duration <= 0 {
		duration = DefaultLockoutDuration
	}
	return &LockoutTracker{list: expiryList{
		store:     store,
		prefix:    LockoutKeyPrefix,
		duration:  duration,
		component: "lockout",
		opts:      buildOptions(opts),
	}}
}

// Duration is the fixed lockout window.
func (t *LockoutTracker) Duration() time.Duration { return t.list.duration }

// IsLockedOut reports whether identifier is currently locked. A store
// failure reads as not locked.
func (t *LockoutTracker) IsLockedOut(ctx context.Context, identifier string) bool {
	return t.TimeRemaining(ctx, identifier) > 0
}

// TimeRemaining returns how long identifier stays locked, zero when it is
// not locked.
func (t *LockoutTracker) TimeRemaining(ctx context.Context, identifier string) time.Duration {
	if identifier == "" {
		return 0
	}
	rec, err := t.list.active(ctx, identifier)
	if err != nil {
		t.list.opts.logger.Warn("lockout lookup failed, treating as unlocked",
			"identifier", logging.Mask(identifier), "error", err)
		t.list.opts.metrics.StoreErrorsTotal.WithLabelValues(t.list.component).Inc()
		return 0
	}
	if rec == nil {
		return 0
	}
	return rec.Remaining(t.list.opts.clock.Now())
}

// SetLockout locks identifier for the configured duration. Locking an
// already locked identifier keeps the original expiry and reports false.
func (t *LockoutTracker) SetLockout(ctx context.Context, identifier, reason string) (bool, error) {
	if strings.TrimSpace(identifier) == "" {
		return false, ErrInvalidIdentifier
	}
	rec, created, err := t.list.lock(ctx, identifier, reason)
	if err != nil {
		t.list.opts.metrics.StoreErrorsTotal.WithLabelValues(t.list.component).Inc()
		return false, err
	}
	if created {
		t.list.opts.metrics.LockoutsTotal.Inc()
		t.list.opts.logger.Warn("identifier locked out",
			"identifier", logging.Mask(identifier), "reason", reason, "until", rec.ExpiresAt)
	}
	return created, nil
}

// ClearLockout removes any lockout on identifier.
func (t *LockoutTracker) ClearLockout(ctx context.Context, identifier string) error {
	if identifier == "" {
		return ErrInvalidIdentifier
	}
	return t.list.clear(ctx, identifier)
}

// ClearAll removes every lockout.
func (t *LockoutTracker) ClearAll(ctx context.Context) error {
	return t.list.clearAll(ctx)
}

// List returns the active lockouts.
func (t *LockoutTracker) List(ctx context.Context) ([]models.LockoutRecord, error) {
	return t.list.list(ctx)
}

// CleanupExpired deletes expired lockout records.
func (t *LockoutTracker) CleanupExpired(ctx context.Context) (int, error) {
	return t.list.cleanup(ctx)
}

// BlockList holds time-bounded blocks on device or IP identifiers raised by
// the suspicious activity rule.
type BlockList struct {
	list expiryList
}

func NewBlockList(store *database.Guarded, duration time.Duration, opts ...Option) *BlockList {
	if duration <= 0 {
		duration = DefaultBlockDuration
	}
	return &BlockList{list: expiryList{
		store:     store,
		prefix:    BlockedKeyPrefix,
		duration:  duration,
		component: "blocklist",
		opts:      buildOptions(opts),
	}}
}

// Block records a block on identifier. An active block is left unchanged.
func (b *BlockList) Block(ctx context.Context, identifier, reason string) (bool, error) {
	if strings.TrimSpace(identifier) == "" {
		return false, ErrInvalidIdentifier
	}
	_, created, err := b.list.lock(ctx, identifier, reason)
	if err != nil {
		b.list.opts.metrics.StoreErrorsTotal.WithLabelValues(b.list.component).Inc()
		return false, err
	}
	if created {
		b.list.opts.metrics.BlocksTotal.Inc()
		b.list.opts.logger.Warn("identifier blocked", "identifier", logging.Mask(identifier), "reason", reason)
	}
	return created, nil
}

// IsBlocked reports whether identifier is blocked. A store failure reads as
// not blocked.
func (b *BlockList) IsBlocked(ctx context.Context, identifier string) bool {
	if identifier == "" {
		return false
	}
	rec, err := b.list.active(ctx, identifier)
	if err != nil {
		b.list.opts.metrics.StoreErrorsTotal.WithLabelValues(b.list.component).Inc()
		return false
	}
	return rec != nil
}

// Unblock removes a block.
func (b *BlockList) Unblock(ctx context.Context, identifier string) error {
	if identifier == "" {
		return ErrInvalidIdentifier
	}
	return b.list.clear(ctx, identifier)
}

// List returns the active blocks.
func (b *BlockList) List(ctx context.Context) ([]models.BlockedIP, error) {
	recs, err := b.list.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.BlockedIP, len(recs))
	for i, r := range recs {
		out[i] = models.BlockedIP{
			Identifier: r.Identifier,
			Reason:     r.Reason,
			CreatedAt:  r.CreatedAt,
			ExpiresAt:  r.ExpiresAt,
		}
	}
	return out, nil
}

// CleanupExpired deletes expired block records.
func (b *BlockList) CleanupExpired(ctx context.Context) (int, error) {
	return b.list.cleanup(ctx)
}
