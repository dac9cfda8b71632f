package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

const (
	// SessionKey holds the single device session.
	SessionKey = "session:current"
	// DefaultSessionTimeout applies when no timeout is configured.
	DefaultSessionTimeout = 60 * time.Minute
	// ExpiringSoonThreshold marks sessions close enough to expiry to warn.
	ExpiringSoonThreshold = 5 * time.Minute
)

// SessionManager owns the one active session on the device:
// NONE -> ACTIVE on create, ACTIVE -> ACTIVE on refresh or valid check,
// ACTIVE -> EXPIRED once the timeout passes, and back to NONE on clear or
// when an expired session is observed.
type SessionManager struct {
	store    *database.Guarded
	device   *DeviceIdentity
	timeout  time.Duration
	onExpire func(ctx context.Context, s models.Session)
	opts     options
}

// NewSessionManager builds a manager whose sessions last timeout from the
// last refresh.
func NewSessionManager(store *database.Guarded, device *DeviceIdentity, timeout time.Duration, opts ...Option) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{store: store, device: device, timeout: timeout, opts: buildOptions(opts)}
}

// OnExpire registers a hook run after an expired session is discarded.
func (m *SessionManager) OnExpire(fn func(ctx context.Context, s models.Session)) {
	m.onExpire = fn
}

// Timeout is the configured session lifetime.
func (m *SessionManager) Timeout() time.Duration { return m.timeout }

// CreateSession replaces any existing session with a fresh one for userID.
// Failures are returned to the caller.
func (m *SessionManager) CreateSession(ctx context.Context, userID string) (*models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidIdentifier
	}
	deviceID, err := m.device.ID(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: device id: %w", err)
	}

	now := m.opts.clock.Now()
	session := models.Session{
		UserID:       userID,
		DeviceID:     deviceID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.timeout),
	}
	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	err = m.store.Update(ctx, SessionKey, func(string, bool) (string, bool, error) {
		return string(data), true, nil
	})
	if err != nil {
		m.opts.metrics.StoreErrorsTotal.WithLabelValues("session").Inc()
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.opts.metrics.ActiveSession.Set(1)
	m.opts.logger.Info("session created", "expires_at", session.ExpiresAt)
	return &session, nil
}

// IsSessionValid reports whether a live session exists and records
// activity on it. An expired session is cleared. Store failures read as
// invalid.
func (m *SessionManager) IsSessionValid(ctx context.Context) bool {
	now := m.opts.clock.Now()
	var (
		valid   bool
		expired *models.Session
	)
	err := m.store.Update(ctx, SessionKey, func(cur string, ok bool) (string, bool, error) {
		if !ok {
			return "", false, nil
		}
		var s models.Session
		if err := json.Unmarshal([]byte(cur), &s); err != nil {
			return "", false, nil
		}
		if s.Expired(now) {
			expired = &s
			return "", false, nil
		}
		s.LastActivity = now
		data, err := json.Marshal(s)
		if err != nil {
			return "", false, err
		}
		valid = true
		return string(data), true, nil
	})
	if err != nil {
		m.opts.logger.Warn("session check failed", "error", err)
		m.opts.metrics.StoreErrorsTotal.WithLabelValues("session").Inc()
		return false
	}

	if expired != nil {
		m.opts.metrics.ActiveSession.Set(0)
		m.opts.logger.Info("session expired", "expired_at", expired.ExpiresAt)
		if m.onExpire != nil {
			m.onExpire(ctx, *expired)
		}
	}
	return valid
}

// RefreshSession extends a live session to timeout from now. Without a live
// session it does nothing.
func (m *SessionManager) RefreshSession(ctx context.Context) error {
	now := m.opts.clock.Now()
	err := m.store.Update(ctx, SessionKey, func(cur string, ok bool) (string, bool, error) {
		if !ok {
			return "", false, nil
		}
		var s models.Session
		if err := json.Unmarshal([]byte(cur), &s); err != nil || s.Expired(now) {
			return cur, true, nil
		}
		s.LastActivity = now
		s.ExpiresAt = now.Add(m.timeout)
		data, err := json.Marshal(s)
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	})
	if err != nil {
		m.opts.metrics.StoreErrorsTotal.WithLabelValues("session").Inc()
		return fmt.Errorf("refresh session: %w", err)
	}
	return nil
}

// ClearSession discards the session, live or expired.
func (m *SessionManager) ClearSession(ctx context.Context) error {
	if err := m.store.Delete(ctx, SessionKey); err != nil {
		m.opts.metrics.StoreErrorsTotal.WithLabelValues("session").Inc()
		return fmt.Errorf("clear session: %w", err)
	}
	m.opts.metrics.ActiveSession.Set(0)
	return nil
}

// Current returns the live session, or nil when there is none.
func (m *SessionManager) Current(ctx context.Context) (*models.Session, error) {
	cur, ok, err := m.store.Get(ctx, SessionKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var s models.Session
	if err := json.Unmarshal([]byte(cur), &s); err != nil {
		return nil, nil
	}
	if s.Expired(m.opts.clock.Now()) {
		return nil, nil
	}
	return &s, nil
}

// SessionInfo describes the live session, or returns nil when there is
// none or it has expired.
func (m *SessionManager) SessionInfo(ctx context.Context) *models.SessionInfo {
	s, err := m.Current(ctx)
	if err != nil {
		m.opts.logger.Warn("session info unavailable", "error", err)
		return nil
	}
	if s == nil {
		return nil
	}
	remaining := s.ExpiresAt.Sub(m.opts.clock.Now())
	return &models.SessionInfo{
		UserID:          s.UserID,
		DeviceID:        s.DeviceID,
		CreatedAt:       s.CreatedAt,
		LastActivity:    s.LastActivity,
		ExpiresAt:       s.ExpiresAt,
		TimeUntilExpiry: remaining,
		IsExpiringSoon:  remaining < ExpiringSoonThreshold,
	}
}
