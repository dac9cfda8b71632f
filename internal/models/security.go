package models

import "time"

// Session is the single active user session on the device.
type Session struct {
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session has passed its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionInfo is the read-only view handed to callers.
type SessionInfo struct {
	UserID          string        `json:"user_id"`
	DeviceID        string        `json:"device_id"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActivity    time.Time     `json:"last_activity"`
	ExpiresAt       time.Time     `json:"expires_at"`
	TimeUntilExpiry time.Duration `json:"time_until_expiry"`
	IsExpiringSoon  bool          `json:"is_expiring_soon"`
}

// LockoutRecord marks an identifier as locked until ExpiresAt.
type LockoutRecord struct {
	Identifier string    `json:"identifier"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Active reports whether the lockout still applies at now.
func (r *LockoutRecord) Active(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Remaining is the time left on the lockout, zero once expired.
func (r *LockoutRecord) Remaining(now time.Time) time.Duration {
	if !r.Active(now) {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// BlockedIP is a time-bounded block on a device or IP identifier.
type BlockedIP struct {
	Identifier string    `json:"identifier"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SecurityAlert records every rule one event tripped. Alerts holds one
// message per rule, in the same order as Rules.
type SecurityAlert struct {
	ID              string        `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	Alerts          []string      `json:"alerts"`
	Rules           []string      `json:"rules"`
	TriggeringEvent SecurityEvent `json:"triggering_event"`
	Severity        Severity      `json:"severity"`
}

// HasRule reports whether rule contributed to the alert.
func (a SecurityAlert) HasRule(rule string) bool {
	for _, r := range a.Rules {
		if r == rule {
			return true
		}
	}
	return false
}

// SecurityDashboard summarizes recent security state.
type SecurityDashboard struct {
	TotalEvents          int             `json:"total_events"`
	CriticalEvents       int             `json:"critical_events"`
	RecentAlerts         []SecurityAlert `json:"recent_alerts"`
	FailedLogins         int             `json:"failed_logins"`
	SuspiciousActivities int             `json:"suspicious_activities"`
	ActiveLockouts       int             `json:"active_lockouts"`
	ActiveBlocks         int             `json:"active_blocks"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// SecurityCheck is the result of a device-level posture check.
type SecurityCheck struct {
	IsValid bool     `json:"is_valid"`
	Issues  []string `json:"issues"`
}
