package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the closed set of security event kinds.
type EventType string

const (
	EventAuthAttempt        EventType = "auth_attempt"
	EventAuthSuccess        EventType = "auth_success"
	EventAuthFailure        EventType = "auth_failure"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventDataAccess         EventType = "data_access"
	EventLockout            EventType = "lockout"
	EventSessionExpired     EventType = "session_expired"
	EventSecurityAlert      EventType = "security_alert"
)

// Severity orders events from routine to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank gives severities a total order; unknown values rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Valid reports whether s is one of the four known severities.
func (s Severity) Valid() bool { return s.Rank() > 0 }

var defaultSeverity = map[EventType]Severity{
	EventAuthAttempt:        SeverityLow,
	EventAuthSuccess:        SeverityLow,
	EventAuthFailure:        SeverityMedium,
	EventSuspiciousActivity: SeverityMedium,
	EventDataAccess:         SeverityLow,
	EventLockout:            SeverityHigh,
	EventSessionExpired:     SeverityLow,
	EventSecurityAlert:      SeverityHigh,
}

// Known reports whether t belongs to the closed set.
func (t EventType) Known() bool {
	_, ok := defaultSeverity[t]
	return ok
}

// DefaultSeverity is the severity assigned when a producer leaves it empty.
func (t EventType) DefaultSeverity() Severity {
	if s, ok := defaultSeverity[t]; ok {
		return s
	}
	return SeverityLow
}

// EventDetails is implemented by exactly one payload struct per EventType.
type EventDetails interface {
	EventType() EventType
}

type AuthAttemptDetails struct {
	Method  string `json:"method,omitempty"`
	Blocked bool   `json:"blocked,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type AuthSuccessDetails struct {
	Method string `json:"method,omitempty"`
}

type AuthFailureDetails struct {
	Reason string `json:"reason"`
}

type SuspiciousActivityDetails struct {
	// Source identifies the device or IP to block when the rule fires.
	Source   string   `json:"source,omitempty"`
	Method   string   `json:"method,omitempty"`
	Endpoint string   `json:"endpoint,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

type DataAccessDetails struct {
	Method   string `json:"method,omitempty"`
	Endpoint string `json:"endpoint"`
}

type LockoutDetails struct {
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

type SessionExpiredDetails struct {
	ExpiredAt time.Time `json:"expired_at"`
}

type SecurityAlertDetails struct {
	AlertID string   `json:"alert_id"`
	Rules   []string `json:"rules"`
	Alerts  []string `json:"alerts"`
}

func (AuthAttemptDetails) EventType() EventType        { return EventAuthAttempt }
func (AuthSuccessDetails) EventType() EventType        { return EventAuthSuccess }
func (AuthFailureDetails) EventType() EventType        { return EventAuthFailure }
func (SuspiciousActivityDetails) EventType() EventType { return EventSuspiciousActivity }
func (DataAccessDetails) EventType() EventType         { return EventDataAccess }
func (LockoutDetails) EventType() EventType            { return EventLockout }
func (SessionExpiredDetails) EventType() EventType     { return EventSessionExpired }
func (SecurityAlertDetails) EventType() EventType      { return EventSecurityAlert }

func newDetails(t EventType) (EventDetails, error) {
	switch t {
	case EventAuthAttempt:
		return &AuthAttemptDetails{}, nil
	case EventAuthSuccess:
		return &AuthSuccessDetails{}, nil
	case EventAuthFailure:
		return &AuthFailureDetails{}, nil
	case EventSuspiciousActivity:
		return &SuspiciousActivityDetails{}, nil
	case EventDataAccess:
		return &DataAccessDetails{}, nil
	case EventLockout:
		return &LockoutDetails{}, nil
	case EventSessionExpired:
		return &SessionExpiredDetails{}, nil
	case EventSecurityAlert:
		return &SecurityAlertDetails{}, nil
	}
	return nil, fmt.Errorf("unknown event type %q", t)
}

// SecurityEvent is one entry in the security log. Details is nil or the
// payload struct matching Type.
type SecurityEvent struct {
	Type       EventType
	Identifier string
	UserID     string
	Details    EventDetails
	Severity   Severity
	Timestamp  time.Time
	DeviceID   string
	SessionID  string
	Checksum   string
}

// NewEvent builds an event whose type is taken from its details and whose
// severity is the type default.
func NewEvent(details EventDetails, identifier string) SecurityEvent {
	t := details.EventType()
	return SecurityEvent{
		Type:       t,
		Identifier: identifier,
		Details:    details,
		Severity:   t.DefaultSeverity(),
	}
}

// WithSeverity returns a copy of e with severity s.
func (e SecurityEvent) WithSeverity(s Severity) SecurityEvent {
	e.Severity = s
	return e
}

// WithUser returns a copy of e attributed to userID.
func (e SecurityEvent) WithUser(userID string) SecurityEvent {
	e.UserID = userID
	return e
}

// Validate rejects events outside the closed type set or whose payload does
// not match the type.
func (e SecurityEvent) Validate() error {
	if !e.Type.Known() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Severity != "" && !e.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.Details != nil && e.Details.EventType() != e.Type {
		return fmt.Errorf("%s event carries %s details", e.Type, e.Details.EventType())
	}
	return nil
}

type eventWire struct {
	Type       EventType       `json:"type"`
	Identifier string          `json:"identifier,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	Severity   Severity        `json:"severity"`
	Timestamp  time.Time       `json:"timestamp"`
	DeviceID   string          `json:"device_id,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
	Checksum   string          `json:"checksum,omitempty"`
}

func (e SecurityEvent) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Type:       e.Type,
		Identifier: e.Identifier,
		UserID:     e.UserID,
		Severity:   e.Severity,
		Timestamp:  e.Timestamp,
		DeviceID:   e.DeviceID,
		SessionID:  e.SessionID,
		Checksum:   e.Checksum,
	}
	if e.Details != nil {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return nil, err
		}
		w.Details = raw
	}
	return json.Marshal(w)
}

func (e *SecurityEvent) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = SecurityEvent{
		Type:       w.Type,
		Identifier: w.Identifier,
		UserID:     w.UserID,
		Severity:   w.Severity,
		Timestamp:  w.Timestamp,
		DeviceID:   w.DeviceID,
		SessionID:  w.SessionID,
		Checksum:   w.Checksum,
	}
	if len(w.Details) == 0 || string(w.Details) == "null" {
		return nil
	}
	details, err := newDetails(w.Type)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(w.Details, details); err != nil {
		return fmt.Errorf("decode %s details: %w", w.Type, err)
	}
	e.Details = deref(details)
	return nil
}

// deref stores payloads by value so decoded events compare equal to the
// ones that were logged.
func deref(d EventDetails) EventDetails {
	switch v := d.(type) {
	case *AuthAttemptDetails:
		return *v
	case *AuthSuccessDetails:
		return *v
	case *AuthFailureDetails:
		return *v
	case *SuspiciousActivityDetails:
		return *v
	case *DataAccessDetails:
		return *v
	case *LockoutDetails:
		return *v
	case *SessionExpiredDetails:
		return *v
	case *SecurityAlertDetails:
		return *v
	}
	return d
}
