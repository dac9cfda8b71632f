package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventDefaults(t *testing.T) {
	ev := NewEvent(AuthFailureDetails{Reason: "invalid credentials"}, "user@example.com")
	assert.Equal(t, EventAuthFailure, ev.Type)
	assert.Equal(t, SeverityMedium, ev.Severity)
	assert.NoError(t, ev.Validate())

	ev = NewEvent(LockoutDetails{Reason: "too many failures"}, "user@example.com").WithSeverity(SeverityCritical)
	assert.Equal(t, SeverityCritical, ev.Severity)
}

func TestValidateRejectsMismatchedDetails(t *testing.T) {
	ev := SecurityEvent{Type: EventAuthFailure, Details: DataAccessDetails{Endpoint: "/api/cart"}}
	assert.Error(t, ev.Validate())

	ev = SecurityEvent{Type: "login_failure"}
	assert.Error(t, ev.Validate())

	ev = SecurityEvent{Type: EventDataAccess, Severity: "severe"}
	assert.Error(t, ev.Validate())
}

func TestEventDecodesTypedDetails(t *testing.T) {
	until := time.Date(2026, 10, 19, 12, 15, 0, 0, time.UTC)
	ev := NewEvent(LockoutDetails{Reason: "rate limit", Until: until}, "user@example.com")
	ev.Timestamp = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"lockout"`)

	var decoded SecurityEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	details, ok := decoded.Details.(LockoutDetails)
	require.True(t, ok, "details decode into the variant named by type")
	assert.Equal(t, "rate limit", details.Reason)
	assert.True(t, until.Equal(details.Until))
}

func TestEventWithoutDetails(t *testing.T) {
	data := []byte(`{"type":"auth_attempt","severity":"low","timestamp":"2026-10-19T12:00:00Z"}`)
	var ev SecurityEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Nil(t, ev.Details)
	assert.Equal(t, EventAuthAttempt, ev.Type)
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, SeverityLow.Rank(), SeverityMedium.Rank())
	assert.Less(t, SeverityHigh.Rank(), SeverityCritical.Rank())
	assert.False(t, Severity("urgent").Valid())
}

func TestLockoutRecordRemaining(t *testing.T) {
	now := time.Now()
	r := LockoutRecord{CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute)}
	assert.True(t, r.Active(now))
	assert.Equal(t, 15*time.Minute, r.Remaining(now))
	assert.Equal(t, time.Duration(0), r.Remaining(now.Add(16*time.Minute)))
}
