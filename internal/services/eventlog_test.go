package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

func newTestEventLog(store *database.Guarded, clock Clock, key string) *EventLog {
	return NewEventLog(store, NewDeviceIdentity(store), key, WithClock(clock))
}

func TestEventLogStampsEvents(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := newTestEventLog(newTestStore(), clock, "")

	ev := log.Log(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "bad password"}, "user@example.com"))
	assert.Equal(t, clock.Now(), ev.Timestamp)
	assert.Equal(t, models.SeverityMedium, ev.Severity)
	assert.Equal(t, log.RunID(), ev.SessionID)
	assert.NotEmpty(t, ev.DeviceID)
	assert.Len(t, ev.Checksum, 64)

	events, err := log.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.AuthFailureDetails{Reason: "bad password"}, events[0].Details)
}

func TestEventLogDropsInvalidEvents(t *testing.T) {
	ctx := context.Background()
	log := newTestEventLog(newTestStore(), newFakeClock(), "")

	log.Log(ctx, models.SecurityEvent{Type: "login_failure"})
	n, err := log.Count(ctx, EventFilter{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventLogCapacity(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := newTestEventLog(newTestStore(), clock, "")
	log.capacity = 5

	for i := 0; i < 8; i++ {
		log.Log(ctx, models.NewEvent(models.DataAccessDetails{Endpoint: "/api/cart"}, "GET:/api/cart"))
		clock.Advance(time.Second)
	}
	events, err := log.Events(ctx)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, newFakeClock().Now().Add(3*time.Second), events[0].Timestamp, "oldest entries are evicted")

	recent, err := log.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Timestamp.After(recent[1].Timestamp))
}

func TestEventLogCounts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := newTestEventLog(newTestStore(), clock, "")

	log.Log(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "a@example.com"))
	clock.Advance(2 * time.Hour)
	log.Log(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "a@example.com"))
	log.Log(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "b@example.com"))
	log.Log(ctx, models.NewEvent(models.SuspiciousActivityDetails{Endpoint: "/x"}, "POST:/x"))
	log.Log(ctx, models.NewEvent(models.DataAccessDetails{Endpoint: "/api/cart"}, "GET:/api/cart").WithUser("u1"))

	n, err := log.FailedLogins(ctx, "a@example.com", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = log.FailedLogins(ctx, "", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = log.SuspiciousActivity(ctx, "POST:/x", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = log.DataAccess(ctx, "u1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = log.Count(ctx, EventFilter{MinSeverity: models.SeverityMedium})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEventLogVerifyDetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	log := newTestEventLog(store, newFakeClock(), "checksum-secret")

	log.Log(ctx, models.NewEvent(models.AuthSuccessDetails{Method: "password"}, "a@example.com"))
	log.Log(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "b@example.com"))

	bad, err := log.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, bad)

	raw, _, err := store.Get(ctx, EventLogKey)
	require.NoError(t, err)
	var events []models.SecurityEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &events))
	events[1].Identifier = "someone-else@example.com"
	data, err := json.Marshal(events)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, EventLogKey, string(data)))

	bad, err = log.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, bad)

	// A log verified with a different key fails everywhere.
	other := newTestEventLog(store, newFakeClock(), "")
	bad, err = other.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, bad)
}

func TestEventLogPrune(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	log := newTestEventLog(newTestStore(), clock, "")

	log.Log(ctx, models.NewEvent(models.AuthSuccessDetails{}, "a@example.com"))
	clock.Advance(31 * 24 * time.Hour)
	log.Log(ctx, models.NewEvent(models.AuthSuccessDetails{}, "a@example.com"))

	removed, err := log.Prune(ctx, EventRetention)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = log.Prune(ctx, EventRetention)
	require.NoError(t, err)
	assert.Zero(t, removed)

	n, _ := log.Count(ctx, EventFilter{})
	assert.Equal(t, 1, n)
}

func TestEventLogNeverFails(t *testing.T) {
	store := newFailingStore()
	log := newTestEventLog(database.NewGuarded(store), newFakeClock(), "")
	store.broken.Store(true)

	ev := log.Log(context.Background(), models.NewEvent(models.AuthFailureDetails{Reason: "x"}, "a@example.com"))
	assert.Equal(t, models.EventAuthFailure, ev.Type)
	assert.Empty(t, ev.DeviceID)
}

func TestEventLogConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	log := newTestEventLog(newTestStore(), newFakeClock(), "")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			log.Log(ctx, models.NewEvent(models.AuthFailureDetails{Reason: "bad password"}, "user@example.com"))
		}()
	}
	wg.Wait()

	events, err := log.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, events, n)

	tampered, err := log.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, tampered)
}
