package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/techphono-security/internal/database"
	"github.com/AnshRaj112/techphono-security/internal/models"
)

func newTestSessions(store *database.Guarded, clock Clock, timeout time.Duration) *SessionManager {
	return NewSessionManager(store, NewDeviceIdentity(store), timeout, WithClock(clock))
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sessions := newTestSessions(newTestStore(), clock, time.Hour)

	assert.False(t, sessions.IsSessionValid(ctx))
	assert.Nil(t, sessions.SessionInfo(ctx))

	s, err := sessions.CreateSession(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", s.UserID)
	assert.NotEmpty(t, s.DeviceID)
	assert.Equal(t, clock.Now().Add(time.Hour), s.ExpiresAt)

	info := sessions.SessionInfo(ctx)
	require.NotNil(t, info)
	assert.Equal(t, time.Hour, info.TimeUntilExpiry)
	assert.False(t, info.IsExpiringSoon)

	clock.Advance(56 * time.Minute)
	info = sessions.SessionInfo(ctx)
	require.NotNil(t, info)
	assert.True(t, info.IsExpiringSoon)

	require.NoError(t, sessions.RefreshSession(ctx))
	info = sessions.SessionInfo(ctx)
	require.NotNil(t, info)
	assert.Equal(t, time.Hour, info.TimeUntilExpiry)

	require.NoError(t, sessions.ClearSession(ctx))
	assert.False(t, sessions.IsSessionValid(ctx))
}

func TestSessionExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sessions := newTestSessions(newTestStore(), clock, 30*time.Minute)

	var expired []models.Session
	sessions.OnExpire(func(_ context.Context, s models.Session) { expired = append(expired, s) })

	_, err := sessions.CreateSession(ctx, "user-1")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	info := sessions.SessionInfo(ctx)
	require.NotNil(t, info, "a session is still live at its expiry instant")
	assert.Zero(t, info.TimeUntilExpiry)

	clock.Advance(time.Nanosecond)
	assert.Nil(t, sessions.SessionInfo(ctx))

	require.NoError(t, sessions.RefreshSession(ctx))
	assert.Nil(t, sessions.SessionInfo(ctx), "refreshing an expired session does not revive it")

	assert.False(t, sessions.IsSessionValid(ctx))
	require.Len(t, expired, 1)
	assert.Equal(t, "user-1", expired[0].UserID)

	assert.False(t, sessions.IsSessionValid(ctx))
	assert.Len(t, expired, 1, "the hook runs once per expired session")
}

func TestSessionValidityTracksActivity(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sessions := newTestSessions(newTestStore(), clock, time.Hour)

	_, err := sessions.CreateSession(ctx, "user-1")
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	require.True(t, sessions.IsSessionValid(ctx))

	s, err := sessions.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), s.LastActivity)
}

func TestSessionStoreFailures(t *testing.T) {
	ctx := context.Background()
	store := newFailingStore()
	guarded := database.NewGuarded(store)
	sessions := newTestSessions(guarded, newFakeClock(), time.Hour)

	_, err := sessions.CreateSession(ctx, "user-1")
	require.NoError(t, err)

	store.broken.Store(true)
	assert.False(t, sessions.IsSessionValid(ctx), "an unreadable session is not valid")

	_, err = sessions.CreateSession(ctx, "user-2")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = sessions.CreateSession(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestClearSessionWaitsForInFlightActivityWrite(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newPausingStore(SessionKey)
	sessions := newTestSessions(database.NewGuarded(store), clock, time.Hour)

	_, err := sessions.CreateSession(ctx, "user-1")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	store.armed.Store(true)

	validDone := make(chan bool)
	go func() { validDone <- sessions.IsSessionValid(ctx) }()
	<-store.entered

	clearDone := make(chan error)
	go func() { clearDone <- sessions.ClearSession(ctx) }()

	select {
	case err := <-clearDone:
		t.Fatalf("ClearSession returned (%v) while the activity write held the key", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	assert.True(t, <-validDone)
	require.NoError(t, <-clearDone)

	s, err := sessions.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, s, "sign-out must not be undone by a concurrent activity write")
	assert.False(t, sessions.IsSessionValid(ctx))
}
