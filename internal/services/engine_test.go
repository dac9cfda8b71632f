package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/database"
)

func TestNewEngineRequiresProvider(t *testing.T) {
	_, err := NewEngine(testConfig(), database.NewMemoryStore(), nil)
	assert.ErrorIs(t, err, config.ErrConfigMissing)

	cfg := testConfig()
	cfg.CipherMode = config.CipherAESGCM
	_, err = NewEngine(cfg, database.NewMemoryStore(), newFakeProvider())
	assert.ErrorIs(t, err, ErrCipherFailure)
}

func TestEngineCleanup(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, nil)
	e.provider.add("user@example.com", "Sturdy9Pass")

	_, err := e.Auth.SignIn(ctx, "user@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = e.Lockouts.SetLockout(ctx, "user@example.com", "x")
	require.NoError(t, err)

	e.clock.Advance(2 * time.Hour)
	require.NoError(t, e.Cleanup(ctx))

	keys, err := e.Store.KeysWithPrefix(ctx, RateLimitKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
	keys, err = e.Store.KeysWithPrefix(ctx, LockoutKeyPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "Too many requests. Please try again in 1 minutes.", UserMessage(&RateLimitedError{Remaining: 10 * time.Second}))
	assert.Equal(t, "Too many failed attempts. Please try again in 3 minutes.", UserMessage(&LockedOutError{Remaining: 2*time.Minute + time.Second}))
	assert.Equal(t, "Invalid email or password.", UserMessage(ErrInvalidCredentials))
	assert.Equal(t, "Something went wrong. Please try again.", UserMessage(ErrStoreUnavailable))
}
