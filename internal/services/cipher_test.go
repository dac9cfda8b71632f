package services

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/database"
)

func TestXORCipherRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewXORCipher(NewKeyProvider(newTestStore()))

	for _, plain := range []string{"", "hello", "pässwörd ✓", strings.Repeat("x", 500)} {
		enc, err := c.Encrypt(ctx, plain)
		require.NoError(t, err)
		if plain != "" {
			assert.NotEqual(t, plain, enc)
		}
		dec, err := c.Decrypt(ctx, enc)
		require.NoError(t, err)
		assert.Equal(t, plain, dec)
	}
}

func TestXORCipherDifferentKeyGivesGarbage(t *testing.T) {
	ctx := context.Background()
	a := NewXORCipher(NewKeyProvider(newTestStore()))
	b := NewXORCipher(NewKeyProvider(newTestStore()))

	enc, err := a.Encrypt(ctx, "card ending 4242")
	require.NoError(t, err)
	dec, err := b.Decrypt(ctx, enc)
	require.NoError(t, err, "a wrong key is not detected")
	assert.NotEqual(t, "card ending 4242", dec)

	_, err = b.Decrypt(ctx, "%%% not base64")
	assert.ErrorIs(t, err, ErrCipherFailure)
}

func TestKeyProviderCreatesOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	keys := NewKeyProvider(store)

	var wg sync.WaitGroup
	results := make([]string, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k, err := keys.GetOrCreate(ctx)
			assert.NoError(t, err)
			results[i] = k
		}(i)
	}
	wg.Wait()
	for _, k := range results {
		assert.Equal(t, results[0], k)
	}

	stored, ok, err := store.Get(ctx, CipherKeyName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, results[0], stored)

	again, err := NewKeyProvider(store).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, stored, again, "a new provider reads the persisted key")
}

func TestXORCipherKeyStoreFailure(t *testing.T) {
	store := newFailingStore()
	store.broken.Store(true)
	c := NewXORCipher(NewKeyProvider(database.NewGuarded(store)))

	_, err := c.Encrypt(context.Background(), "secret")
	assert.ErrorIs(t, err, ErrCipherFailure)
}

func TestAESGCMCipher(t *testing.T) {
	ctx := context.Background()
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	c, err := NewAESGCMCipher(key)
	require.NoError(t, err)

	enc, err := c.Encrypt(ctx, "secret")
	require.NoError(t, err)
	dec, err := c.Decrypt(ctx, enc)
	require.NoError(t, err)
	assert.Equal(t, "secret", dec)

	other, err := NewAESGCMCipher(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("z", 32))))
	require.NoError(t, err)
	_, err = other.Decrypt(ctx, enc)
	assert.ErrorIs(t, err, ErrCipherFailure, "authenticated encryption detects a wrong key")

	_, err = NewAESGCMCipher("short")
	assert.ErrorIs(t, err, ErrCipherFailure)
}

func TestNewCipherModes(t *testing.T) {
	c, err := NewCipher(config.CipherXOR, "", newTestStore())
	require.NoError(t, err)
	assert.IsType(t, &XORCipher{}, c)

	_, err = NewCipher(config.CipherAESGCM, "", newTestStore())
	assert.Error(t, err)

	_, err = NewCipher("rot13", "", newTestStore())
	assert.Error(t, err)
}

func TestSecureStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	secure := NewSecureStore(store, NewXORCipher(NewKeyProvider(store)))

	type profile struct {
		Email string `json:"email"`
		Phone string `json:"phone"`
	}
	require.NoError(t, secure.Set(ctx, "profile", profile{Email: "a@example.com", Phone: "5551234567"}))
	require.NoError(t, secure.Set(ctx, "token", "opaque"))

	raw, ok, err := store.Get(ctx, SecureKeyPrefix+"profile")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, raw, "a@example.com")

	var got profile
	found, err := secure.Get(ctx, "profile", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a@example.com", got.Email)

	var missing string
	found, err = secure.Get(ctx, "absent", &missing)
	require.NoError(t, err)
	assert.False(t, found)

	n, err := secure.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	found, _ = secure.Get(ctx, "token", &missing)
	assert.False(t, found)

	_, ok, _ = store.Get(ctx, CipherKeyName)
	assert.True(t, ok, "clearing secure values keeps the key")
}

func TestSecureStoreUnreadableValue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	require.NoError(t, NewSecureStore(store, NewXORCipher(NewKeyProvider(store))).Set(ctx, "token", map[string]string{"a": "b"}))

	// A different key decrypts to bytes that are not JSON.
	other := NewSecureStore(store, NewXORCipher(NewKeyProvider(newTestStore())))
	var out map[string]string
	_, err := other.Get(ctx, "token", &out)
	assert.ErrorIs(t, err, ErrCipherFailure)
}
