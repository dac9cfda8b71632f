package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/AnshRaj112/techphono-security/internal/config"
	"github.com/AnshRaj112/techphono-security/internal/database"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore wraps a store and fails every call while broken is set.
type failingStore struct {
	database.KeyValueStore
	broken atomic.Bool
}

func newFailingStore() *failingStore {
	return &failingStore{KeyValueStore: database.NewMemoryStore()}
}

func (s *failingStore) err(op string) error {
	return fmt.Errorf("%w: %s: disk full", database.ErrStoreUnavailable, op)
}

func (s *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.broken.Load() {
		return "", false, s.err("get")
	}
	return s.KeyValueStore.Get(ctx, key)
}

func (s *failingStore) Set(ctx context.Context, key, value string) error {
	if s.broken.Load() {
		return s.err("set")
	}
	return s.KeyValueStore.Set(ctx, key, value)
}

func (s *failingStore) Remove(ctx context.Context, key string) error {
	if s.broken.Load() {
		return s.err("remove")
	}
	return s.KeyValueStore.Remove(ctx, key)
}

func (s *failingStore) GetAllKeys(ctx context.Context) ([]string, error) {
	if s.broken.Load() {
		return nil, s.err("keys")
	}
	return s.KeyValueStore.GetAllKeys(ctx)
}

func (s *failingStore) MultiRemove(ctx context.Context, keys []string) error {
	if s.broken.Load() {
		return s.err("multi remove")
	}
	return s.KeyValueStore.MultiRemove(ctx, keys)
}

func newTestStore() *database.Guarded {
	return database.NewGuarded(database.NewMemoryStore())
}

type fakeAccount struct {
	identity Identity
	password string
}

// fakeProvider is an in-memory IdentityProvider.
type fakeProvider struct {
	mu       sync.Mutex
	accounts map[string]fakeAccount
	err      error
	signIns  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{accounts: make(map[string]fakeAccount)}
}

func (p *fakeProvider) add(email, password string) Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	ident := Identity{ID: uuid.NewString(), Email: email}
	p.accounts[email] = fakeAccount{identity: ident, password: password}
	return ident
}

func (p *fakeProvider) SignIn(_ context.Context, email, password string) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signIns++
	if p.err != nil {
		return nil, p.err
	}
	acct, ok := p.accounts[email]
	if !ok || acct.password != password {
		return nil, ErrInvalidCredentials
	}
	ident := acct.identity
	return &ident, nil
}

func (p *fakeProvider) SignOut(context.Context, string) error { return nil }

func (p *fakeProvider) Lookup(_ context.Context, userID string) (*Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, acct := range p.accounts {
		if acct.identity.ID == userID {
			ident := acct.identity
			return &ident, nil
		}
	}
	return nil, nil
}

func (p *fakeProvider) Register(_ context.Context, email, password string) (*Identity, error) {
	p.mu.Lock()
	_, exists := p.accounts[email]
	p.mu.Unlock()
	if exists {
		return nil, ErrAccountExists
	}
	ident := p.add(email, password)
	return &ident, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SessionTimeout:   time.Hour,
		MaxLoginAttempts: 5,
		LockoutDuration:  15 * time.Minute,
		StoreBackend:     config.StoreMemory,
		CipherMode:       config.CipherXOR,
	}
}

type testEngine struct {
	*Engine
	clock    *fakeClock
	provider *fakeProvider
}

func newTestEngine(t *testing.T, store database.KeyValueStore) *testEngine {
	t.Helper()
	if store == nil {
		store = database.NewMemoryStore()
	}
	clock := newFakeClock()
	provider := newFakeProvider()
	e, err := NewEngine(testConfig(), store, provider, WithClock(clock))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &testEngine{Engine: e, clock: clock, provider: provider}
}

// pausingStore parks the next Set of key until release is closed.
type pausingStore struct {
	database.KeyValueStore
	key     string
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newPausingStore(key string) *pausingStore {
	return &pausingStore{
		KeyValueStore: database.NewMemoryStore(),
		key:           key,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *pausingStore) Set(ctx context.Context, key, value string) error {
	if key == s.key && s.armed.CompareAndSwap(true, false) {
		close(s.entered)
		<-s.release
	}
	return s.KeyValueStore.Set(ctx, key, value)
}
