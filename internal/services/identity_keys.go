package services

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AnshRaj112/techphono-security/internal/database"
)

const (
	CipherKeyName = "cipher:key"
	DeviceIDKey   = "device:id"
)

// persistedID is a value created once, persisted before first use and then
// cached for the life of the process. Concurrent first calls collapse into
// one creation.
type persistedID struct {
	store *database.Guarded
	key   string
	group singleflight.Group

	mu    sync.RWMutex
	value string
}

func (p *persistedID) get(ctx context.Context) (string, error) {
	p.mu.RLock()
	v := p.value
	p.mu.RUnlock()
	if v != "" {
		return v, nil
	}

	res, err, _ := p.group.Do(p.key, func() (any, error) {
		var out string
		err := p.store.WithLock(ctx, p.key, func() error {
			cur, ok, err := p.store.Get(ctx, p.key)
			if err != nil {
				return err
			}
			if ok && cur != "" {
				out = cur
				return nil
			}
			out = uuid.NewString()
			return p.store.Set(ctx, p.key, out)
		})
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.value = out
		p.mu.Unlock()
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// KeyProvider owns the persisted XOR key.
type KeyProvider struct {
	id persistedID
}

func NewKeyProvider(store *database.Guarded) *KeyProvider {
	return &KeyProvider{id: persistedID{store: store, key: CipherKeyName}}
}

// GetOrCreate returns the persisted key, generating and storing it on first
// use. Every caller observes the same key.
func (p *KeyProvider) GetOrCreate(ctx context.Context) (string, error) {
	return p.id.get(ctx)
}

// DeviceIdentity owns the persisted per-install device id.
type DeviceIdentity struct {
	id persistedID
}

func NewDeviceIdentity(store *database.Guarded) *DeviceIdentity {
	return &DeviceIdentity{id: persistedID{store: store, key: DeviceIDKey}}
}

// ID returns the device id, creating it on first use.
func (d *DeviceIdentity) ID(ctx context.Context) (string, error) {
	return d.id.get(ctx)
}
