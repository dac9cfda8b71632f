package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/AnshRaj112/techphono-security/internal/syncutil"
)

// ErrStoreUnavailable wraps every backend failure. Callers on fail-open
// paths test for it with errors.Is.
var ErrStoreUnavailable = errors.New("store unavailable")

// KeyValueStore is the asynchronous string store the engine persists into.
// A missing key is reported as ok == false, never as an error.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	GetAllKeys(ctx context.Context) ([]string, error)
	MultiRemove(ctx context.Context, keys []string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Namespaced restricts a store to keys carrying a prefix. Keys passed in and
// returned are relative to the prefix.
type Namespaced struct {
	inner  KeyValueStore
	prefix string
}

// Namespace wraps store so every key is stored under prefix.
func Namespace(store KeyValueStore, prefix string) *Namespaced {
	return &Namespaced{inner: store, prefix: prefix}
}

func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *Namespaced) Set(ctx context.Context, key, value string) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *Namespaced) Remove(ctx context.Context, key string) error {
	return n.inner.Remove(ctx, n.prefix+key)
}

func (n *Namespaced) GetAllKeys(ctx context.Context) ([]string, error) {
	keys, err := n.inner.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, n.prefix) {
			out = append(out, strings.TrimPrefix(k, n.prefix))
		}
	}
	return out, nil
}

func (n *Namespaced) MultiRemove(ctx context.Context, keys []string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = n.prefix + k
	}
	return n.inner.MultiRemove(ctx, full)
}

// Guarded is a store whose read-modify-write sequences are serialized per
// key by an in-process mutex. All engine components sharing one backing
// store must share one Guarded.
type Guarded struct {
	KeyValueStore
	locks *syncutil.KeyMutex
}

// NewGuarded wraps store with a fresh keyed mutex.
func NewGuarded(store KeyValueStore) *Guarded {
	return &Guarded{KeyValueStore: store, locks: syncutil.NewKeyMutex()}
}

// UpdateFunc receives the current value of a key (ok == false when absent)
// and returns the value to write. Returning keep == false removes the key.
type UpdateFunc func(current string, ok bool) (next string, keep bool, err error)

// Update performs a locked read-modify-write of key. When fn returns an
// error nothing is written and the error is returned unchanged.
func (g *Guarded) Update(ctx context.Context, key string, fn UpdateFunc) error {
	return g.locks.Do(ctx, key, func() error {
		current, ok, err := g.Get(ctx, key)
		if err != nil {
			return err
		}
		next, keep, err := fn(current, ok)
		if err != nil {
			return err
		}
		if !keep {
			if !ok {
				return nil
			}
			return g.Remove(ctx, key)
		}
		if ok && next == current {
			return nil
		}
		return g.Set(ctx, key, next)
	})
}

// Delete removes key while holding its lock, so it cannot interleave with
// an Update of the same key.
func (g *Guarded) Delete(ctx context.Context, key string) error {
	return g.locks.Do(ctx, key, func() error {
		return g.Remove(ctx, key)
	})
}

// WithLock runs fn while holding the lock for key. fn must not lock any
// other key.
func (g *Guarded) WithLock(ctx context.Context, key string, fn func() error) error {
	return g.locks.Do(ctx, key, fn)
}

// KeysWithPrefix lists keys starting with prefix, prefix included.
func (g *Guarded) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := g.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}
