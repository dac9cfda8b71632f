// Package syncutil holds the keyed lock used to serialize read-modify-write
// sequences against the key-value store.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyMutex is a fixed pool of channel-based mutexes selected by key hash.
// Waiting for a lock honors context cancellation.
//
// Two keys may share a shard, so a caller must never hold more than one key
// at a time.
type KeyMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyMutex creates an unlocked KeyMutex.
func NewKeyMutex() *KeyMutex {
	m := &KeyMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// Lock acquires the mutex for key. On success the returned function releases
// it and must be called exactly once.
func (m *KeyMutex) Lock(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIdx(key)]
	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Do runs fn while holding the lock for key.
func (m *KeyMutex) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := m.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
