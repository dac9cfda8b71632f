package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMutexMutualExclusion(t *testing.T) {
	m := NewKeyMutex()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	const n = 100
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := m.Do(ctx, "ratelimit:user@example.com", func() error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, n, counter)
}

func TestKeyMutexContextCancel(t *testing.T) {
	m := NewKeyMutex()
	unlock, err := m.Lock(context.Background(), "session:current")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = m.Lock(ctx, "session:current")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyMutexReleaseAllowsReacquire(t *testing.T) {
	m := NewKeyMutex()
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "k")
	require.NoError(t, err)
	unlock()

	unlock, err = m.Lock(ctx, "k")
	require.NoError(t, err)
	unlock()
}
