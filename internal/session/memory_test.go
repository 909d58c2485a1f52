package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	require.NoError(t, store.Create(ctx, "abc12345"))
	assert.ErrorIs(t, store.Create(ctx, "abc12345"), ErrCodeExists)

	s, ok, err := store.Get(ctx, "abc12345")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusPending, s.Status)
	assert.Nil(t, s.User)
	assert.True(t, s.ExpiresAt.IsZero())

	resolved, err := store.Resolve(ctx, "abc12345", User{ID: 42, FirstName: "Ann", Username: "ann"})
	require.NoError(t, err)
	assert.True(t, resolved)

	s, ok, err = store.Consume(ctx, "abc12345")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.Resolved())
	assert.Equal(t, int64(42), s.User.ID)

	_, ok, err = store.Get(ctx, "abc12345")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Consume(ctx, "abc12345")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreResolveUnknownCodeIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Create(ctx, "known000"))

	resolved, err := store.Resolve(ctx, "unknown0", User{ID: 1})
	require.NoError(t, err)
	assert.False(t, resolved)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, ok, err := store.Get(ctx, "known000")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusPending, s.Status)
}

func TestMemoryStoreResolveLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Create(ctx, "code0001"))

	_, err := store.Resolve(ctx, "code0001", User{ID: 1, FirstName: "First"})
	require.NoError(t, err)
	_, err = store.Resolve(ctx, "code0001", User{ID: 2, FirstName: "Second"})
	require.NoError(t, err)

	s, ok, err := store.Get(ctx, "code0001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), s.User.ID)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Create(ctx, "code0002"))
	_, err := store.Resolve(ctx, "code0002", User{ID: 7, FirstName: "Orig"})
	require.NoError(t, err)

	s, _, err := store.Get(ctx, "code0002")
	require.NoError(t, err)
	s.User.FirstName = "Mutated"

	again, _, err := store.Get(ctx, "code0002")
	require.NoError(t, err)
	assert.Equal(t, "Orig", again.User.FirstName)
}

func TestMemoryStoreExpiresOnRead(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(time.Minute, WithClock(clock.Now))

	require.NoError(t, store.Create(ctx, "code0003"))
	s, ok, err := store.Get(ctx, "code0003")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(time.Minute), s.ExpiresAt)

	clock.Advance(time.Minute)

	_, ok, err = store.Get(ctx, "code0003")
	require.NoError(t, err)
	assert.False(t, ok)

	resolved, err := store.Resolve(ctx, "code0003", User{ID: 1})
	require.NoError(t, err)
	assert.False(t, resolved)

	// An expired code may be issued again.
	require.NoError(t, store.Create(ctx, "code0003"))
}

func TestMemoryStoreSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(time.Minute, WithClock(clock.Now))

	require.NoError(t, store.Create(ctx, "old00001"))
	require.NoError(t, store.Create(ctx, "old00002"))
	clock.Advance(30 * time.Second)
	require.NoError(t, store.Create(ctx, "new00001"))
	clock.Advance(45 * time.Second)

	assert.Equal(t, 2, store.Sweep())
	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreRunStopsOnCancel(t *testing.T) {
	store := NewMemoryStore(time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, store.Create(ctx, "code0004"))

	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, _ := store.Len(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop after cancel")
	}
}

func TestMemoryStoreConcurrentConsumeSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Create(ctx, "race0001"))
	_, err := store.Resolve(ctx, "race0001", User{ID: 9})
	require.NoError(t, err)

	const workers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := store.Consume(ctx, "race0001"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestMemoryStoreIndependentKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Create(ctx, fmt.Sprintf("key%05d", i)))
	}
	_, err := store.Resolve(ctx, "key00003", User{ID: 3})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		s, ok, err := store.Get(ctx, fmt.Sprintf("key%05d", i))
		require.NoError(t, err)
		require.True(t, ok)
		if i == 3 {
			assert.Equal(t, StatusResolved, s.Status)
			continue
		}
		assert.Equal(t, StatusPending, s.Status)
	}
}
