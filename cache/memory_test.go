package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryHitWithinTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemoryWithClock(func() time.Time { return now })

	require.NoError(t, m.Put(context.Background(), "history:alice", []byte(`[]`), 15*time.Second))
	value, ok, err := m.Get(context.Background(), "history:alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`[]`), value)
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	m := NewMemoryWithClock(clock)

	require.NoError(t, m.Put(context.Background(), "stats:bob", []byte(`{}`), 30*time.Second))

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()

	_, ok, err := m.Get(context.Background(), "stats:bob")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryZeroTTLStoresNothing(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(context.Background(), "k", []byte("v"), 0))
	_, ok, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(context.Background(), "k", []byte("v"), time.Minute))
	require.NoError(t, m.Delete(context.Background(), "k"))
	_, ok, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryValueIsCopied(t *testing.T) {
	m := NewMemory()
	payload := []byte("original")
	require.NoError(t, m.Put(context.Background(), "k", payload, time.Minute))
	payload[0] = 'X'

	value, ok, err := m.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("original"), value)
}
