package idempotency

import (
	"context"
	"fmt"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestMemoryIsBoundedBySize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(3, time.Hour)
	for i := 0; i < 10; i++ {
		require.NoError(t, m.Save(ctx, fmt.Sprintf("k%d", i), []byte("v")))
	}
	assert.Equal(t, 3, m.Len())

	_, ok, err := m.Get(ctx, "k0")
	require.NoError(t, err)
	assert.False(t, ok)
	v, ok, _ := m.Get(ctx, "k9")
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
}

func TestMemoryExpires(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, 20*time.Millisecond)
	require.NoError(t, m.Save(ctx, "k", []byte("v")))
	_, ok, _ := m.Get(ctx, "k")
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok, _ := m.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryLastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10, time.Hour)
	buf := []byte("first")
	require.NoError(t, m.Save(ctx, "k", buf))
	buf[0] = 'X'
	require.NoError(t, m.Save(ctx, "k", []byte("second")))
	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "second", string(v))
}

func TestRedisScopedWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	checkout := NewRedis(rdb, "checkout", time.Hour)
	other := NewRedis(rdb, "refund", time.Hour)

	_, ok, err := checkout.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, checkout.Save(ctx, "abc", []byte(`{"order_id":"o1"}`)))
	v, ok, err := checkout.Get(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"order_id":"o1"}`, string(v))
	assert.True(t, mr.Exists("idem:checkout:abc"))

	_, ok, _ = other.Get(ctx, "abc")
	assert.False(t, ok)

	mr.FastForward(2 * time.Hour)
	_, ok, _ = checkout.Get(ctx, "abc")
	assert.False(t, ok)
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewRedis(rdb, "checkout", time.Hour)
	mr.Close()

	_, _, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
}
