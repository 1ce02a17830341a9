package redisx

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestMarkOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr(), "", 0)
	ctx := context.Background()
	key := DedupKey("inventory", "order:o1:restock")
	assert.Equal(t, "dedup:inventory:order:o1:restock", key)

	first, err := MarkOnce(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := MarkOnce(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, again)

	require.NoError(t, Forget(ctx, rdb, key))
	ok, err := Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _ = MarkOnce(ctx, rdb, key, time.Minute)
	mr.FastForward(2 * time.Minute)
	ok, _ = Exists(ctx, rdb, key)
	assert.False(t, ok)
}

func TestJSONCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr(), "", 0)
	ctx := context.Background()

	var out map[string]string
	hit, err := GetJSON(ctx, rdb, OrderStatusKey("o1"), &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, SetJSON(ctx, rdb, OrderStatusKey("o1"), map[string]string{"status": "shipped"}, TTLStatusCache))
	hit, err = GetJSON(ctx, rdb, OrderStatusKey("o1"), &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "shipped", out["status"])
}
