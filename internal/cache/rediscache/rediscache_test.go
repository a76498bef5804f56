package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDel(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Set(ctx, "load:L1:view", []byte(`{"id":"L1"}`), time.Minute))

	b, ok, err := c.Get(ctx, "load:L1:view")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte(`{"id":"L1"}`), b)

	require.NoError(t, c.Del(ctx, "load:L1:view", "load:L2:view"))
	_, ok, err = c.Get(ctx, "load:L1:view")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Del(ctx))
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisCache_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiterWithClient(New(mr.Addr()).Client())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:notify:SMS:+15550001:202603020900", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:notify:SMS:+15550001:202603020900", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:notify:SMS:+15550001:202603020900", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	// окно истекло
	mr.FastForward(2 * time.Minute)
	ok, n, _ = rl.Allow(ctx, "rl:notify:SMS:+15550001:202603020900", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}
