package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/otcseller/pkg/config"
)

func disabledClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(&config.Config{Redis: config.RedisConfig{Enabled: false}})
	require.NoError(t, err)
	return client
}

func TestNewClient_Disabled(t *testing.T) {
	client := disabledClient(t)
	assert.False(t, client.Enabled())
	assert.NoError(t, client.Close())
}

func TestRateLimiter_Disabled(t *testing.T) {
	limiter := NewRateLimiter(disabledClient(t), "test")

	allowed, remaining, err := limiter.Allow(context.Background(), QuoteAPIRateLimit)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, QuoteAPIRateLimit.Limit, remaining)
	assert.NoError(t, limiter.Wait(context.Background(), QuoteAPIRateLimit))
}

func TestCache_Disabled(t *testing.T) {
	cache := NewCache(disabledClient(t), "test")

	var result string
	found, err := cache.Get(context.Background(), "key", &result)
	require.NoError(t, err)
	assert.False(t, found)

	calls := 0
	var n int
	err = cache.GetOrSet(context.Background(), "key", &n, time.Minute, func() (interface{}, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 42, n)
	assert.NoError(t, cache.Delete(context.Background(), "key"))
}

func TestLocker_Disabled(t *testing.T) {
	locker := NewLocker(disabledClient(t), "test", time.Second)

	release, err := locker.TryLock(context.Background(), "order")
	require.NoError(t, err)
	release()
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "quote:uniswap:0xabc:0xdef:1000", QuoteKey("uniswap", "0xABC", "0xDef", "1000"))
}
