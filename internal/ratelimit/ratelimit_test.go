package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbcp-io/tbcp/types"
)

func newTestLimiter(t *testing.T, limit int64) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewLimiter(client, limit, nil), mr
}

func TestLimiter_Allow_WithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(context.Background(), "token-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestLimiter_Allow_ExceedsLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 2)

	allowed, err := l.Allow(context.Background(), "token-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow(context.Background(), "token-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow(context.Background(), "token-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLimiter_Allow_KeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1)

	allowed, err := l.Allow(context.Background(), "token-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow(context.Background(), "token-b")
	require.NoError(t, err)
	assert.True(t, allowed, "a different key must have its own independent counter")
}

func TestLimiter_Allow_ResetsAfterWindow(t *testing.T) {
	l, mr := newTestLimiter(t, 1)

	allowed, err := l.Allow(context.Background(), "token-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Allow(context.Background(), "token-1")
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(window)

	allowed, err = l.Allow(context.Background(), "token-1")
	require.NoError(t, err)
	assert.True(t, allowed, "counter must reset once the window has elapsed")
}

func TestLimiter_DefaultLimitAppliesWhenNonPositive(t *testing.T) {
	l, _ := newTestLimiter(t, 0)
	assert.Equal(t, int64(DefaultLimit), l.limit)
}

func TestLimiter_CheckAndRefuse_ReturnsRateLimitedError(t *testing.T) {
	l, _ := newTestLimiter(t, 1)

	require.NoError(t, l.CheckAndRefuse(context.Background(), "token-1"))

	err := l.CheckAndRefuse(context.Background(), "token-1")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.KindRateLimited))
}
