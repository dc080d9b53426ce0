package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/mordomozap/internal/config"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPairingGuardDisabledIsNoop(t *testing.T) {
	guard, err := NewPairingGuard(GuardParams{Cfg: config.Config{}, Log: zap.NewNop()})
	require.NoError(t, err)

	release, err := guard.Acquire(context.Background(), "T1")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()

	require.False(t, guard.(*PairingGuard).Enabled())
}

func TestPairingGuardRejectsBadLimits(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, PairingRate: 0, PairingBurst: 1, PairingLockTTL: time.Second}}
	_, err := NewPairingGuard(GuardParams{Cfg: cfg, Client: client})
	require.Error(t, err)

	cfg.RateLimit.PairingRate = 1
	cfg.RateLimit.PairingLockTTL = 0
	_, err = NewPairingGuard(GuardParams{Cfg: cfg, Client: client})
	require.Error(t, err)
}

func TestPairingGuardFailsOpenWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, PairingRate: 1, PairingBurst: 1, PairingLockTTL: time.Second}}
	guard, err := NewPairingGuard(GuardParams{Cfg: cfg, Client: client, Log: zap.NewNop()})
	require.NoError(t, err)

	release, err := guard.Acquire(context.Background(), "T1")
	require.NoError(t, err)
	release()
}

func TestRetryAfter(t *testing.T) {
	require.Equal(t, time.Duration(0), retryAfter(true, 0, 1))
	require.Equal(t, 5*time.Second, retryAfter(false, 0, 0.2))
	require.Equal(t, time.Duration(0), retryAfter(false, 2, 1))
}

func TestDefaultBucketTTL(t *testing.T) {
	require.Equal(t, 30*time.Second, defaultBucketTTL(0.2, 3))
	require.Equal(t, time.Second, defaultBucketTTL(0, 3))
}

func TestLockerRejectsInvalidInput(t *testing.T) {
	var nilLocker *Locker
	_, held, err := nilLocker.Hold(context.Background(), "k", time.Second)
	require.ErrorIs(t, err, ErrLockUnavailable)
	require.False(t, held)

	locker := &Locker{client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})}
	_, _, err = locker.Hold(context.Background(), "", time.Second)
	require.ErrorIs(t, err, ErrLockKeyEmpty)
	_, _, err = locker.Hold(context.Background(), "k", 0)
	require.ErrorIs(t, err, ErrLockTTL)

	require.Nil(t, NewLocker(nil))
	require.Nil(t, NewTokenBucket(nil))
	_, err = (*TokenBucket)(nil).Allow(context.Background(), "k", 1, 1)
	require.True(t, err != nil && !errors.Is(err, context.Canceled))
}
