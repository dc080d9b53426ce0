package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds our token, so an expired hold
// never releases someone else's.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const releaseTimeout = 2 * time.Second

var (
	ErrLockUnavailable = errors.New("lock client not configured")
	ErrLockKeyEmpty    = errors.New("lock key is empty")
	ErrLockTTL         = errors.New("lock ttl must be positive")
)

// Locker is a single-holder lease on a redis key.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

// Hold takes the lease for ttl. When held is false someone else owns it.
// release is safe to call more than once.
func (l *Locker) Hold(ctx context.Context, key string, ttl time.Duration) (release func() error, held bool, err error) {
	if l == nil || l.client == nil {
		return nil, false, ErrLockUnavailable
	}
	if key == "" {
		return nil, false, ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return nil, false, ErrLockTTL
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		// the caller's context may already be gone
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		return l.script.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, true, nil
}
