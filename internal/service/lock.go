package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-assessment/internal/config"
)

// ErrSessionBusy means the per-session lock could not be taken in time.
var ErrSessionBusy = errors.New("session is busy, retry")

// Locker serializes mutations of a single session.
type Locker interface {
	Lock(ctx context.Context, sessionID string) (unlock func(), err error)
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a per-session mutex on SET NX PX. Different sessions
// never contend.
type RedisLocker struct {
	rdb   *redis.Client
	ttl   time.Duration
	wait  time.Duration
	retry time.Duration
}

// NewRedisLocker creates a RedisLocker. ttl bounds how long a crashed
// holder can block the session; wait bounds how long Lock retries.
func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

// Lock blocks until the session lock is held, ctx is done, or the wait
// budget runs out.
func (l *RedisLocker) Lock(ctx context.Context, sessionID string) (func(), error) {
	key := config.CacheKey.SessionLockKey(sessionID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire session lock: %w", err)
		}
		if ok {
			return func() {
				// Release on a fresh context so a cancelled request still unlocks.
				rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(rctx, l.rdb, []string{key}, token).Err()
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrSessionBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
