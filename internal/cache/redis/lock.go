package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

// releaseLua deletes a lock key only if it still carries the caller's token,
// so an expired holder cannot release a lock that has since been re-acquired.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the release call, which runs on a fresh context.
const releaseTimeout = 2 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a token
// checked release script. Locks are advisory: every writer of a per-
// instrument record takes the lock before its read-modify-write.
type LockManager struct {
	rdb     *redis.Client
	release *redis.Script
	prefix  string
}

// NewLockManager creates a LockManager whose keys live under "lock:".
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
		prefix:  "lock:",
	}
}

// Acquire takes the lock for key for at most ttl. It returns
// domain.ErrLockHeld when someone else holds it. The returned release func is
// idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.prefix + key

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(rctx, lm.rdb, []string{lk}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
