package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ladderfi/bondd/internal/domain"
)

// unlockScript releases a lock only when the caller still owns it, so a
// lock that expired and was re-acquired elsewhere is never released by the
// original holder.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// LockManager provides distributed mutual exclusion for ledger operations
// when multiple bondd instances share one Redis.
type LockManager struct {
	rdb *redis.Client
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.Underlying()}
}

// Acquire takes the named lock for ttl. It returns domain.ErrLockHeld when
// another holder owns it, otherwise a release func that is safe to call
// multiple times.
func (lm *LockManager) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context) error, error) {
	key := "lock:" + name
	token := uuid.NewString()

	ok, err := lm.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	release := func(ctx context.Context) error {
		if released {
			return nil
		}
		released = true
		if err := unlockScript.Run(ctx, lm.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("redis: release lock %s: %w", name, err)
		}
		return nil
	}
	return release, nil
}
