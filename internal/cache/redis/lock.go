package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// releaseScript removes KEYS[1] only if it still carries the token ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// releaseTimeout bounds the unlock round trip. Release runs on a background
// context because it is usually deferred past the job's own deadline.
const releaseTimeout = 5 * time.Second

// LockManager claims request ids across agent replicas with SET NX and a
// per-holder token.
type LockManager struct {
	rdb *redis.Client
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{rdb: c.rdb}
}

func lockKey(key string) string { return keyPrefix + "lock:" + key }

type heldLock struct {
	rdb   *redis.Client
	key   string
	token string
	once  sync.Once
}

func (l *heldLock) release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
	})
}

// Acquire holds key for ttl or returns domain.ErrLockHeld. Calling the
// returned func more than once is harmless, and it never deletes a lock
// that expired and was re-taken by another replica.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l := &heldLock{rdb: lm.rdb, key: lockKey(key), token: uuid.NewString()}

	acquired, err := lm.rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	switch {
	case err != nil:
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	case !acquired:
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}
	return l.release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
