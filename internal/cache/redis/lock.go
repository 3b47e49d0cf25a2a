package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/paywatch/internal/domain"
)

// releaseLua deletes the lock only while it still holds the caller's token,
// so an expired holder cannot release a lock someone else has since taken.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// releaseTimeout bounds the release call, which runs on a fresh context.
const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and a
// token-checked release.
type LockManager struct {
	client  *Client
	release *redis.Script
}

func NewLockManager(c *Client) *LockManager {
	return &LockManager{client: c, release: redis.NewScript(releaseLua)}
}

// Acquire takes key for ttl. It fails with domain.ErrLockHeld when another
// holder has it. The returned release func may be called more than once.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := lm.client.key("lock:", key)

	ok, err := lm.client.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			_ = lm.release.Run(releaseCtx, lm.client.rdb, []string{k}, token).Err()
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
