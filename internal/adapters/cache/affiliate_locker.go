package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

const lockKeyPrefix = "affiliate:lock:"

// ErrLockTimeout is a conflict: the caller may retry the whole operation.
var ErrLockTimeout = fmt.Errorf("%w: affiliate lock wait timed out", domain.ErrConflict)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisAffiliateLocker serializes ledger mutations for one affiliate across
// every API and worker process.
type RedisAffiliateLocker struct {
	client lockClient
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

func NewRedisAffiliateLocker(client lockClient, ttl, wait time.Duration) *RedisAffiliateLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisAffiliateLocker{client: client, ttl: ttl, wait: wait, retry: 25 * time.Millisecond}
}

func (l *RedisAffiliateLocker) Lock(ctx context.Context, affiliateID string) (func(), error) {
	key := lockKeyPrefix + affiliateID
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire affiliate lock: %w", err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
