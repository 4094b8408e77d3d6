package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/viralforge/mesh/services/integrations/M89-affiliate-ledger/internal/domain"
)

const attributionKeyPrefix = "affiliate:attribution:"

// RedisAttributionStore keeps one binding per visitor token. The key TTL is the
// remaining attribution window, so SET NX only succeeds once the previous
// binding has expired.
type RedisAttributionStore struct {
	client redis.Cmdable
}

func NewRedisAttributionStore(client redis.Cmdable) *RedisAttributionStore {
	return &RedisAttributionStore{client: client}
}

func (s *RedisAttributionStore) GetActive(ctx context.Context, visitorToken string, now time.Time) (*domain.Attribution, error) {
	raw, err := s.client.Get(ctx, attributionKeyPrefix+strings.TrimSpace(visitorToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out domain.Attribution
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if !out.ActiveAt(now) {
		return nil, nil
	}
	return &out, nil
}

func (s *RedisAttributionStore) BindIfAbsent(ctx context.Context, binding domain.Attribution, now time.Time) (domain.Attribution, bool, error) {
	ttl := binding.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return domain.Attribution{}, false, domain.ErrInvalidInput
	}
	raw, err := json.Marshal(binding)
	if err != nil {
		return domain.Attribution{}, false, err
	}
	key := attributionKeyPrefix + binding.VisitorToken
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, key, raw, ttl).Result()
		if err != nil {
			return domain.Attribution{}, false, err
		}
		if ok {
			return binding, true, nil
		}
		existing, err := s.GetActive(ctx, binding.VisitorToken, now)
		if err != nil {
			return domain.Attribution{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
		// the old binding expired between SETNX and GET; its key is stale
		if err := s.client.Del(ctx, key).Err(); err != nil {
			return domain.Attribution{}, false, err
		}
	}
	return domain.Attribution{}, false, domain.ErrConflict
}
