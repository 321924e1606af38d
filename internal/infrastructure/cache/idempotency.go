package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// 幂等键前缀
const (
	IdempotencyPrefixIssue   = "giftcard:idem:issue:"
	IdempotencyPrefixConsume = "giftcard:idem:consume:"
)

// IdempotencyStore 记录已完成的请求标识，带过期时间
// 过期之后的重放不再保证只执行一次
type IdempotencyStore struct {
	client *redis.Client
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

// Exists 判断请求是否已经执行过
func (s *IdempotencyStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetWithTTL 记录请求已完成
func (s *IdempotencyStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}
