package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/paygate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisStore 将每个凭据包保存为一个 JSON 字符串键。
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore 创建 Redis 凭据存储，键名为 prefix + ref。
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(ref string) string {
	return s.prefix + ref
}

// Get 实现 Store。
func (s *RedisStore) Get(ctx context.Context, ref string) (*domain.SecretBundle, error) {
	data, err := s.client.Get(ctx, s.key(ref)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrSecretNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get secret %s: %w", ref, err)
	}
	return domain.DecodeSecretString(ref, data)
}

// Create 实现 Store，使用 SETNX 保证不覆盖已有凭据。
func (s *RedisStore) Create(ctx context.Context, bundle *domain.SecretBundle) error {
	data, err := domain.EncodeSecretString(bundle)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(bundle.Ref), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create secret %s: %w", bundle.Ref, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrSecretExists, bundle.Ref)
	}
	return nil
}

// Ping 检查 Redis 连接，用于就绪检查。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
