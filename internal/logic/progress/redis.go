package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stakedex-indexer-sol/internal/types"
)

// RedisProgressStore 在 Redis 中记录签名的处理状态，重启或多实例时跳过已处理交易
type RedisProgressStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

const (
	defaultPrefix = "progress:stakedex:sig"
	defaultTTL    = 7 * 24 * time.Hour
)

// NewRedisProgressStore 创建标记存储，ttl <= 0 时使用默认 7 天
func NewRedisProgressStore(rdb *redis.Client, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisProgressStore{rdb: rdb, prefix: defaultPrefix, ttl: ttl}
}

func (r *RedisProgressStore) getKey(sig types.Signature) string {
	return fmt.Sprintf("%s:%s", r.prefix, sig)
}

// GetSigStatus 获取签名的状态
func (r *RedisProgressStore) GetSigStatus(ctx context.Context, sig types.Signature) (SigStatus, error) {
	val, err := r.rdb.Get(ctx, r.getKey(sig)).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return SigUnknown, nil
	case err != nil:
		return SigUnknown, fmt.Errorf("redis get error: %w", err)
	case val == int(SigIndexed):
		return SigIndexed, nil
	case val == int(SigSkipped):
		return SigSkipped, nil
	default:
		return SigUnknown, nil // 容错处理
	}
}

// IsHandled 签名是否已处理过
func (r *RedisProgressStore) IsHandled(ctx context.Context, sig types.Signature) (bool, error) {
	status, err := r.GetSigStatus(ctx, sig)
	if err != nil {
		return false, err
	}
	return status.Handled(), nil
}

// MarkSigStatus 设置签名的状态
func (r *RedisProgressStore) MarkSigStatus(ctx context.Context, sig types.Signature, status SigStatus) error {
	return r.rdb.Set(ctx, r.getKey(sig), int(status), r.ttl).Err()
}

// MarkMany 通过 pipeline 批量设置状态
func (r *RedisProgressStore) MarkMany(ctx context.Context, sigs []types.Signature, status SigStatus) error {
	if len(sigs) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for _, sig := range sigs {
		pipe.Set(ctx, r.getKey(sig), int(status), r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
