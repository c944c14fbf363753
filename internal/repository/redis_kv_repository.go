package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

type redisKVRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisKVRepository stores values under prefix+key with no expiry.
func NewRedisKVRepository(client *redis.Client, prefix string) KVRepository {
	return &redisKVRepository{client: client, prefix: prefix}
}

func (r *redisKVRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if r.client == nil {
		return nil, false, ErrBackendClosed
	}
	value, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *redisKVRepository) Set(ctx context.Context, key string, value []byte) error {
	if r.client == nil {
		return ErrBackendClosed
	}
	return r.client.Set(ctx, r.prefix+key, value, 0).Err()
}

func (r *redisKVRepository) Delete(ctx context.Context, key string) error {
	if r.client == nil {
		return ErrBackendClosed
	}
	return r.client.Del(ctx, r.prefix+key).Err()
}
