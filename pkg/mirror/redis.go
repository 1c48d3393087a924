package mirror

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// RedisKV mirror kept in redis, shared by every process of the same user
type RedisKV struct {
	client *redis.Client
}

// NewRedis wrap an existing client
func NewRedis(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// Put set value without ttl
func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Get read value
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

// Delete remove one key
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// DeletePrefix SCAN + DEL, KEYS 會阻塞 redis
func (r *RedisKV) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := r.Keys(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Keys list keys starting with prefix
func (r *RedisKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Close the client is owned by the caller
func (r *RedisKV) Close() error {
	return nil
}
