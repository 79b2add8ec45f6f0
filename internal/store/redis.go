package store

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	// RedisKeyPrefix namespaces correlation records in a shared Redis.
	RedisKeyPrefix = "trial:"
	// redisMaxTxAttempts bounds optimistic retries when a watched key changes.
	redisMaxTxAttempts = 10
	redisScanCount     = 200
)

// RedisKV implements TransactionalKV with WATCH/MULTI/EXEC so concurrent
// increments on one device never lose an update.
type RedisKV struct {
	client *redis.Client
	prefix string
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client, prefix: RedisKeyPrefix}
}

// NewRedisStore returns a Store on top of client.
func NewRedisStore(client *redis.Client) *KVStore {
	return NewKVStore(NewRedisKV(client))
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *RedisKV) ReadModifyWrite(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	k := r.prefix + key
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, 0)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxTxAttempts; i++ {
		err := r.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (r *RedisKV) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.prefix+key).Result()
	return n > 0, err
}

func (r *RedisKV) Scan(ctx context.Context, prefix string, fn func(string, []byte) error) error {
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		v, err := r.client.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(strings.TrimPrefix(full, r.prefix), v); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ TransactionalKV = (*RedisKV)(nil)
