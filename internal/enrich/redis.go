package enrich

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentstation/banrelay/pkg/errors"
)

// redisClient is the subset of redis.Cmdable the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// RedisStore keeps a snapshot as a single JSON value under one key. SET
// replaces the value atomically.
type RedisStore[V any] struct {
	client redisClient
	key    string
}

// NewRedisStore returns a store using key on client.
func NewRedisStore[V any](client redis.Cmdable, key string) *RedisStore[V] {
	return &RedisStore[V]{client: client, key: key}
}

// Load reads the snapshot value.
func (s *RedisStore[V]) Load(ctx context.Context) (Snapshot[V], error) {
	var snap Snapshot[V]

	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return snap, errors.NewNotFoundError("cache snapshot", s.key)
		}
		return snap, errors.WrapIO("read", "redis:"+s.key, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, errors.WrapParse("json", "redis:"+s.key, err)
	}
	return snap, nil
}

// Save writes the snapshot value without expiry.
func (s *RedisStore[V]) Save(ctx context.Context, snap Snapshot[V]) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.WrapParse("json", "redis:"+s.key, err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return errors.WrapIO("write", "redis:"+s.key, err)
	}
	return nil
}
