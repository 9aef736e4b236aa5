// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pdiddy/pmc-harvest/pkg/types"
)

// RedisStore keeps the checkpoint as a JSON string under one Redis key.
// SET replaces the value atomically.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore returns a store using key on client.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Save writes cp under the store key.
func (s *RedisStore) Save(ctx context.Context, cp *types.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		savesTotal.WithLabelValues("redis", "error").Inc()
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		savesTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("saving checkpoint to redis key %s: %w", s.key, err)
	}
	savesTotal.WithLabelValues("redis", "ok").Inc()
	return nil
}

// Load reads the checkpoint under the store key.
func (s *RedisStore) Load(ctx context.Context) (*types.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading checkpoint from redis key %s: %w", s.key, err)
	}
	cp, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("checkpoint in redis key %s: %w", s.key, err)
	}
	return cp, nil
}

// Clear deletes the checkpoint key.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
