// Package cache keeps instance records and fetched origin contexts in Redis
// for deployments that run more than one fedmerge process.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deemkeen/fedmerge/domain"
	"github.com/redis/go-redis/v9"
)

const (
	instancePrefix = "fedmerge:instance:"
	contextPrefix  = "fedmerge:context:"
)

type cachedContext struct {
	FetchedAt time.Time        `json:"fetched_at"`
	Tree      domain.ReplyTree `json:"tree"`
}

// RedisStore implements instance and context storage on Redis
type RedisStore struct {
	client     *redis.Client
	contextTTL time.Duration
}

// NewRedisStore connects to redisURL. Cached contexts expire after contextTTL.
func NewRedisStore(redisURL string, contextTTL time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, contextTTL: contextTTL}, nil
}

// ReadInstance returns nil when the host was never probed
func (s *RedisStore) ReadInstance(ctx context.Context, host string) (*domain.InstanceRecord, error) {
	raw, err := s.client.Get(ctx, instancePrefix+host).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read instance %s: %w", host, err)
	}
	var rec domain.InstanceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal instance %s: %w", host, err)
	}
	return &rec, nil
}

// WriteInstance stores rec without expiry, freshness is decided by the reader
func (s *RedisStore) WriteInstance(ctx context.Context, rec domain.InstanceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal instance %s: %w", rec.Host, err)
	}
	if err := s.client.Set(ctx, instancePrefix+rec.Host, raw, 0).Err(); err != nil {
		return fmt.Errorf("write instance %s: %w", rec.Host, err)
	}
	return nil
}

func (s *RedisStore) ReadContext(ctx context.Context, key string, maxAge time.Duration) (*domain.ReplyTree, error) {
	raw, err := s.client.Get(ctx, contextPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read context %s: %w", key, err)
	}
	var cached cachedContext
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("unmarshal context %s: %w", key, err)
	}
	if time.Since(cached.FetchedAt) > maxAge {
		return nil, nil
	}
	return &cached.Tree, nil
}

func (s *RedisStore) WriteContext(ctx context.Context, key string, tree domain.ReplyTree) error {
	raw, err := json.Marshal(cachedContext{FetchedAt: time.Now(), Tree: tree})
	if err != nil {
		return fmt.Errorf("marshal context %s: %w", key, err)
	}
	if err := s.client.Set(ctx, contextPrefix+key, raw, s.contextTTL).Err(); err != nil {
		return fmt.Errorf("write context %s: %w", key, err)
	}
	return nil
}

// PruneContexts is a no-op, Redis expires contexts on its own
func (s *RedisStore) PruneContexts(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

// Clear removes every key this store owns
func (s *RedisStore) Clear(ctx context.Context) error {
	for _, prefix := range []string{instancePrefix, contextPrefix} {
		iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("clear %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", prefix, err)
		}
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
