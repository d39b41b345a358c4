// Package redis implements artifact.Store on Redis, as an optional shared
// tier between hosts: one machine downloads a model artifact, the rest of
// the fleet pulls it from Redis instead of the CDN.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/poseworks/posepool/artifact"
)

var _ artifact.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "posepool:artifact:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithTTL sets an expiry on cached artifacts. Zero means no expiry.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// Store implements artifact.Store backed by Redis. The caller owns the
// Redis client lifecycle.
type Store struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// New creates a Redis-backed artifact store.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: "posepool:artifact:"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get implements artifact.Store.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, artifact.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Put implements artifact.Store.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}
