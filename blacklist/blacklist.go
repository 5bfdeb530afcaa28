// Package blacklist denies otherwise-valid access tokens until their natural
// expiry. Entries are dead weight past that point, so the Redis store leans
// on native TTL expiry and never sweeps.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store is the denial-store contract consulted by the request-authorization
// path before trusting an access token with a valid signature.
type Store interface {
	// Add denies the signature for ttl. A non-positive ttl means the token has
	// already expired and the entry is unnecessary; Add is then a no-op.
	Add(ctx context.Context, signature string, ttl time.Duration) error

	// Contains reports whether the signature is currently denied.
	Contains(ctx context.Context, signature string) (bool, error)
}

// RedisStore keys entries by access-token signature with a TTL mirroring the
// token's remaining lifetime.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "af"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) key(signature string) string {
	return s.prefix + ":bl:" + signature
}

func (s *RedisStore) Add(ctx context.Context, signature string, ttl time.Duration) error {
	if signature == "" {
		return errors.New("empty signature")
	}
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(signature), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Contains(ctx context.Context, signature string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(signature)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n > 0, nil
}
