package mfa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCodeStore keeps pending one-time codes in Redis with native TTL
// expiry, so codes survive process restarts and are shared across replicas.
type RedisCodeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCodeStore creates a Redis-backed code store.
func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client, prefix: "mfa:code:"}
}

func (s *RedisCodeStore) key(userID string, method Method) string {
	return s.prefix + userID + ":" + string(method)
}

// Put stores a code hash with a TTL, superseding any pending code.
func (s *RedisCodeStore) Put(ctx context.Context, userID string, method Method, codeHash string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(userID, method), codeHash, ttl).Err(); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	return nil
}

// Get returns the pending unexpired code hash.
func (s *RedisCodeStore) Get(ctx context.Context, userID string, method Method) (string, error) {
	hash, err := s.client.Get(ctx, s.key(userID, method)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoCode
	}
	if err != nil {
		return "", fmt.Errorf("load verification code: %w", err)
	}
	return hash, nil
}

// Delete removes the pending code. The DEL reply count makes single-use
// atomic across replicas: only one concurrent caller observes a deletion.
func (s *RedisCodeStore) Delete(ctx context.Context, userID string, method Method) (bool, error) {
	deleted, err := s.client.Del(ctx, s.key(userID, method)).Result()
	if err != nil {
		return false, fmt.Errorf("consume verification code: %w", err)
	}
	return deleted > 0, nil
}
