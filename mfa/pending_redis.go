package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKeyPrefix = "mfap"

// RedisPendingStore keeps pending setup secrets in Redis with a TTL so
// setup can be confirmed on any instance.
type RedisPendingStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisPendingStore returns a store writing keys under prefix
// (default "mfap").
func NewRedisPendingStore(client redis.UniversalClient, prefix string) *RedisPendingStore {
	if prefix == "" {
		prefix = pendingKeyPrefix
	}
	return &RedisPendingStore{redis: client, prefix: prefix}
}

func (s *RedisPendingStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisPendingStore) Save(ctx context.Context, userID, secret string, ttl time.Duration) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("empty user id")
	}
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	if err := s.redis.Set(ctx, s.key(userID), secret, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingUnavailable, err)
	}
	return nil
}

func (s *RedisPendingStore) Load(ctx context.Context, userID string) (string, error) {
	secret, err := s.redis.Get(ctx, s.key(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotPending
		}
		return "", fmt.Errorf("%w: %v", ErrPendingUnavailable, err)
	}
	return secret, nil
}

func (s *RedisPendingStore) Delete(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingUnavailable, err)
	}
	return nil
}
