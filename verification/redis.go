package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "avt"
	// DefaultRetention keeps expired records readable so Verify can still
	// report ErrTokenExpired.
	DefaultRetention = 24 * time.Hour
)

// RedisStore keeps records in Redis so tokens survive restarts and are
// shared between instances.
//
// Layout under prefix:
//
//	{prefix}:r:{id}            record JSON
//	{prefix}:h:{kind}:{hash}   record id
//	{prefix}:u:{user}:{kind}   set of record ids
//
// Every key expires Retention after the record does.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore returns a store under prefix (default "avt"). A zero
// retention means DefaultRetention.
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = redisKeyPrefix
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{redis: client, prefix: prefix, retention: retention}
}

func (s *RedisStore) recordKey(id string) string {
	return s.prefix + ":r:" + id
}

func (s *RedisStore) hashKey(kind Kind, hash string) string {
	return s.prefix + ":h:" + string(kind) + ":" + hash
}

func (s *RedisStore) userKey(userID string, kind Kind) string {
	return s.prefix + ":u:" + userID + ":" + string(kind)
}

func (s *RedisStore) ttl(rec Record) time.Duration {
	life := rec.ExpiresAt.Sub(rec.CreatedAt)
	if life < 0 {
		life = 0
	}
	return life + s.retention
}

func (s *RedisStore) Create(ctx context.Context, rec Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrite(ctx, pipe, rec, encoded)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Replace watches the user's index so a concurrent Replace for the same user
// aborts one transaction and retries it against the new index.
func (s *RedisStore) Replace(ctx context.Context, rec Record) error {
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rewriteUser(ctx, rec.UserID, rec.Kind, func(pipe redis.Pipeliner) {
		s.queueWrite(ctx, pipe, rec, encoded)
	})
}

func (s *RedisStore) DeleteByUser(ctx context.Context, userID string, kind Kind) error {
	return s.rewriteUser(ctx, userID, kind, nil)
}

func (s *RedisStore) queueWrite(ctx context.Context, pipe redis.Pipeliner, rec Record, encoded []byte) {
	ttl := s.ttl(rec)
	userKey := s.userKey(rec.UserID, rec.Kind)
	pipe.Set(ctx, s.recordKey(rec.ID), encoded, ttl)
	pipe.Set(ctx, s.hashKey(rec.Kind, rec.TokenHash), rec.ID, ttl)
	pipe.SAdd(ctx, userKey, rec.ID)
	pipe.PExpire(ctx, userKey, ttl)
}

func (s *RedisStore) rewriteUser(ctx context.Context, userID string, kind Kind, then func(redis.Pipeliner)) error {
	const maxRetries = 4
	userKey := s.userKey(userID, kind)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			ids, err := tx.SMembers(ctx, userKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			stale := make([]string, 0, 2*len(ids)+1)
			for _, id := range ids {
				rec, err := s.load(ctx, tx, id)
				if err != nil {
					return err
				}
				stale = append(stale, s.recordKey(id))
				if rec != nil {
					stale = append(stale, s.hashKey(rec.Kind, rec.TokenHash))
				}
			}
			stale = append(stale, userKey)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, stale...)
				if then != nil {
					then(pipe)
				}
				return nil
			})
			return err
		}, userKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: user index contention", ErrStoreUnavailable)
}

func (s *RedisStore) FindActive(ctx context.Context, tokenHash string, kind Kind, now time.Time) (*Record, error) {
	rec, err := s.Find(ctx, tokenHash, kind)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Expired(now) {
		return nil, nil
	}
	return rec, nil
}

func (s *RedisStore) Find(ctx context.Context, tokenHash string, kind Kind) (*Record, error) {
	id, err := s.redis.Get(ctx, s.hashKey(kind, tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	rec, err := s.load(ctx, s.redis, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec == nil || rec.Kind != kind || rec.TokenHash != tokenHash {
		return nil, nil
	}
	return rec, nil
}

// Delete claims the record with GETDEL so concurrent callers cannot both
// observe a removal.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	data, err := s.redis.GetDel(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return true, nil
	}
	// A dangling hash key resolves to no record, so cleanup errors are ignored.
	_, _ = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.hashKey(rec.Kind, rec.TokenHash))
		pipe.SRem(ctx, s.userKey(rec.UserID, rec.Kind), rec.ID)
		return nil
	})
	return true, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*Record, error) {
	data, err := c.Get(ctx, s.recordKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode verification record: %w", err)
	}
	return &rec, nil
}
