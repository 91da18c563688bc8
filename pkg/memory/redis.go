package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an abandoned buffer survives a crashed turn.
const DefaultTTL = 24 * time.Hour

// RedisStore keeps each buffer as a Redis list of JSON entries.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: DefaultTTL}
}

func (s *RedisStore) Messages(ctx context.Context, key string) ([]Entry, error) {
	raw, err := s.rdb.LRange(ctx, listKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory %s: %w", key, err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory entry of %s: %w", key, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Replace(ctx context.Context, key string, entries []Entry) error {
	values, err := encode(entries)
	if err != nil {
		return err
	}
	lk := listKey(key)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, lk)
		if len(values) > 0 {
			pipe.RPush(ctx, lk, values...)
			pipe.Expire(ctx, lk, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace memory %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Append(ctx context.Context, key string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	values, err := encode(entries)
	if err != nil {
		return err
	}
	lk := listKey(key)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, lk, values...)
		pipe.Expire(ctx, lk, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append memory %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, listKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to clear memory %s: %w", key, err)
	}
	return nil
}

func encode(entries []Entry) ([]any, error) {
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal memory entry: %w", err)
		}
		values = append(values, string(b))
	}
	return values, nil
}

func listKey(key string) string {
	return fmt.Sprintf("chathub_memory_%s", key)
}
