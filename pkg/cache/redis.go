package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares cache entries across daemons through Redis. Each session
// keeps an index set of its entry keys so a purge is one round trip.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "browserd"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) entryKey(key Key) string {
	return s.prefix + ":" + key.SessionID + ":" + key.Hash()
}

func (s *RedisStore) indexKey(sessionID string) string {
	return s.prefix + ":index:" + sessionID
}

func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, entry Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	k := s.entryKey(key)
	idx := s.indexKey(key.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, k, raw, ttl)
		pipe.SAdd(ctx, idx, k)
		if ttl > 0 {
			// The index expires one lifetime after its newest entry.
			pipe.Expire(ctx, idx, 2*ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	k := s.entryKey(key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.SRem(ctx, s.indexKey(key.SessionID), k)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	idx := s.indexKey(sessionID)
	keys, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("read session index: %w", err)
	}
	if err := s.client.Del(ctx, append(keys, idx)...).Err(); err != nil {
		return fmt.Errorf("cache purge failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
