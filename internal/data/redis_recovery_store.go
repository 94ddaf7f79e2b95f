package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/target/chart-analysis-worker/internal/core"
	"github.com/target/chart-analysis-worker/internal/domain/model"
)

// DefaultRecoveryKey is the Redis hash holding recovery entries when no key is configured.
const DefaultRecoveryKey = "analysis:recovery"

// RedisRecoveryStore keeps recovery entries in a Redis hash (message id -> message JSON) so
// they survive process restarts.
type RedisRecoveryStore struct {
	client redis.UniversalClient
	key    string
}

var _ core.RecoveryStore = (*RedisRecoveryStore)(nil)

// NewRedisRecoveryStore creates a store backed by the given hash key.
func NewRedisRecoveryStore(client redis.UniversalClient, key string) *RedisRecoveryStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRecoveryKey
	}
	return &RedisRecoveryStore{client: client, key: key}
}

// Key returns the hash key used by the store.
func (r *RedisRecoveryStore) Key() string { return r.key }

// Put stores msg under its ID.
func (r *RedisRecoveryStore) Put(ctx context.Context, msg model.Message) error {
	if msg.ID == "" {
		return ErrMessageIDRequired
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode recovery entry: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, msg.ID, b).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Remove deletes the entry for id.
func (r *RedisRecoveryStore) Remove(ctx context.Context, id string) error {
	if id == "" {
		return ErrMessageIDRequired
	}
	if err := r.client.HDel(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Snapshot reads every entry. Entries that fail to decode are skipped and reported in the error
// alongside the decoded ones.
func (r *RedisRecoveryStore) Snapshot(ctx context.Context) ([]model.Message, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	out := make([]model.Message, 0, len(raw))
	var decodeErrs []error
	for id, v := range raw {
		var msg model.Message
		if uerr := json.Unmarshal([]byte(v), &msg); uerr != nil {
			decodeErrs = append(decodeErrs, fmt.Errorf("decode recovery entry %s: %w", id, uerr))
			continue
		}
		out = append(out, msg)
	}
	sortMessages(out)
	return out, errors.Join(decodeErrs...)
}

// Len returns the number of entries in the hash.
func (r *RedisRecoveryStore) Len(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hlen: %w", err)
	}
	return int(n), nil
}

// Purge drops every entry and returns how many were removed.
func (r *RedisRecoveryStore) Purge(ctx context.Context) (int, error) {
	n, err := r.Len(ctx)
	if err != nil {
		return 0, err
	}
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	return n, nil
}

// Health checks the health of the Redis connection.
func (r *RedisRecoveryStore) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
