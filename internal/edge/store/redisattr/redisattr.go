// Package redisattr implements store.AttributeStore and store.CursorStore
// on top of Redis hashes, grounded on this codebase's existing Redis
// wrapper (pkg/cache) and its per-entity hash-of-fields caching pattern.
package redisattr

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgesync/syncmanager/internal/edge/model"
	"github.com/edgesync/syncmanager/internal/edge/store"
	"github.com/edgesync/syncmanager/pkg/cache"
)

// Store implements store.AttributeStore and store.CursorStore against a
// single Redis hash per (tenant, entity, scope), field-addressed by key.
type Store struct {
	redis *cache.RedisClient
	ttl   time.Duration // 0 means no expiry
}

// New constructs a Store backed by rc. ttl of 0 disables hash expiry.
func New(rc *cache.RedisClient, ttl time.Duration) *Store {
	return &Store{redis: rc, ttl: ttl}
}

func hashKey(tenant, entity, scope string) string {
	return fmt.Sprintf("attr:%s:%s:%s", tenant, entity, scope)
}

// Find returns the stored value for key, and false if absent.
func (s *Store) Find(ctx context.Context, tenant, entity, scope, key string) (int64, bool, error) {
	v, err := s.redis.Client().HGet(ctx, hashKey(tenant, entity, scope), key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redisattr: find %s/%s: %w", hashKey(tenant, entity, scope), key, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redisattr: parse value for %s/%s: %w", hashKey(tenant, entity, scope), key, err)
	}
	return n, true, nil
}

// Save writes one or more attributes via a MULTI/EXEC transaction pipeline,
// so they are applied together, setting ttl on each touched hash if
// configured.
func (s *Store) Save(ctx context.Context, attrs ...store.Attribute) error {
	if len(attrs) == 0 {
		return nil
	}
	pipe := s.redis.Client().TxPipeline()
	touched := make(map[string]bool)
	for _, a := range attrs {
		key := hashKey(a.Tenant, a.Entity, a.Scope)
		pipe.HSet(ctx, key, a.Key, strconv.FormatInt(a.Value, 10))
		touched[key] = true
	}
	if s.ttl > 0 {
		for key := range touched {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisattr: save: %w", err)
	}
	return nil
}

// Load returns the durable cursor for tenant, defaulting each missing key
// to 0 (spec §4.1).
func (s *Store) Load(ctx context.Context, tenant string) (model.Cursor, error) {
	startTs, _, err := s.Find(ctx, tenant, tenant, cursorScope, store.KeyQueueStartTs)
	if err != nil {
		return model.Cursor{}, err
	}
	seqIDOffset, _, err := s.Find(ctx, tenant, tenant, cursorScope, store.KeyQueueSeqIDOffset)
	if err != nil {
		return model.Cursor{}, err
	}
	return model.Cursor{StartTs: startTs, SeqIDOffset: seqIDOffset}, nil
}

// Store writes both cursor keys atomically as of now (spec §4.1). Failures
// are the caller's to log; this method only wraps the underlying error.
func (s *Store) Store(ctx context.Context, tenant string, cursor model.Cursor) error {
	now := time.Now().UnixMilli()
	return s.Save(ctx,
		store.Attribute{Tenant: tenant, Entity: tenant, Scope: cursorScope, Key: store.KeyQueueStartTs, Value: cursor.StartTs, Ts: now},
		store.Attribute{Tenant: tenant, Entity: tenant, Scope: cursorScope, Key: store.KeyQueueSeqIDOffset, Value: cursor.SeqIDOffset, Ts: now},
	)
}

const cursorScope = "SERVER_SCOPE"
