package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the Redis keys used by RedisStore.
const DefaultKeyPrefix = "cnpj:rate_limit"

// stateRetention keeps state around a little longer than the window it describes.
const stateRetention = 5 * time.Minute

// Store persists throttling state.
// Load returns (nil, nil) when no state has been recorded yet.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
}

// MemoryStore keeps state for a single process. Like the Redis keys, a saved
// state is forgotten once it outlives its window plus retention.
type MemoryStore struct {
	mu    sync.RWMutex
	state *State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil || m.state.Expired(stateRetention) {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}
	s := *state
	if s.LastUpdate.IsZero() {
		s.LastUpdate = time.Now()
	}
	m.mu.Lock()
	m.state = &s
	m.mu.Unlock()
	return nil
}

// RedisStore shares state between processes through Redis.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis backed store. An empty prefix selects DefaultKeyPrefix.
func NewRedisStore(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (r *RedisStore) key(name string) string {
	return r.prefix + ":" + name
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	remaining, err := r.redis.Get(ctx, r.key("remaining")).Int()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := r.redis.Get(ctx, r.key("reset_timestamp")).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	blocked, err := r.redis.Get(ctx, r.key("blocked")).Bool()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get blocked: %w", err)
	}

	var lastUpdate time.Time
	lastUpdateStr, err := r.redis.Get(ctx, r.key("last_update")).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	return &State{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
		Blocked:    blocked,
	}, nil
}

// Save implements Store. All keys are written in one pipeline and expire
// shortly after the window they describe.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	if state == nil {
		return fmt.Errorf("state cannot be nil")
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	ttl := state.TimeUntilReset() + stateRetention

	pipe := r.redis.Pipeline()
	pipe.Set(ctx, r.key("remaining"), state.Remaining, ttl)
	pipe.Set(ctx, r.key("reset_timestamp"), state.ResetAt.Unix(), ttl)
	pipe.Set(ctx, r.key("blocked"), state.Blocked, ttl)
	pipe.Set(ctx, r.key("last_update"), lastUpdateJSON, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store rate limit state in redis: %w", err)
	}
	return nil
}
