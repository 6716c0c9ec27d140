package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storelink/meli-auth/internal/domain"
	"github.com/storelink/meli-auth/internal/repository"
)

// keyPrefix namespaces authorization state entries so the database can be
// shared with other consumers.
const keyPrefix = "meli:auth:state:"

// RedisStateStore implements AuthStateStore backed by Redis. Each entry
// lives under keyPrefix+state and expires after the configured TTL, so an
// abandoned authorization attempt cleans itself up.
type RedisStateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

var _ repository.AuthStateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store. A zero ttl
// falls back to ten minutes, matching the marketplace consent window.
func NewRedisStateStore(client redis.UniversalClient, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStateStore{client: client, ttl: ttl}
}

func stateKey(state string) string {
	return keyPrefix + state
}

// SaveState stores the encoded authorization state under its state value.
func (s *RedisStateStore) SaveState(ctx context.Context, data domain.AuthState) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(data.State), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// GetState loads and decodes the state payload. Unknown or expired states
// return nil.
func (s *RedisStateStore) GetState(ctx context.Context, state string) (*domain.AuthState, error) {
	bytes, err := s.client.Get(ctx, stateKey(state)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var out domain.AuthState
	if err := json.Unmarshal(bytes, &out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &out, nil
}

// DeleteState removes a consumed state so it cannot be replayed.
func (s *RedisStateStore) DeleteState(ctx context.Context, state string) error {
	if err := s.client.Del(ctx, stateKey(state)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}
