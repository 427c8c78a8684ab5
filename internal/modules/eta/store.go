// README: ETA stores: Redis keys with TTL for production, a map for tests and local runs.
package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bora/internal/types"
)

const etaKeyPrefix = "ride:%s:eta"

type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redis *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redis, ttl: ttl}
}

func (s *RedisStore) Put(ctx context.Context, e Estimate) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, etaKey(e.RideID), b, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, rideID types.ID) (Estimate, bool, error) {
	val, err := s.redis.Get(ctx, etaKey(rideID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Estimate{}, false, nil
	}
	if err != nil {
		return Estimate{}, false, err
	}
	var e Estimate
	if err := json.Unmarshal(val, &e); err != nil {
		return Estimate{}, false, err
	}
	return e, true, nil
}

func etaKey(rideID types.ID) string {
	return fmt.Sprintf(etaKeyPrefix, string(rideID))
}

// MemoryStore keeps estimates in process. Entries older than ttl are treated as missing.
type MemoryStore struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[types.ID]Estimate
	now func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, m: make(map[types.ID]Estimate), now: time.Now}
}

func (s *MemoryStore) Put(_ context.Context, e Estimate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[e.RideID] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, rideID types.ID) (Estimate, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[rideID]
	if !ok {
		return Estimate{}, false, nil
	}
	if s.ttl > 0 && s.now().Sub(e.ComputedAt) > s.ttl {
		return Estimate{}, false, nil
	}
	return e, true, nil
}
