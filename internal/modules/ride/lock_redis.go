// README: Redis-backed Locker for deployments with more than one API instance.
package ride

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bora/internal/types"
)

const lockKeyPrefix = "ride:%s:lock"

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes SET NX PX locks. The TTL bounds how long a crashed holder can
// block a ride; it must exceed the longest critical section.
type RedisLocker struct {
	redis *redis.Client
	ttl   time.Duration
	retry time.Duration
}

func NewRedisLocker(redis *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{redis: redis, ttl: ttl, retry: 15 * time.Millisecond}
}

func (l *RedisLocker) Lock(ctx context.Context, id types.ID) (func(), error) {
	key := fmt.Sprintf(lockKeyPrefix, string(id))
	token := uuid.NewString()

	for {
		ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire ride lock: %w", err)
		}
		if ok {
			break
		}
		t := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// On failure the TTL reclaims the key.
		_ = releaseScript.Run(ctx, l.redis, []string{key}, token).Err()
	}, nil
}
