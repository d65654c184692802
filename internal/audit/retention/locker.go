package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker elects one purger instance per run so replicas do not race the
// same deletes. Deletes are idempotent, so a lost lock is a waste of
// work, not a correctness problem.
type Locker interface {
	// Acquire returns true when this instance holds the lock for ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release gives the lock up early. Releasing a lock held by another
	// instance is a no-op.
	Release(ctx context.Context, key string) error
}

// releaseScript deletes the key only when it still carries our token, so
// an expired-and-reacquired lock is never released out from under the new
// holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX EX plus a token-checked
// release.
type RedisLocker struct {
	client *redis.Client
	token  string
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		token:  uuid.NewString(),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire purge lock: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, l.token).Err(); err != nil {
		return fmt.Errorf("release purge lock: %w", err)
	}
	return nil
}

// SoloLocker always grants the lock. For single-instance deployments and
// tests.
type SoloLocker struct{}

func (SoloLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }
func (SoloLocker) Release(context.Context, string) error                        { return nil }
