package queue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard serializes call processing: at most one queue entry may hold it,
// across every scheduler instance sharing the same backend.
type Guard interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type localGuard struct {
	busy atomic.Bool
}

// NewLocalGuard is the single-process guard used when no shared backend
// is configured.
func NewLocalGuard() Guard {
	return &localGuard{}
}

func (g *localGuard) Acquire(context.Context) (bool, error) {
	return g.busy.CompareAndSwap(false, true), nil
}

func (g *localGuard) Release(context.Context) error {
	g.busy.Store(false)
	return nil
}

// releaseLeaseScript deletes the lease only when it still carries our
// token, so an expired lease re-acquired by another instance is never
// released out from under it.
var releaseLeaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type redisGuard struct {
	rdb   *redis.Client
	key   string
	ttl   time.Duration
	token string
}

// NewRedisGuard leases a key so schedulers in different processes never
// run a call concurrently. The TTL bounds how long a crashed holder can
// block the queue; it should exceed the call timeout.
func NewRedisGuard(rdb *redis.Client, key string, ttl time.Duration) Guard {
	if key == "" {
		key = "hermes:queue:lease"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &redisGuard{rdb: rdb, key: key, ttl: ttl}
}

func (g *redisGuard) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := g.rdb.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		g.token = token
	}
	return ok, nil
}

func (g *redisGuard) Release(ctx context.Context) error {
	if g.token == "" {
		return nil
	}
	token := g.token
	g.token = ""
	if _, err := releaseLeaseScript.Run(ctx, g.rdb, []string{g.key}, token).Result(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
