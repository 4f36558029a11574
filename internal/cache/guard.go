package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard serializes collections per (tenant, platform, periodID) across
// processes: a scheduled run and a manual backfill hitting the same key must
// not both call upstream and race their writes. Locks are Redis SET NX with
// a TTL so a crashed worker cannot wedge a key forever; release is
// owner-checked through a Lua script so an expired lock taken over by
// another worker is never released by the original holder.
type Guard struct {
	redis *redis.Client

	releaseScript *redis.Script
}

// Lua script for owner-checked lock release
const releaseLuaScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// NewGuard creates an in-flight guard with a pre-compiled release script.
func NewGuard(client *redis.Client) *Guard {
	return &Guard{
		redis:         client,
		releaseScript: redis.NewScript(releaseLuaScript),
	}
}

// Lock is a held in-flight lock. Release it when the collection finishes.
type Lock struct {
	guard *Guard
	key   string
	token string
}

func guardKey(tenant, platform, periodID string) string {
	return fmt.Sprintf("adpulse:inflight:%s:%s:%s", tenant, platform, periodID)
}

// Acquire attempts to take the in-flight lock for the key. It returns
// (nil, nil) when another collection already holds it; callers then no-op
// rather than issuing a redundant upstream call.
func (g *Guard) Acquire(ctx context.Context, tenant, platform, periodID string, ttl time.Duration) (*Lock, error) {
	key := guardKey(tenant, platform, periodID)
	token := uuid.New().String()

	ok, err := g.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire in-flight lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &Lock{guard: g, key: key, token: token}, nil
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	if err := l.guard.releaseScript.Run(ctx, l.guard.redis, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release in-flight lock: %w", err)
	}
	return nil
}
