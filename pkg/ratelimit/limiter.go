// Package ratelimit gates outbound dispatches with a per-owner,
// per-integration sliding window backed by Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/loki-platform/loki/pkg/models"
)

// Key identifies one rate window: every owner gets an independent
// window per integration type.
type Key struct {
	OwnerID string
	Type    models.IntegrationType
}

func (k Key) String() string {
	return "ratelimit:" + string(k.Type) + ":" + k.OwnerID
}

// slidingWindowScript drops members older than the window, counts the
// remainder and conditionally records the new call. Running it as one
// script keeps check-and-increment atomic under concurrent callers.
//
// KEYS[1] window sorted set
// ARGV[1] now (microseconds)
// ARGV[2] window length (microseconds)
// ARGV[3] max count
// ARGV[4] member for this call
// ARGV[5] key TTL (milliseconds)
var slidingWindowScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", cutoff)
local count = redis.call("ZCARD", KEYS[1])
if count < tonumber(ARGV[3]) then
	redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
	redis.call("PEXPIRE", KEYS[1], ARGV[5])
	return 1
end
return 0
`)

type Limiter struct {
	client redis.UniversalClient
	config Config
	logger *slog.Logger
}

func NewLimiter(client redis.UniversalClient, config Config, logger *slog.Logger) *Limiter {
	return &Limiter{
		client: client,
		config: config,
		logger: logger.With("module", "ratelimit"),
	}
}

// CheckAndIncrement reports whether the call identified by key is within
// its window and, when it is, records it. The check and the increment are
// a single atomic operation against Redis, never a read-then-write.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key Key) (bool, error) {
	rule := l.config.RuleFor(key.Type)

	now := time.Now().UTC()
	windowMicros := rule.Window.Microseconds()
	// Keep idle keys around slightly longer than one window so a
	// re-created window still sees recent calls.
	ttlMillis := rule.Window.Milliseconds() * 2

	allowed, err := slidingWindowScript.Run(ctx, l.client,
		[]string{key.String()},
		now.UnixMicro(),
		windowMicros,
		rule.MaxCount,
		uuid.NewString(),
		ttlMillis,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit for %s: %w", key, err)
	}

	if allowed == 0 {
		l.logger.DebugContext(ctx, "Rate limit exceeded",
			"key", key.String(),
			"max_count", rule.MaxCount,
			"window", rule.Window.String(),
		)

		return false, nil
	}

	return true, nil
}
