package ratelimit_test

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"golang.org/x/sync/errgroup"

	"github.com/loki-platform/loki/pkg/models"
	"github.com/loki-platform/loki/pkg/ratelimit"
)

var redisContainer *tcredis.RedisContainer

func setupTestRedis(t *testing.T) (redis.UniversalClient, context.Context) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if redisContainer == nil || !redisContainer.IsRunning() {
		var err error

		redisContainer, err = tcredis.Run(ctx, "redis:7-alpine")
		require.NoError(t, err)
	}

	connectionString, err := redisContainer.ConnectionString(ctx)
	require.NoError(t, err)

	options, err := redis.ParseURL(connectionString)
	require.NoError(t, err)

	client := redis.NewClient(options)
	require.NoError(t, client.FlushAll(ctx).Err())

	t.Cleanup(func() {
		err := client.Close()
		require.NoError(t, err)

		cancel()
	})

	return client, ctx
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCheckAndIncrement_WindowExhaustion(t *testing.T) {
	client, ctx := setupTestRedis(t)

	config := ratelimit.Config{Default: ratelimit.Rule{MaxCount: 10, Window: time.Minute}}
	limiter := ratelimit.NewLimiter(client, config, testLogger())
	key := ratelimit.Key{OwnerID: "user-1", Type: models.IntegrationTypeSlack}

	for i := range 10 {
		allowed, err := limiter.CheckAndIncrement(ctx, key)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be allowed", i+1)
	}

	allowed, err := limiter.CheckAndIncrement(ctx, key)
	require.NoError(t, err)
	assert.False(t, allowed, "11th call in the window should be denied")
}

func TestCheckAndIncrement_ConcurrentCallers(t *testing.T) {
	client, ctx := setupTestRedis(t)

	config := ratelimit.Config{Default: ratelimit.Rule{MaxCount: 10, Window: time.Minute}}
	limiter := ratelimit.NewLimiter(client, config, testLogger())
	key := ratelimit.Key{OwnerID: "user-2", Type: models.IntegrationTypeGitHub}

	var allowedCount atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	for range 25 {
		group.Go(func() error {
			allowed, err := limiter.CheckAndIncrement(groupCtx, key)
			if err != nil {
				return err
			}

			if allowed {
				allowedCount.Add(1)
			}

			return nil
		})
	}

	require.NoError(t, group.Wait())
	assert.Equal(t, int64(10), allowedCount.Load(), "exactly max_count calls may pass in one window")
}

func TestCheckAndIncrement_WindowSlides(t *testing.T) {
	client, ctx := setupTestRedis(t)

	config := ratelimit.Config{Default: ratelimit.Rule{MaxCount: 2, Window: 300 * time.Millisecond}}
	limiter := ratelimit.NewLimiter(client, config, testLogger())
	key := ratelimit.Key{OwnerID: "user-3", Type: models.IntegrationTypeGoogle}

	for range 2 {
		allowed, err := limiter.CheckAndIncrement(ctx, key)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, err := limiter.CheckAndIncrement(ctx, key)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(350 * time.Millisecond)

	allowed, err = limiter.CheckAndIncrement(ctx, key)
	require.NoError(t, err)
	assert.True(t, allowed, "calls older than the window no longer count")
}

func TestCheckAndIncrement_IndependentKeys(t *testing.T) {
	client, ctx := setupTestRedis(t)

	config := ratelimit.Config{Default: ratelimit.Rule{MaxCount: 1, Window: time.Minute}}
	limiter := ratelimit.NewLimiter(client, config, testLogger())

	allowed, err := limiter.CheckAndIncrement(ctx, ratelimit.Key{OwnerID: "user-4", Type: models.IntegrationTypeSlack})
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.CheckAndIncrement(ctx, ratelimit.Key{OwnerID: "user-4", Type: models.IntegrationTypeSlack})
	require.NoError(t, err)
	assert.False(t, allowed)

	// Same owner, different integration type gets its own window
	allowed, err = limiter.CheckAndIncrement(ctx, ratelimit.Key{OwnerID: "user-4", Type: models.IntegrationTypeGitHub})
	require.NoError(t, err)
	assert.True(t, allowed)

	// Different owner, same type too
	allowed, err = limiter.CheckAndIncrement(ctx, ratelimit.Key{OwnerID: "user-5", Type: models.IntegrationTypeSlack})
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestConfig_RuleFor(t *testing.T) {
	config := ratelimit.DefaultConfig()

	slackRule := config.RuleFor(models.IntegrationTypeSlack)
	assert.Equal(t, 50, slackRule.MaxCount)

	// Types without an explicit rule fall back to the default bucket
	defaultRule := config.RuleFor(models.IntegrationTypeStripe)
	assert.Equal(t, config.Default, defaultRule)
}
