package cmd

import (
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

func NewRedisClient(redisURL string) redis.UniversalClient {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to parse Redis URL: %w", err))
	}

	return redis.NewClient(opts)
}
