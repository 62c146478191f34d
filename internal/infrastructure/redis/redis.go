// Package redis provides a thin wrapper around the go-redis client used
// for liveness checks; the broker itself is driven by asynq over the same
// Redis instance.
package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

type Cache struct {
	Client *redis.Client
}

func New(opt *redis.Options) *Cache {
	return &Cache{Client: redis.NewClient(opt)}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
