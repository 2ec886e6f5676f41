package health

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisChecker verifies redis connectivity
type RedisChecker struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisChecker creates a redis health checker. A zero timeout
// defaults to 3 seconds.
func NewRedisChecker(client redis.UniversalClient, timeout time.Duration) *RedisChecker {
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	return &RedisChecker{client: client, timeout: timeout}
}

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return unhealthyResult("redis", err, started)
	}

	return healthyResult("redis", "connected", started)
}

func (c *RedisChecker) Name() string {
	return "redis"
}
