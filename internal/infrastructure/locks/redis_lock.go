package locks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes a lease only when it is still held by the
// token that acquired it
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisLock grants short-lived exclusive leases backed by Redis
// SET NX PX. Leases expire on their own, so a crashed holder never
// wedges the key.
type RedisLock struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedisLock creates a new Redis-backed lease lock
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		tokens: make(map[string]string),
	}
}

// Acquire tries to take the lease, returning false when another
// holder owns it
func (r *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := generateToken()

	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}

	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
	}

	return ok, nil
}

// Release gives the lease back. Only the holder that acquired it can
// release; an expired or foreign lease is left alone.
func (r *RedisLock) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, held := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()

	if !held {
		return fmt.Errorf("lease not held: %s", key)
	}

	result, err := r.client.Eval(ctx, releaseScript, []string{r.prefix + key}, token).Result()
	if err != nil {
		return fmt.Errorf("redis eval: %w", err)
	}

	if count, ok := result.(int64); ok && count == 0 {
		// The lease expired before release; the next acquirer already
		// owns the key
		return nil
	}

	return nil
}

func generateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
