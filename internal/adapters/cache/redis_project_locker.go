package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisProjectLocker serializes project mutations across engine instances
// with SET NX PX leases. The lease TTL must exceed the longest mutation; the
// store's version check catches a lease that expired mid-write.
type RedisProjectLocker struct {
	client    *redis.Client
	ttl       time.Duration
	retryWait time.Duration
	logger    *slog.Logger
}

func NewRedisProjectLocker(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisProjectLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisProjectLocker{
		client:    client,
		ttl:       ttl,
		retryWait: 25 * time.Millisecond,
		logger:    logger.With("module", "cache", "layer", "adapter"),
	}
}

func (l *RedisProjectLocker) Lock(ctx context.Context, projectID string) (func(), error) {
	key := "funding:lock:project:" + projectID
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire project lock: %w", err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.retryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return func() {
		// the caller's context may already be done; release on a short budget of its own
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("project lock release failed",
				"operation", "release_project_lock",
				"outcome", "failure",
				"project_id", projectID,
				"error", err,
			)
		}
	}, nil
}
