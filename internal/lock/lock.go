// Package lock provides short-lived Redis locks keyed by resource.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-ticketing-engine/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotAcquired is returned by WithLock when another owner holds the key.
var ErrNotAcquired = errors.New("lock is held by another owner")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{Client: client, Logger: log}
}

func PaymentURLKey(orderID string) string {
	return "payment_url_lock:" + orderID
}

func SweepKey(job string) string {
	return "sweep_lock:" + job
}

// Acquire sets key to token if nobody holds it. The lock expires after ttl
// even if Release is never called.
func (r *Redis) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock if token still owns it. Releasing an expired or
// foreign lock is not an error.
func (r *Redis) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, r.Client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Holder returns the token currently stored under key, or "" when free.
func (r *Redis) Holder(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// WithLock runs fn while holding key. It returns ErrNotAcquired without
// calling fn when the key is taken.
func (r *Redis) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	ok, err := r.Acquire(ctx, key, token, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		// The caller's context may already be cancelled; unlock regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Release(releaseCtx, key, token); err != nil && r.Logger != nil {
			r.Logger.Warn("REDIS", fmt.Sprintf("Failed to release %s: %v", key, err))
		}
	}()
	return fn(ctx)
}
