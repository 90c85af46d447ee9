package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10" // Redis rate limiting library
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisKeyPrefix string = `dora:ratelimit:` // Prefix of the Redis keys used for rate limiting

// Redis represents a rate limiter shared by every exporter instance through Redis.
type Redis struct {
	*redis_rate.Limiter
	Key    string // Upstream API the limit applies to
	MaxRPS int    // Maximum requests per second allowed
}

// NewRedisLimiter creates a new Redis-based rate limiter for the given upstream API.
func NewRedisLimiter(redisClient *redis.Client, key string, maxRPS int) Limiter {
	return Redis{
		Limiter: redis_rate.NewLimiter(redisClient),
		Key:     redisKeyPrefix + key,
		MaxRPS:  maxRPS,
	}
}

// Take blocks until a request is allowed under the rate limit.
func (r Redis) Take(ctx context.Context) (time.Duration, error) {
	start := time.Now()

	for {
		res, err := r.Allow(ctx, r.Key, redis_rate.PerSecond(r.MaxRPS))
		if err != nil {
			return time.Since(start), err
		}

		if res.Allowed > 0 {
			break
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"key": r.Key,
				"for": res.RetryAfter.String(),
			}).
			Debug("throttled upstream requests")

		select {
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		case <-time.After(res.RetryAfter):
		}
	}

	return time.Since(start), nil
}
