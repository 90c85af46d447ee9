package ratelimit

import (
	"context"
	"time"
)

// Limiter paces the requests sent to an upstream API.
type Limiter interface {
	// Take blocks until a request is allowed or the context is done, and returns how long it waited.
	Take(ctx context.Context) (time.Duration, error)
}

// Take is a helper function that calls the Take method on a Limiter.
func Take(ctx context.Context, l Limiter) error {
	_, err := l.Take(ctx)
	return err
}
