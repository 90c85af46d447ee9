package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalTake(t *testing.T) {
	l := NewLocalLimiter(100, 1)

	for i := 0; i < 3; i++ {
		_, err := l.Take(context.Background())
		require.NoError(t, err)
	}
}

func TestLocalTakeCancelled(t *testing.T) {
	l := NewLocalLimiter(1, 1)
	require.NoError(t, Take(context.Background(), l))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Take(ctx)
	assert.Error(t, err)
}

func TestRedisTakeUnreachable(t *testing.T) {
	s := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: s.Addr()})
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisLimiter(c, "github", 10).Take(ctx)
	assert.Error(t, err)
}

func TestThrottledTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := &http.Client{Transport: NewThrottledTransport(NewLocalLimiter(100, 1), nil)}

	resp, err := c.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
