package controller

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/dora-exporter/pkg/store"
)

func TestScheduleRedisSetKeepaliveSurvivesRedisErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := store.NewRedisStore(client).(*store.Redis)
	c := Controller{Store: r, UUID: uuid.New()}
	hook := test.NewGlobal()
	t.Cleanup(hook.Reset)

	c.ScheduleRedisSetKeepalive(ctx)

	alive := func() bool {
		exists, err := r.KeepaliveExists(ctx, c.UUID.String())
		return err == nil && exists
	}
	require.Eventually(t, alive, 3*time.Second, 50*time.Millisecond)

	mr.SetError("LOADING redis is loading the dataset in memory")
	require.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == log.ErrorLevel && e.Message == "setting keepalive" {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)

	mr.SetError("")
	mr.FlushAll()
	assert.Eventually(t, alive, 3*time.Second, 50*time.Millisecond)
}
