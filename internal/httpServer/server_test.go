package httpServer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/helvethink/dora-exporter/pkg/config"
	"github.com/helvethink/dora-exporter/pkg/controller"
	"github.com/helvethink/dora-exporter/pkg/dora"
	"github.com/helvethink/dora-exporter/pkg/store"
)

func newTestController(cfg config.Config) *controller.Controller {
	s := store.NewLocalStore()

	return &controller.Controller{
		Config: cfg,
		Store:  s,
		Engine: dora.NewEngine(s, nil),
	}
}

func serve(srv *http.Server, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(method, target, nil))

	return w
}

func TestNewServer(t *testing.T) {
	cfg := config.New()
	cfg.Server.ListenAddress = ":9000"

	srv := NewServer(context.Background(), newTestController(cfg))
	assert.Equal(t, ":9000", srv.Addr)

	w := serve(srv, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/metrics")
	assert.NotContains(t, w.Body.String(), "/sync")

	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health/live").Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/health/ready").Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/nope").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodPost, "/sync").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/debug/pprof/").Code)
}

func TestNewServerOptionalEndpoints(t *testing.T) {
	cfg := config.New()
	cfg.Server.Metrics.Enabled = false
	cfg.Server.EnablePprof = true
	cfg.Server.SyncTrigger.Enabled = true
	cfg.Server.SyncTrigger.SecretToken = "letmein"

	srv := NewServer(context.Background(), newTestController(cfg))

	assert.Equal(t, http.StatusNotFound, serve(srv, http.MethodGet, "/metrics").Code)
	assert.Equal(t, http.StatusOK, serve(srv, http.MethodGet, "/debug/pprof/").Code)
	assert.Equal(t, http.StatusForbidden, serve(srv, http.MethodPost, "/sync").Code)
}
