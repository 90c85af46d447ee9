package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/helvethink/dora-exporter/internal/collectors"
	"github.com/helvethink/dora-exporter/pkg/reconciler"
	"github.com/helvethink/dora-exporter/pkg/schemas"
	"github.com/helvethink/dora-exporter/pkg/sources"
)

// SyncTokenHeader carries the secret token of the sync trigger endpoint.
const SyncTokenHeader = "X-Sync-Token"

// HealthCheckHandler creates and returns a health check handler for the controller.
// Every configured source adds a readiness check.
func (c *Controller) HealthCheckHandler(ctx context.Context) (h healthcheck.Handler) {
	h = healthcheck.NewHandler()

	// A source that cannot be reached within 5 seconds marks the exporter as not ready
	for _, p := range c.Pipelines {
		h.AddReadinessCheck(
			fmt.Sprintf("%s-reachable", p.Name()),
			healthcheck.Timeout(sources.ReadinessCheck(ctx, p.Name(), p.Source.HealthCheck), 5*time.Second),
		)
	}

	if c.DB != nil { // only set with a sql event store
		h.AddReadinessCheck("database-reachable", func() error {
			return c.DB.Ping(ctx)
		})
	}

	return
}

// MetricsHandler serves the /metrics HTTP endpoint to expose Prometheus metrics.
func (c *Controller) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	defer span.End()

	// The registry is built per scrape so that every window is computed against the current store
	pipelines := make([]collectors.Pipeline, 0, len(c.Pipelines))
	for _, p := range c.Pipelines {
		pipelines = append(pipelines, p)
	}

	registry := NewRegistry(ctx, collectors.NewExporter(ctx, c.Engine, pipelines, &collectors.Settings{
		Windows: c.Config.Server.Metrics.Windows,
	}))

	// Internal metrics are best effort, the DORA metrics are still served on failure
	if err := registry.ExportInternalMetrics(ctx, c.Pipelines, c.Store); err != nil {
		log.WithContext(ctx).
			WithError(err).
			Warn()
	}

	otelhttp.NewHandler(
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry:          registry,
			EnableOpenMetrics: c.Config.Server.Metrics.EnableOpenmetricsEncoding,
		}),
		"/metrics",
	).ServeHTTP(w, r)
}

// syncResponse is the outcome of a sync, as returned by the sync trigger endpoint.
type syncResponse struct {
	Source     string    `json:"source"`
	Kind       string    `json:"kind"`
	FinishedAt time.Time `json:"finished_at"`
	Fetched    int       `json:"fetched"`
	Upserted   int       `json:"upserted"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// SyncHandler runs a sync of the pipelines outside of their schedule and reports the outcome.
// The kind query parameter restricts it to deployments or incidents.
func (c *Controller) SyncHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	logger := log.
		WithContext(ctx).
		WithFields(log.Fields{
			"ip-address": r.RemoteAddr,
			"user-agent": r.UserAgent(),
		})

	logger.Debug("sync request received")

	w.Header().Set("Content-Type", "application/json")

	// Only POST requests are accepted
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, "{\"error\": \"method not allowed\"}")
		return
	}

	// Validate the secret token
	if r.Header.Get(SyncTokenHeader) != c.Config.Server.SyncTrigger.SecretToken {
		logger.Debug("invalid token provided for sync request")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, "{\"error\": \"invalid token\"}")
		return
	}

	// An empty kind syncs every configured pipeline
	var kinds []schemas.SourceKind

	switch kind := schemas.SourceKind(r.URL.Query().Get("kind")); kind {
	case "":
		for _, p := range c.Pipelines {
			kinds = append(kinds, p.Kind())
		}
	case schemas.SourceKindDeployments, schemas.SourceKindIncidents:
		if _, ok := c.Pipeline(kind); !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, "{\"error\": \"no source configured for %s\"}", kind)
			return
		}

		kinds = append(kinds, kind)
	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "{\"error\": \"kind must be deployments or incidents\"}")
		return
	}

	status := http.StatusOK
	responses := make([]syncResponse, 0, len(kinds))

	for _, kind := range kinds {
		run, err := c.TriggerSync(ctx, kind)

		resp := syncResponse{
			Source:     run.Source,
			Kind:       string(kind),
			FinishedAt: run.FinishedAt,
			Fetched:    run.Fetched,
			Upserted:   run.Upserted,
			Failed:     run.Failed,
		}

		switch {
		case errors.Is(err, reconciler.ErrSyncInFlight):
			resp.Error = err.Error()
			status = http.StatusConflict // a scheduled sync of the same kind is running
		case err != nil:
			resp.Error = err.Error()
			if status == http.StatusOK {
				status = http.StatusBadGateway
			}
		}

		responses = append(responses, resp)
	}

	w.WriteHeader(status)

	// Headers are already sent, an encoding failure can only be logged
	if err := json.NewEncoder(w).Encode(responses); err != nil {
		logger.WithError(err).Warn("writing sync response")
	}
}
