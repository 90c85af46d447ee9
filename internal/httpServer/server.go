package httpServer

import (
	"context"
	"html/template"
	"net/http"
	"net/http/pprof"

	"github.com/helvethink/dora-exporter/pkg/controller"
)

const (
	rootTemplate string = `
	<!DOCTYPE html>
	<head><title>DORA Exporter</title></head>
	<body>
		<h1>DORA Exporter</h1>
		{{- if .MetricsEnabled }}
		<p>Metrics at: <a href='/metrics'>/metrics</a></p>
		{{- end }}
		<p>Health at: <a href='/health/live'>/health/live</a> and <a href='/health/ready'>/health/ready</a></p>
		{{- if .SyncEnabled }}
		<p>Sync trigger at: POST /sync</p>
		{{- end }}
		<p>Source: <a href='https://github.com/helvethink/dora-exporter'>github.com/helvethink/dora-exporter</a></p>
	</body>
	</html>`
)

type rootPage struct {
	MetricsEnabled bool
	SyncEnabled    bool
}

// NewServer builds the HTTP server of the exporter: the landing page, the health endpoints and,
// depending on the configuration, the metrics, sync trigger and pprof endpoints.
func NewServer(ctx context.Context, c *controller.Controller) *http.Server {
	cfg := c.Config.Server
	t := template.Must(template.New("root").Parse(rootTemplate))

	mux := http.NewServeMux()

	health := c.HealthCheckHandler(ctx)
	mux.HandleFunc("/health/live", health.LiveEndpoint)
	mux.HandleFunc("/health/ready", health.ReadyEndpoint)

	if cfg.Metrics.Enabled {
		mux.HandleFunc("/metrics", c.MetricsHandler)
	}

	if cfg.SyncTrigger.Enabled {
		mux.HandleFunc("/sync", c.SyncHandler)
	}

	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	// Root Page Handler
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}

		err := t.Execute(w, rootPage{
			MetricsEnabled: cfg.Metrics.Enabled,
			SyncEnabled:    cfg.SyncTrigger.Enabled,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	return &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: mux,
	}
}
