package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/helvethink/dora-exporter/internal/httpServer"
	"github.com/helvethink/dora-exporter/pkg/controller"
	monitoringServer "github.com/helvethink/dora-exporter/pkg/monitor/server"
)

// Run launches the exporter.
func Run(cliCtx *cli.Context) (int, error) {
	// Load the configuration file, apply the flag overrides and validate the result
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	// Cancelled on shutdown, stopping the schedulers and the task queue consumers
	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	// Wire the event store, the source pipelines and the metrics engine
	c, err := controller.New(ctx, cfg, cliCtx.App.Version)
	if err != nil {
		return 1, err
	}
	defer c.Close() // releases the redis and database connections

	// Serve the telemetry consumed by the monitor command
	go func(c *controller.Controller) {
		srcs := make([]monitoringServer.Source, 0, len(c.Pipelines))
		for _, p := range c.Pipelines {
			srcs = append(srcs, p)
		}

		monitoringServer.NewServer(
			c.Config,
			c.Store,
			srcs,
			c.TaskController.TaskSchedulingMonitoring,
		).Serve(ctx)
	}(&c)

	// Listen for OS termination signals to shut down gracefully
	onShutdown := make(chan os.Signal, 1)
	signal.Notify(onShutdown, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)

	srv := httpServer.NewServer(ctx, &c)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Nothing left to serve the metrics
			log.WithContext(ctx).
				WithError(err).
				Fatal()
		}
	}()

	log.WithFields(
		log.Fields{
			"listen-address":               cfg.Server.ListenAddress,
			"pprof-endpoint-enabled":       cfg.Server.EnablePprof,
			"metrics-endpoint-enabled":     cfg.Server.Metrics.Enabled,
			"sync-endpoint-enabled":        cfg.Server.SyncTrigger.Enabled,
			"openmetrics-encoding-enabled": cfg.Server.Metrics.EnableOpenmetricsEncoding,
			"controller-uuid":              c.UUID,
		},
	).Info("http server started")

	// Block until a termination signal is received
	<-onShutdown

	log.Info("received signal, attempting to gracefully exit..")
	ctxCancel()

	// Give in-flight scrapes 5 seconds to complete before closing their connections
	httpServerContext, forceHTTPServerShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer forceHTTPServerShutdown()

	if err := srv.Shutdown(httpServerContext); err != nil {
		return 1, err
	}

	log.Info("stopped!")

	return 0, nil
}
