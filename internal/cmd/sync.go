package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/helvethink/dora-exporter/pkg/config"
	"github.com/helvethink/dora-exporter/pkg/controller"
	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// Output formats of the one-shot commands.
const (
	outputYAML = "yaml"
	outputJSON = "json"
)

type syncResult struct {
	Source     string    `json:"source" yaml:"source"`
	Kind       string    `json:"kind" yaml:"kind"`
	Since      time.Time `json:"since" yaml:"since"`
	Until      time.Time `json:"until" yaml:"until"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Fetched    int       `json:"fetched" yaml:"fetched"`
	Upserted   int       `json:"upserted" yaml:"upserted"`
	Failed     int       `json:"failed" yaml:"failed"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

func newSyncResult(run schemas.SyncRun) syncResult {
	r := syncResult{
		Source:     run.Source,
		Kind:       string(run.Kind),
		Since:      run.Since,
		Until:      run.Until,
		FinishedAt: run.FinishedAt,
		Fetched:    run.Fetched,
		Upserted:   run.Upserted,
		Failed:     run.Failed,
	}

	if run.Err != nil {
		r.Error = run.Err.Error()
	}

	return r
}

// Sync reconciles every configured source once, prints the outcome and exits.
func Sync(cliCtx *cli.Context) (int, error) {
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	c, err := newOneShotController(ctx, cfg, cliCtx.App.Version)
	if err != nil {
		return 1, err
	}
	defer c.Close()

	runs, err := syncAll(ctx, &c)

	results := make([]syncResult, 0, len(runs))
	for _, run := range runs {
		results = append(results, newSyncResult(run))
	}

	if werr := write(cliCtx.App.Writer, cliCtx.String("output"), results); werr != nil {
		return 1, werr
	}

	if err != nil {
		return 1, err
	}

	return 0, nil
}

// newOneShotController builds a controller whose sources are only synced on demand.
func newOneShotController(ctx context.Context, cfg config.Config, version string) (controller.Controller, error) {
	cfg.Deployments.OnInit, cfg.Deployments.Scheduled = false, false
	cfg.Incidents.OnInit, cfg.Incidents.Scheduled = false, false

	return controller.New(ctx, cfg, version)
}

// syncAll runs a sync of every pipeline concurrently. The returned runs follow the order of the pipelines,
// the error is the first one encountered.
func syncAll(ctx context.Context, c *controller.Controller) ([]schemas.SyncRun, error) {
	runs := make([]schemas.SyncRun, len(c.Pipelines))

	g := new(errgroup.Group)
	for i, p := range c.Pipelines {
		g.Go(func() (err error) {
			runs[i], err = c.TriggerSync(ctx, p.Kind())
			if err != nil {
				log.WithContext(ctx).
					WithFields(runs[i].Log()).
					WithError(err).
					Warn("sync failed")
			}

			return
		})
	}

	return runs, g.Wait()
}

func write(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case outputYAML, "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return err
		}

		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format '%s', must be %s or %s", format, outputYAML, outputJSON)
	}
}
