package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

type dashboardView struct {
	Window struct {
		Label string    `json:"label" yaml:"label"`
		Start time.Time `json:"start" yaml:"start"`
		End   time.Time `json:"end" yaml:"end"`
	} `json:"window" yaml:"window"`

	ChangeFailureRate struct {
		Percentage       float64 `json:"percentage" yaml:"percentage"`
		TotalDeployments int64   `json:"total_deployments" yaml:"total_deployments"`
		TotalIncidents   int64   `json:"total_incidents" yaml:"total_incidents"`
	} `json:"change_failure_rate" yaml:"change_failure_rate"`

	MeanTimeToRecovery struct {
		MeanMinutes         float64 `json:"mean_minutes" yaml:"mean_minutes"`
		MeanHours           float64 `json:"mean_hours" yaml:"mean_hours"`
		TotalIncidents      int64   `json:"total_incidents" yaml:"total_incidents"`
		ResolvedIncidents   int64   `json:"resolved_incidents" yaml:"resolved_incidents"`
		UnresolvedIncidents int64   `json:"unresolved_incidents" yaml:"unresolved_incidents"`
	} `json:"mean_time_to_recovery" yaml:"mean_time_to_recovery"`

	Summary struct {
		TimeRange         string `json:"time_range" yaml:"time_range"`
		TotalDeployments  int64  `json:"total_deployments" yaml:"total_deployments"`
		TotalIncidents    int64  `json:"total_incidents" yaml:"total_incidents"`
		ResolvedIncidents int64  `json:"resolved_incidents" yaml:"resolved_incidents"`
	} `json:"summary" yaml:"summary"`

	ComputedAt time.Time `json:"computed_at" yaml:"computed_at"`
}

func newDashboardView(d schemas.Dashboard) (v dashboardView) {
	v.Window.Label = d.Window.Label
	v.Window.Start = d.Window.Start
	v.Window.End = d.Window.End

	v.ChangeFailureRate.Percentage = d.ChangeFailureRate.Percentage
	v.ChangeFailureRate.TotalDeployments = d.ChangeFailureRate.TotalDeployments
	v.ChangeFailureRate.TotalIncidents = d.ChangeFailureRate.TotalIncidents

	v.MeanTimeToRecovery.MeanMinutes = d.MeanTimeToRecovery.MeanMinutes
	v.MeanTimeToRecovery.MeanHours = d.MeanTimeToRecovery.MeanHours
	v.MeanTimeToRecovery.TotalIncidents = d.MeanTimeToRecovery.TotalIncidents
	v.MeanTimeToRecovery.ResolvedIncidents = d.MeanTimeToRecovery.ResolvedIncidents
	v.MeanTimeToRecovery.UnresolvedIncidents = d.MeanTimeToRecovery.UnresolvedIncidents

	v.Summary.TimeRange = d.Summary.TimeRange
	v.Summary.TotalDeployments = d.Summary.TotalDeployments
	v.Summary.TotalIncidents = d.Summary.TotalIncidents
	v.Summary.ResolvedIncidents = d.Summary.ResolvedIncidents

	v.ComputedAt = d.ChangeFailureRate.ComputedAt

	return
}

// parseBound parses an optional RFC 3339 window bound.
func parseBound(ctx *cli.Context, name string) (*time.Time, error) {
	raw := ctx.String(name)
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value '%s', expected an RFC 3339 timestamp: %w", name, raw, err)
	}

	return &t, nil
}

// Compute prints the change failure rate and mean time to recovery over a window.
// The configured sources are synced beforehand unless --sync=false is passed.
func Compute(cliCtx *cli.Context) (int, error) {
	cfg, err := configure(cliCtx)
	if err != nil {
		return 1, err
	}

	start, err := parseBound(cliCtx, "start")
	if err != nil {
		return 1, err
	}

	end, err := parseBound(cliCtx, "end")
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

	w, err := c.Engine.ResolveWindow(cliCtx.String("window"), start, end)
	if err != nil {
		return 1, err
	}

	if cliCtx.Bool("sync") {
		if _, err = syncAll(ctx, &c); err != nil {
			return 1, err
		}
	}

	d, err := c.Engine.Dashboard(ctx, w)
	if err != nil {
		return 1, err
	}

	if err = write(cliCtx.App.Writer, cliCtx.String("output"), newDashboardView(d)); err != nil {
		return 1, err
	}

	return 0, nil
}
