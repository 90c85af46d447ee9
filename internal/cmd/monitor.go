package cmd

import (
	"github.com/urfave/cli/v2"

	monitorUI "github.com/helvethink/dora-exporter/pkg/monitor/ui"
)

// Monitor starts the internal monitoring UI.
func Monitor(ctx *cli.Context) (int, error) {
	cfg, err := parseGlobalFlags(ctx)
	if err != nil {
		return 1, err
	}

	if err = monitorUI.Start(
		ctx.App.Version,
		cfg.InternalMonitoringListenerAddress,
	); err != nil {
		return 1, err
	}

	return 0, nil
}
