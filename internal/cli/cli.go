package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/helvethink/dora-exporter/internal/cmd"
)

// Run handles the instanciation of the CLI application.
func Run(version string, args []string) {
	if err := NewApp(version, time.Now()).Run(args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// NewApp configures the CLI application.
func NewApp(version string, start time.Time) (app *cli.App) {
	app = cli.NewApp()
	app.Name = "dora-exporter"
	app.Version = version
	app.Usage = "Export DORA change failure rate and mean time to recovery metrics"
	app.EnableBashCompletion = true
	app.DefaultCommand = "run"

	app.Flags = cli.FlagsByName{
		&cli.StringFlag{
			Name:    "internal-monitoring-listener-address",
			Aliases: []string{"m"},
			EnvVars: []string{"DORA_EXPORTER_INTERNAL_MONITORING_LISTENER_ADDRESS"},
			Usage:   "internal monitoring listener address",
		},
	}

	app.Commands = cli.CommandsByName{
		{
			Name:   "run",
			Usage:  "start the exporter",
			Action: cmd.ExecWrapper(cmd.Run),
			Flags:  configFlags(),
		},
		{
			Name:   "validate",
			Usage:  "validate the configuration and exit",
			Action: cmd.ExecWrapper(cmd.Validate),
			Flags: append(configFlags(), &cli.BoolFlag{
				Name:  "print",
				Usage: "print the configuration, secrets masked",
			}),
		},
		{
			Name:   "sync",
			Usage:  "pull events from every configured source once and exit",
			Action: cmd.ExecWrapper(cmd.Sync),
			Flags:  append(configFlags(), outputFlag()),
		},
		{
			Name:   "compute",
			Usage:  "print the change failure rate and mean time to recovery over a window",
			Action: cmd.ExecWrapper(cmd.Compute),
			Flags: append(configFlags(),
				outputFlag(),
				&cli.StringFlag{
					Name:    "window",
					Aliases: []string{"w"},
					Usage:   "window `label`: 7d, 30d, 90d or custom",
					Value:   "7d",
				},
				&cli.StringFlag{
					Name:  "start",
					Usage: "RFC 3339 `timestamp` the custom window starts at",
				},
				&cli.StringFlag{
					Name:  "end",
					Usage: "RFC 3339 `timestamp` the custom window ends at",
				},
				&cli.BoolFlag{
					Name:  "sync",
					Usage: "pull events from the configured sources before computing",
					Value: true,
				},
			),
		},
		{
			Name:   "monitor",
			Usage:  "display error logs and statistics of a running exporter",
			Action: cmd.ExecWrapper(cmd.Monitor),
		},
	}

	app.Metadata = map[string]interface{}{
		"startTime": start,
	}

	return
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			EnvVars: []string{"DORA_EXPORTER_CONFIG"},
			Usage:   "config `file`",
			Value:   "./dora-exporter.yml",
		},
		&cli.StringFlag{
			Name:    "github-token",
			EnvVars: []string{"DORA_EXPORTER_GITHUB_TOKEN"},
			Usage:   "GitHub API access `token` (can be used to override the value set in the config file)",
		},
		&cli.StringFlag{
			Name:    "gitlab-token",
			EnvVars: []string{"DORA_EXPORTER_GITLAB_TOKEN"},
			Usage:   "GitLab API access `token` (can be used to override the value set in the config file)",
		},
		&cli.StringFlag{
			Name:    "pagerduty-token",
			EnvVars: []string{"DORA_EXPORTER_PAGERDUTY_TOKEN"},
			Usage:   "PagerDuty API access `token` (can be used to override the value set in the config file)",
		},
		&cli.StringFlag{
			Name:    "sync-secret-token",
			EnvVars: []string{"DORA_EXPORTER_SYNC_SECRET_TOKEN"},
			Usage:   "`token` used to authenticate sync trigger requests (can be used to override the value set in the config file)",
		},
		&cli.StringFlag{
			Name:    "redis-url",
			EnvVars: []string{"DORA_EXPORTER_REDIS_URL"},
			Usage:   "redis `url` for an HA setup (format: redis[s]://[:password@]host[:port][/db-number][?option=value]) (can be used to override the value set in the config file)",
		},
		&cli.StringFlag{
			Name:    "database-dsn",
			EnvVars: []string{"DORA_EXPORTER_DATABASE_DSN"},
			Usage:   "SQL event store `dsn` (can be used to override the value set in the config file)",
		},
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output `format`: yaml or json",
		Value:   "yaml",
	}
}
