package cmd

import (
	"fmt"
	stdlibLog "log"
	"net/url"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/go-logr/stdr"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otellogrus"
	"github.com/urfave/cli/v2"
	"github.com/vmihailenco/taskq/v4"

	logger "github.com/helvethink/dora-exporter/internal/logging"
	"github.com/helvethink/dora-exporter/pkg/config"
)

var start time.Time

// configure loads and validates configuration from CLI context, sets up logging, and prints scheduler settings.
// It returns a populated config object or an error.
func configure(ctx *cli.Context) (cfg config.Config, err error) {
	if t, ok := ctx.App.Metadata["startTime"].(time.Time); ok {
		start = t
	}

	assertStringVariableDefined(ctx, "config")

	cfg, err = config.ParseFile(ctx.String("config"))
	if err != nil {
		return
	}

	cfg.Global, err = parseGlobalFlags(ctx)
	if err != nil {
		return
	}

	if err = configCliOverrides(ctx, &cfg); err != nil {
		return
	}

	if err = cfg.Validate(); err != nil {
		return
	}

	if err = logger.Configure(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	}); err != nil {
		return
	}

	log.AddHook(otellogrus.NewHook(otellogrus.WithLevels(
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
		log.WarnLevel,
	)))

	taskq.SetLogger(stdr.New(stdlibLog.New(log.StandardLogger().WriterLevel(log.WarnLevel), "taskq", 0)))

	log.WithFields(
		log.Fields{
			"deployments-provider": providerOrNone(cfg.Deployments.Provider),
			"incidents-provider":   providerOrNone(cfg.Incidents.Provider),
			"rate-limit":           fmt.Sprintf("%drps", cfg.Limits.MaximumRequestsPerSecond),
			"event-store":          eventStore(cfg),
		},
	).Info("configured")

	if cfg.Deployments.Provider != "" {
		log.WithFields(cfg.Deployments.SchedulerConfig().Log()).Info("pull deployments")
	}

	if cfg.Incidents.Provider != "" {
		log.WithFields(cfg.Incidents.SchedulerConfig().Log()).Info("pull incidents")
	}

	return
}

func providerOrNone(p string) string {
	if p == "" {
		return "none"
	}

	return p
}

func eventStore(cfg config.Config) string {
	switch {
	case cfg.Database.DSN != "":
		return cfg.Database.Driver
	case cfg.Redis.URL != "":
		return "redis"
	default:
		return "local"
	}
}

// parseGlobalFlags parses global CLI flags into the Global config struct.
func parseGlobalFlags(ctx *cli.Context) (cfg config.Global, err error) {
	if listenerAddr := ctx.String("internal-monitoring-listener-address"); listenerAddr != "" {
		cfg.InternalMonitoringListenerAddress, err = url.Parse(listenerAddr)
	}
	return
}

// exit logs the execution time and error (if any), then returns a CLI exit code.
func exit(exitCode int, err error) cli.ExitCoder {
	defer log.WithFields(
		log.Fields{
			"execution-time": time.Since(start), // nolint: govet
		},
	).Debug("exited..")

	if err != nil {
		log.WithError(err).Error()
	}

	return cli.Exit("", exitCode)
}

// ExecWrapper gracefully logs and exits our `run` functions.
// It wraps a function returning (int, error) into a `cli.ActionFunc` compatible with urfave/cli.
func ExecWrapper(f func(ctx *cli.Context) (int, error)) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		return exit(f(ctx))
	}
}

// configCliOverrides overrides configuration fields with command-line flags if present.
// Flags left empty keep the value read from the configuration file.
func configCliOverrides(ctx *cli.Context, cfg *config.Config) error {
	var overrides config.Config

	overrides.Deployments.GitHub.Token = ctx.String("github-token")
	overrides.Deployments.GitLab.Token = ctx.String("gitlab-token")
	overrides.Incidents.PagerDuty.Token = ctx.String("pagerduty-token")
	overrides.Redis.URL = ctx.String("redis-url")
	overrides.Database.DSN = ctx.String("database-dsn")

	if cfg.Server.SyncTrigger.Enabled {
		overrides.Server.SyncTrigger.SecretToken = ctx.String("sync-secret-token")
	}

	return mergo.Merge(cfg, overrides, mergo.WithOverride)
}

// assertStringVariableDefined ensures a required string flag is set.
// If not, it prints help and exits the program.
func assertStringVariableDefined(ctx *cli.Context, k string) {
	if len(ctx.String(k)) == 0 {
		_ = cli.ShowAppHelp(ctx)

		log.Errorf("'--%s' must be set!", k)
		os.Exit(2)
	}
}
