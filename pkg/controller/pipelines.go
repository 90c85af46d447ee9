package controller

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/dora-exporter/pkg/config"
	"github.com/helvethink/dora-exporter/pkg/ratelimit"
	"github.com/helvethink/dora-exporter/pkg/reconciler"
	"github.com/helvethink/dora-exporter/pkg/schemas"
	"github.com/helvethink/dora-exporter/pkg/sources"
)

// Source is what the controller needs from a source adapter besides fetching events.
type Source interface {
	Usage() sources.Usage
	HealthCheck(ctx context.Context) bool
}

// Pipeline ties a source adapter to the reconciler keeping the store in sync with it.
type Pipeline struct {
	reconciler.Syncer

	Source   Source
	Schedule config.Schedule
}

// Usage returns the request accounting of the underlying source.
func (p Pipeline) Usage() sources.Usage {
	return p.Source.Usage()
}

// Pipeline returns the pipeline reconciling the given kind of events.
func (c *Controller) Pipeline(kind schemas.SourceKind) (Pipeline, bool) {
	for _, p := range c.Pipelines {
		if p.Kind() == kind {
			return p, true
		}
	}

	return Pipeline{}, false
}

// newLimiter returns the limiter pacing the requests sent to one upstream API. It is shared through
// Redis by every exporter instance when Redis is configured.
func (c *Controller) newLimiter(key string) ratelimit.Limiter {
	if c.Redis != nil {
		return ratelimit.NewRedisLimiter(c.Redis, key, c.Config.Limits.MaximumRequestsPerSecond)
	}

	return ratelimit.NewLocalLimiter(c.Config.Limits.MaximumRequestsPerSecond, c.Config.Limits.BurstableRequestsPerSecond)
}

func (c *Controller) clientConfig(key, url string, enableTLSVerify bool, s config.Schedule, version string) sources.ClientConfig {
	return sources.ClientConfig{
		URL:              url,
		DisableTLSVerify: !enableTLSVerify,
		Timeout:          s.Timeout(),
		RateLimiter:      c.newLimiter(key),
		UserAgentVersion: version,
	}
}

// configureSources builds a pipeline for every configured provider.
func (c *Controller) configureSources(cfg config.Config, version string) error {
	c.Pipelines = nil

	if d := cfg.Deployments; d.Provider != "" {
		src, err := c.newDeploymentSource(d, version)
		if err != nil {
			return err
		}

		c.Pipelines = append(c.Pipelines, Pipeline{
			Syncer:   reconciler.NewDeployments(src, c.Store, reconciler.Options{Lookback: d.Lookback()}),
			Source:   src,
			Schedule: d.Schedule,
		})
	}

	if i := cfg.Incidents; i.Provider != "" {
		src, err := c.newIncidentSource(i, version)
		if err != nil {
			return err
		}

		c.Pipelines = append(c.Pipelines, Pipeline{
			Syncer:   reconciler.NewIncidents(src, c.Store, reconciler.Options{Lookback: i.Lookback()}),
			Source:   src,
			Schedule: i.Schedule,
		})
	}

	for _, p := range c.Pipelines {
		log.WithFields(log.Fields{
			"source": p.Name(),
			"kind":   p.Kind(),
		}).WithFields(p.Schedule.SchedulerConfig().Log()).Info("source configured")
	}

	return nil
}

type deploymentSource interface {
	sources.DeploymentSource
	Source
}

type incidentSource interface {
	sources.IncidentSource
	Source
}

func (c *Controller) newDeploymentSource(d config.Deployments, version string) (deploymentSource, error) {
	switch d.Provider {
	case config.ProviderGitHub:
		return sources.NewGitHubActions(sources.GitHubConfig{
			ClientConfig: c.clientConfig(sources.ProviderGitHub, d.GitHub.URL, d.GitHub.EnableTLSVerify, d.Schedule, version),
			Token:        d.GitHub.Token,
			Owner:        d.GitHub.Owner,
			Repository:   d.GitHub.Repository,
		})
	case config.ProviderGitLab:
		return sources.NewGitLabPipelines(sources.GitLabConfig{
			ClientConfig: c.clientConfig(sources.ProviderGitLab, d.GitLab.URL, d.GitLab.EnableTLSVerify, d.Schedule, version),
			Token:        d.GitLab.Token,
			Project:      d.GitLab.Project,
		})
	}

	return nil, fmt.Errorf("unsupported deployments provider '%s'", d.Provider)
}

func (c *Controller) newIncidentSource(i config.Incidents, version string) (incidentSource, error) {
	if i.Provider == config.ProviderPagerDuty {
		return sources.NewPagerDuty(sources.PagerDutyConfig{
			ClientConfig: c.clientConfig(sources.ProviderPagerDuty, i.PagerDuty.URL, true, i.Schedule, version),
			Token:        i.PagerDuty.Token,
			ServiceIDs:   i.PagerDuty.ServiceIDs,
		})
	}

	return nil, fmt.Errorf("unsupported incidents provider '%s'", i.Provider)
}

// TriggerSync runs a sync of the pipeline reconciling the given kind of events and waits for it.
// It returns reconciler.ErrSyncInFlight when a sync of that pipeline is already running.
func (c *Controller) TriggerSync(ctx context.Context, kind schemas.SourceKind) (schemas.SyncRun, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "controller:TriggerSync")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(kind)))

	p, ok := c.Pipeline(kind)
	if !ok {
		return schemas.SyncRun{Kind: kind}, fmt.Errorf("no source configured for %s", kind)
	}

	return p.Sync(ctx)
}
