// Package sources pulls deployments and incidents from upstream providers and normalizes them.
package sources

import (
	"context"
	"time"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// DeploymentSource fetches deployments (CI/CD runs) from an upstream provider.
type DeploymentSource interface {
	// Name identifies the source in logs, metrics and stored records.
	Name() string

	// FetchDeployments returns every deployment observed upstream between since and until,
	// following pagination. Failures are returned as a *FetchError.
	FetchDeployments(ctx context.Context, since, until time.Time) ([]schemas.DeploymentEvent, error)

	// HealthCheck reports whether the upstream provider is reachable with the configured credentials.
	HealthCheck(ctx context.Context) bool
}

// IncidentSource fetches incidents from an upstream on-call provider.
type IncidentSource interface {
	Name() string
	FetchIncidents(ctx context.Context, since, until time.Time) ([]schemas.IncidentEvent, error)
	HealthCheck(ctx context.Context) bool
}

// Provider names.
const (
	ProviderGitHub    = "github"
	ProviderGitLab    = "gitlab"
	ProviderPagerDuty = "pagerduty"
)
