package sources

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
	goGitlab "gitlab.com/gitlab-org/api/client-go"
	"go.openly.dev/pointy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

const (
	gitlabDefaultURL = "https://gitlab.com"
	gitlabPerPage    = 100
)

// GitLabConfig configures the GitLab pipelines deployment source.
type GitLabConfig struct {
	ClientConfig

	Token   string
	Project string // Path with namespace, or numeric ID, of the project whose pipelines are deployments
}

// GitLabPipelines fetches the pipelines of a project from the GitLab API.
// Every pipeline is considered a deployment.
type GitLabPipelines struct {
	*Client

	gitlab  *goGitlab.Client
	project string
}

// NewGitLabPipelines creates a GitLab pipelines deployment source.
func NewGitLabPipelines(cfg GitLabConfig) (*GitLabPipelines, error) {
	if cfg.URL == "" {
		cfg.URL = gitlabDefaultURL
	}

	c, err := NewClient(cfg.ClientConfig, nil)
	if err != nil {
		return nil, err
	}

	// Retries are left to the next reconciliation tick
	gc, err := goGitlab.NewOAuthClient(
		cfg.Token,
		goGitlab.WithHTTPClient(c.HTTPClient),
		goGitlab.WithBaseURL(cfg.URL),
		goGitlab.WithoutRetries(),
	)
	if err != nil {
		return nil, err
	}

	gc.UserAgent = c.UserAgent

	return &GitLabPipelines{
		Client:  c,
		gitlab:  gc,
		project: cfg.Project,
	}, nil
}

// Name implements DeploymentSource.
func (g *GitLabPipelines) Name() string {
	return ProviderGitLab
}

// FetchDeployments implements DeploymentSource. Pipelines are selected on their last update so that
// pipelines which finished within the window refresh the status recorded by an earlier sync.
func (g *GitLabPipelines) FetchDeployments(ctx context.Context, since, until time.Time) ([]schemas.DeploymentEvent, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "gitlab:FetchDeployments")
	defer span.End()
	span.SetAttributes(attribute.String("project_name", g.project))

	options := &goGitlab.ListProjectPipelinesOptions{
		ListOptions: goGitlab.ListOptions{
			Page:    1,
			PerPage: gitlabPerPage,
		},
		UpdatedAfter:  goGitlab.Ptr(since.UTC()),
		UpdatedBefore: goGitlab.Ptr(until.UTC()),
		OrderBy:       pointy.String("updated_at"),
		Sort:          pointy.String("desc"),
	}

	var events []schemas.DeploymentEvent

	for {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"project-name": g.project,
				"page":         options.Page,
			}).
			Trace("listing project pipelines")

		pipelines, resp, err := g.gitlab.Pipelines.ListProjectPipelines(g.project, options, goGitlab.WithContext(ctx))
		if err != nil {
			return nil, g.fetchError(resp, err)
		}

		for _, p := range pipelines {
			if p == nil {
				continue
			}

			events = append(events, g.normalize(*p))
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}

		options.Page = resp.NextPage
	}

	return events, nil
}

func (g *GitLabPipelines) normalize(p goGitlab.PipelineInfo) schemas.DeploymentEvent {
	var ts time.Time

	switch {
	case p.CreatedAt != nil:
		ts = *p.CreatedAt
	case p.UpdatedAt != nil:
		ts = *p.UpdatedAt
	}

	return schemas.DeploymentEvent{
		StableID:      fmt.Sprintf("gl-%d-%d", p.ProjectID, p.ID),
		Timestamp:     ts,
		StatusRaw:     p.Status,
		AppName:       path.Base(g.project),
		Version:       p.SHA,
		RepoName:      g.project,
		WorkflowName:  p.Ref,
		WorkflowRunID: int64(p.ID),
	}
}

func (g *GitLabPipelines) fetchError(resp *goGitlab.Response, err error) error {
	if resp != nil && resp.Response != nil && resp.StatusCode != http.StatusOK {
		return newStatusError(g.Name(), resp.StatusCode, err)
	}

	return newNetworkError(g.Name(), err)
}

// HealthCheck implements DeploymentSource by reading the configured project.
func (g *GitLabPipelines) HealthCheck(ctx context.Context) bool {
	if _, _, err := g.gitlab.Projects.GetProject(g.project, nil, goGitlab.WithContext(ctx)); err != nil {
		log.WithContext(ctx).WithError(err).Warn("gitlab health check failed")
		return false
	}

	return true
}
