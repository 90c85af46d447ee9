package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

const (
	githubDefaultURL = "https://api.github.com"
	githubPerPage    = 100
)

// GitHubConfig configures the GitHub Actions deployment source.
type GitHubConfig struct {
	ClientConfig

	Token      string
	Owner      string
	Repository string
}

// GitHubActions fetches workflow runs of a repository from the GitHub Actions API.
// Every workflow run is considered a deployment.
type GitHubActions struct {
	*Client

	owner      string
	repository string
}

type githubWorkflowRuns struct {
	TotalCount   int                 `json:"total_count"`
	WorkflowRuns []githubWorkflowRun `json:"workflow_runs"`
}

type githubWorkflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HeadSHA    string    `json:"head_sha"`
	Status     string    `json:"status"`
	Conclusion *string   `json:"conclusion"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Repository struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// NewGitHubActions creates a GitHub Actions deployment source.
func NewGitHubActions(cfg GitHubConfig) (*GitHubActions, error) {
	if cfg.URL == "" {
		cfg.URL = githubDefaultURL
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})

	c, err := NewClient(cfg.ClientConfig, func(rt http.RoundTripper) http.RoundTripper {
		return &oauth2.Transport{Source: ts, Base: rt}
	})
	if err != nil {
		return nil, err
	}

	return &GitHubActions{
		Client:     c,
		owner:      cfg.Owner,
		repository: cfg.Repository,
	}, nil
}

// Name implements DeploymentSource.
func (g *GitHubActions) Name() string {
	return ProviderGitHub
}

func (g *GitHubActions) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")

	return h
}

func (g *GitHubActions) runsPath() string {
	return fmt.Sprintf("/repos/%s/%s/actions/runs", url.PathEscape(g.owner), url.PathEscape(g.repository))
}

// FetchDeployments implements DeploymentSource. Runs are filtered on their creation instant.
func (g *GitHubActions) FetchDeployments(ctx context.Context, since, until time.Time) ([]schemas.DeploymentEvent, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "github:FetchDeployments")
	defer span.End()
	span.SetAttributes(attribute.String("repository", g.owner+"/"+g.repository))

	var (
		events []schemas.DeploymentEvent
		seen   int
	)

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("created", since.UTC().Format(time.RFC3339)+".."+until.UTC().Format(time.RFC3339))
		q.Set("per_page", strconv.Itoa(githubPerPage))
		q.Set("page", strconv.Itoa(page))

		log.WithContext(ctx).
			WithFields(log.Fields{
				"repository": g.owner + "/" + g.repository,
				"page":       page,
			}).
			Trace("listing workflow runs")

		runs := githubWorkflowRuns{}
		if err := g.getJSON(ctx, g.Name(), g.runsPath(), q, g.header(), &runs); err != nil {
			return nil, err
		}

		for _, run := range runs.WorkflowRuns {
			events = append(events, g.normalize(run))
		}

		seen += len(runs.WorkflowRuns)
		if len(runs.WorkflowRuns) < githubPerPage || seen >= runs.TotalCount {
			break
		}
	}

	return events, nil
}

func (g *GitHubActions) normalize(run githubWorkflowRun) schemas.DeploymentEvent {
	conclusion := ""
	if run.Conclusion != nil {
		conclusion = *run.Conclusion
	}

	app := run.Repository.Name
	if app == "" {
		app = g.repository
	}

	repo := run.Repository.FullName
	if repo == "" {
		repo = g.owner + "/" + g.repository
	}

	return schemas.DeploymentEvent{
		StableID:      "gh-" + strconv.FormatInt(run.ID, 10),
		Timestamp:     run.CreatedAt,
		StatusRaw:     conclusion,
		AppName:       app,
		Version:       run.HeadSHA,
		RepoName:      repo,
		WorkflowName:  run.Name,
		WorkflowRunID: run.ID,
	}
}

// HealthCheck implements DeploymentSource by listing a single workflow run.
func (g *GitHubActions) HealthCheck(ctx context.Context) bool {
	q := url.Values{}
	q.Set("per_page", "1")

	if err := g.getJSON(ctx, g.Name(), g.runsPath(), q, g.header(), nil); err != nil {
		log.WithContext(ctx).WithError(err).Warn("github health check failed")
		return false
	}

	return true
}
