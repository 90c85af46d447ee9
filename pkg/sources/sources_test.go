package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/dora-exporter/pkg/ratelimit"
	"github.com/helvethink/dora-exporter/pkg/schemas"
)

var (
	since = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	until = since.Add(24 * time.Hour)
)

func newGitHub(t *testing.T, url string) *GitHubActions {
	t.Helper()

	g, err := NewGitHubActions(GitHubConfig{
		ClientConfig: ClientConfig{
			URL:         url,
			Timeout:     5 * time.Second,
			RateLimiter: ratelimit.NewLocalLimiter(1000, 100),
		},
		Token:      "s3cr3t",
		Owner:      "acme",
		Repository: "api",
	})
	require.NoError(t, err)

	return g
}

func githubRun(id int, conclusion interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"name":       "deploy",
		"head_sha":   fmt.Sprintf("sha%d", id),
		"status":     "completed",
		"conclusion": conclusion,
		"created_at": since.Add(time.Duration(id) * time.Minute).Format(time.RFC3339),
		"updated_at": since.Add(time.Duration(id) * time.Minute).Format(time.RFC3339),
		"repository": map[string]string{"name": "api", "full_name": "acme/api"},
	}
}

func TestGitHubFetchDeploymentsPaginates(t *testing.T) {
	var pages []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/api/actions/runs", r.URL.Path)
		assert.Equal(t, "Bearer s3cr3t", r.Header.Get("Authorization"))
		assert.Equal(t, "2024-03-09T12:00:00Z..2024-03-10T12:00:00Z", r.URL.Query().Get("created"))
		assert.Equal(t, "100", r.URL.Query().Get("per_page"))

		page := r.URL.Query().Get("page")
		pages = append(pages, page)

		runs := []map[string]interface{}{}
		switch page {
		case "1":
			for i := 1; i <= 100; i++ {
				runs = append(runs, githubRun(i, "success"))
			}
		case "2":
			runs = append(runs, githubRun(101, nil), githubRun(102, "failure"))
		}

		w.Header().Set("X-RateLimit-Remaining", "4998")
		w.Header().Set("X-RateLimit-Limit", "5000")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"total_count": 102, "workflow_runs": runs})
	}))
	defer srv.Close()

	g := newGitHub(t, srv.URL)

	events, err := g.FetchDeployments(context.Background(), since, until)
	require.NoError(t, err)
	require.Len(t, events, 102)
	assert.Equal(t, []string{"1", "2"}, pages)

	assert.Equal(t, schemas.DeploymentEvent{
		StableID:      "gh-1",
		Timestamp:     since.Add(time.Minute),
		StatusRaw:     "success",
		AppName:       "api",
		Version:       "sha1",
		RepoName:      "acme/api",
		WorkflowName:  "deploy",
		WorkflowRunID: 1,
	}, events[0])
	assert.Equal(t, "", events[100].StatusRaw)
	assert.Equal(t, "failure", events[101].StatusRaw)

	usage := g.Usage()
	assert.Equal(t, uint64(2), usage.RequestsCount)
	assert.Equal(t, 5000, usage.RequestsLimit)
	assert.Equal(t, 4998, usage.RequestsRemaining)
}

func TestGitHubFetchDeploymentsFallsBackToConfiguredRepository(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		run := githubRun(7, "cancelled")
		run["repository"] = map[string]string{}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"total_count": 1, "workflow_runs": []interface{}{run}})
	}))
	defer srv.Close()

	events, err := newGitHub(t, srv.URL).FetchDeployments(context.Background(), since, until)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "api", events[0].AppName)
	assert.Equal(t, "acme/api", events[0].RepoName)
}

func TestFetchErrorKinds(t *testing.T) {
	for status, kind := range map[int]ErrorKind{
		http.StatusUnauthorized:        ErrorKindAuth,
		http.StatusForbidden:           ErrorKindAuth,
		http.StatusTooManyRequests:     ErrorKindRateLimit,
		http.StatusNotFound:            ErrorKindNotFound,
		http.StatusInternalServerError: ErrorKindUpstream,
	} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", status)
			}))
			defer srv.Close()

			events, err := newGitHub(t, srv.URL).FetchDeployments(context.Background(), since, until)
			assert.Nil(t, events)

			fe, ok := AsFetchError(err)
			require.True(t, ok)
			assert.Equal(t, kind, fe.Kind)
			assert.Equal(t, status, fe.StatusCode)
			assert.Equal(t, ProviderGitHub, fe.Source)
		})
	}
}

func TestFetchErrorOnFailingSecondPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}

		runs := []map[string]interface{}{}
		for i := 1; i <= 100; i++ {
			runs = append(runs, githubRun(i, "success"))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"total_count": 150, "workflow_runs": runs})
	}))
	defer srv.Close()

	events, err := newGitHub(t, srv.URL).FetchDeployments(context.Background(), since, until)
	assert.Nil(t, events)

	fe, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindUpstream, fe.Kind)
}

func TestFetchErrorNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newGitHub(t, url).FetchDeployments(context.Background(), since, until)

	fe, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindNetwork, fe.Kind)
	assert.Equal(t, 0, fe.StatusCode)
}

func TestGitHubHealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"total_count":0,"workflow_runs":[]}`))
	}))
	defer srv.Close()

	g := newGitHub(t, srv.URL)
	assert.True(t, g.HealthCheck(context.Background()))
	assert.NoError(t, ReadinessCheck(context.Background(), g.Name(), g.HealthCheck)())

	healthy.Store(false)
	assert.False(t, g.HealthCheck(context.Background()))
	assert.Error(t, ReadinessCheck(context.Background(), g.Name(), g.HealthCheck)())
}

func TestPagerDutyFetchIncidents(t *testing.T) {
	var offsets []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/incidents", r.URL.Path)
		assert.Equal(t, "Token token=pd-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.pagerduty+json;version=2", r.Header.Get("Accept"))
		assert.Equal(t, "2024-03-09T12:00:00Z", r.URL.Query().Get("since"))
		assert.Equal(t, "2024-03-10T12:00:00Z", r.URL.Query().Get("until"))
		assert.Equal(t, []string{"PSVC1"}, r.URL.Query()["service_ids[]"])

		offset := r.URL.Query().Get("offset")
		offsets = append(offsets, offset)

		switch offset {
		case "0":
			_, _ = w.Write([]byte(`{"more": true, "limit": 100, "offset": 0, "incidents": [
				{"id": "PD1", "title": "api down", "status": "resolved", "urgency": "high", "incident_key": "k1",
				 "created_at": "2024-03-09T13:00:00Z", "resolved_at": "2024-03-09T15:00:00Z",
				 "service": {"summary": "api"}},
				{"id": "PD2", "title": "db slow", "status": "acknowledged", "urgency": "low",
				 "created_at": "2024-03-09T14:00:00Z",
				 "acknowledgements": [{"at": "2024-03-09T14:05:00Z"}],
				 "service": {"summary": "db"}}
			]}`))
		default:
			_, _ = w.Write([]byte(`{"more": false, "limit": 100, "offset": 2, "incidents": [
				{"id": "PD3", "title": "queue stuck", "status": "resolved", "urgency": "high",
				 "created_at": "2024-03-09T16:00:00Z", "last_status_change_at": "2024-03-09T16:30:00Z",
				 "service": {"summary": "worker"}}
			]}`))
		}
	}))
	defer srv.Close()

	p, err := NewPagerDuty(PagerDutyConfig{
		ClientConfig: ClientConfig{URL: srv.URL},
		Token:        "pd-token",
		ServiceIDs:   []string{"PSVC1"},
	})
	require.NoError(t, err)

	events, err := p.FetchIncidents(context.Background(), since, until)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"0", "2"}, offsets)

	assert.Equal(t, "PD1", events[0].StableID)
	assert.Equal(t, "api", events[0].ServiceName)
	assert.Equal(t, "k1", events[0].IncidentKey)
	require.NotNil(t, events[0].ResolvedAt)
	assert.True(t, events[0].ResolvedAt.Equal(time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC)))

	assert.Nil(t, events[1].ResolvedAt)
	require.NotNil(t, events[1].AcknowledgedAt)
	assert.True(t, events[1].AcknowledgedAt.Equal(time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)))

	require.NotNil(t, events[2].ResolvedAt)
	assert.True(t, events[2].ResolvedAt.Equal(time.Date(2024, 3, 9, 16, 30, 0, 0, time.UTC)))
}

func TestGitLabFetchDeployments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/42/pipelines", r.URL.Path)
		assert.Equal(t, "updated_at", r.URL.Query().Get("order_by"))
		assert.NotEmpty(t, r.URL.Query().Get("updated_after"))

		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Query().Get("page") {
		case "1":
			w.Header().Set("X-Next-Page", "2")
			_, _ = w.Write([]byte(`[
				{"id": 1001, "project_id": 42, "status": "success", "ref": "main", "sha": "aaa",
				 "created_at": "2024-03-09T13:00:00Z", "updated_at": "2024-03-09T13:10:00Z"}
			]`))
		default:
			_, _ = w.Write([]byte(`[
				{"id": 1002, "project_id": 42, "status": "failed", "ref": "main", "sha": "bbb",
				 "created_at": "2024-03-09T14:00:00Z", "updated_at": "2024-03-09T14:10:00Z"}
			]`))
		}
	}))
	defer srv.Close()

	g, err := NewGitLabPipelines(GitLabConfig{
		ClientConfig: ClientConfig{URL: srv.URL},
		Token:        "gl-token",
		Project:      "42",
	})
	require.NoError(t, err)

	events, err := g.FetchDeployments(context.Background(), since, until)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "gl-42-1001", events[0].StableID)
	assert.Equal(t, "success", events[0].StatusRaw)
	assert.Equal(t, "main", events[0].WorkflowName)
	assert.Equal(t, "aaa", events[0].Version)
	assert.True(t, events[0].Timestamp.Equal(time.Date(2024, 3, 9, 13, 0, 0, 0, time.UTC)))

	assert.Equal(t, "gl-42-1002", events[1].StableID)
	assert.Equal(t, schemas.DeploymentStatusFailure, schemas.DeploymentStatusFromConclusion(events[1].StatusRaw))
}

func TestGitLabFetchDeploymentsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"401 Unauthorized"}`))
	}))
	defer srv.Close()

	g, err := NewGitLabPipelines(GitLabConfig{
		ClientConfig: ClientConfig{URL: srv.URL},
		Project:      "42",
	})
	require.NoError(t, err)

	_, err = g.FetchDeployments(context.Background(), since, until)

	fe, ok := AsFetchError(err)
	require.True(t, ok)
	assert.Equal(t, ErrorKindAuth, fe.Kind)
	assert.False(t, g.HealthCheck(context.Background()))
}
