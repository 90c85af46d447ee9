package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
log:
  level: debug
database:
  driver: sqlite
  dsn: "file:dora.db"
deployments:
  provider: github
  interval_seconds: 60
  github:
    url: https://github.example.com/api/v3/
    token: ghp_secret
    owner: acme
    repository: shop
incidents:
  provider: pagerduty
  lookback_seconds: 3600
  pagerduty:
    token: pd_secret
    service_ids: [P1, P2]
`

func TestNewHasDefaults(t *testing.T) {
	c := New()

	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
	assert.Equal(t, ":8080", c.Server.ListenAddress)
	assert.True(t, c.Server.Metrics.Enabled)
	assert.Equal(t, []string{"7d", "30d", "90d"}, c.Server.Metrics.Windows)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, 5, c.Limits.MaximumRequestsPerSecond)
	assert.Equal(t, 1000, c.Limits.MaximumJobsQueueSize)
	assert.True(t, c.Deployments.OnInit)
	assert.Equal(t, 300, c.Deployments.IntervalSeconds)
	assert.Equal(t, 24*time.Hour, c.Deployments.Lookback())
	assert.Equal(t, 30*time.Second, c.Incidents.Timeout())
	assert.Equal(t, "https://api.github.com", c.Deployments.GitHub.URL)
	assert.Equal(t, "https://gitlab.com", c.Deployments.GitLab.URL)
	assert.Equal(t, "https://api.pagerduty.com", c.Incidents.PagerDuty.URL)
}

func TestParse(t *testing.T) {
	c, err := Parse(FormatYAML, []byte(validConfig))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "file:dora.db", c.Database.DSN)

	assert.Equal(t, ProviderGitHub, c.Deployments.Provider)
	assert.Equal(t, 60, c.Deployments.IntervalSeconds)
	assert.Equal(t, 86400, c.Deployments.LookbackSeconds)
	assert.Equal(t, "https://github.example.com/api/v3", c.Deployments.GitHub.URL)
	assert.True(t, c.Deployments.GitHub.EnableTLSVerify)

	assert.Equal(t, ProviderPagerDuty, c.Incidents.Provider)
	assert.Equal(t, time.Hour, c.Incidents.Lookback())
	assert.Equal(t, 300, c.Incidents.IntervalSeconds)
	assert.Equal(t, []string{"P1", "P2"}, c.Incidents.PagerDuty.ServiceIDs)
	assert.Equal(t, "https://api.pagerduty.com", c.Incidents.PagerDuty.URL)

	assert.True(t, c.HasProvider(ProviderGitHub))
	assert.False(t, c.HasProvider(ProviderGitLab))
}

func TestParseEmptyDocumentKeepsDefaults(t *testing.T) {
	c, err := Parse(FormatYAML, []byte(""))
	require.NoError(t, err)
	assert.Equal(t, New(), c)
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "dora.yml")
	require.NoError(t, os.WriteFile(path, []byte(validConfig), 0o600))

	c, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", c.Deployments.GitHub.Owner)

	_, err = ParseFile(filepath.Join(dir, "dora.toml"))
	assert.EqualError(t, err, "unsupported config type '.toml', expected .y(a)ml or .json")

	_, err = ParseFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseFileExpandsEnvironment(t *testing.T) {
	t.Setenv("DORA_TEST_PAGERDUTY_TOKEN", "pd_from_env")

	path := filepath.Join(t.TempDir(), "dora.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
incidents:
  provider: pagerduty
  pagerduty:
    token: ${DORA_TEST_PAGERDUTY_TOKEN}
`), 0o600))

	c, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pd_from_env", c.Incidents.PagerDuty.Token)
	assert.NoError(t, c.Validate())
}

func TestParseFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dora.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "deployments": {
    "provider": "gitlab",
    "gitlab": {"url": "https://gitlab.example.com/", "token": "glpat", "project": "acme/shop"}
  }
}`), 0o600))

	c, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderGitLab, c.Deployments.Provider)
	assert.Equal(t, "https://gitlab.example.com", c.Deployments.GitLab.URL)
	assert.Equal(t, 300, c.Deployments.IntervalSeconds)
}

func TestValidateRequiresAProvider(t *testing.T) {
	err := New().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at-least-1-provider")
}

func TestValidateProviderSettings(t *testing.T) {
	c := New()
	c.Deployments.Provider = ProviderGitHub
	c.Deployments.GitHub.Token = "ghp_secret"

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GitHub.Owner")
	assert.Contains(t, err.Error(), "GitHub.Repository")
	assert.NotContains(t, err.Error(), "GitHub.Token")

	c = New()
	c.Deployments.Provider = ProviderGitLab
	c.Deployments.GitLab.Token = "glpat"
	c.Deployments.GitLab.Project = "acme/shop"
	assert.NoError(t, c.Validate())

	c = New()
	c.Incidents.Provider = ProviderPagerDuty
	err = c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PagerDuty.Token")

	c.Incidents.Provider = "opsgenie"
	assert.Error(t, c.Validate())
}

func TestValidateSyncTriggerNeedsToken(t *testing.T) {
	c := New()
	c.Incidents.Provider = ProviderPagerDuty
	c.Incidents.PagerDuty.Token = "pd"
	require.NoError(t, c.Validate())

	c.Server.SyncTrigger.Enabled = true
	assert.Error(t, c.Validate())

	c.Server.SyncTrigger.SecretToken = "s3cr3t"
	assert.NoError(t, c.Validate())
}

func TestValidateWindows(t *testing.T) {
	c := New()
	c.Incidents.Provider = ProviderPagerDuty
	c.Incidents.PagerDuty.Token = "pd"

	c.Server.Metrics.Windows = []string{"7d", "custom"}
	assert.Error(t, c.Validate())

	c.Server.Metrics.Windows = []string{"7d", "7d"}
	assert.Error(t, c.Validate())
}

func TestToYAMLMasksSecrets(t *testing.T) {
	c, err := Parse(FormatYAML, []byte(validConfig))
	require.NoError(t, err)

	out := c.ToYAML()
	assert.NotContains(t, out, "ghp_secret")
	assert.NotContains(t, out, "pd_secret")
	assert.NotContains(t, out, "file:dora.db")
	assert.Contains(t, out, masked)
	assert.Contains(t, out, "repository: shop")
}

func TestSchedulerConfigLog(t *testing.T) {
	c := New()

	assert.Equal(t, map[string]interface{}{
		"on-init":   "yes",
		"scheduled": "every 300s",
	}, map[string]interface{}(c.Deployments.SchedulerConfig().Log()))

	c.Incidents.OnInit = false
	c.Incidents.Scheduled = false

	assert.Equal(t, "no", c.Incidents.SchedulerConfig().Log()["on-init"])
	assert.Equal(t, "no", c.Incidents.SchedulerConfig().Log()["scheduled"])
}
