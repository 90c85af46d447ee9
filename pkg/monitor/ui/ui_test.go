package ui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/dora-exporter/pkg/monitor"
)

func newTestModel() *model {
	m := newModel("v1.2.3", nil)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 60})

	return m
}

func TestModelRendersTelemetry(t *testing.T) {
	m := newTestModel()
	assert.Contains(t, m.renderOverview(), "loading data..")

	m.Update(monitor.Telemetry{
		TasksExecutedCount: 12,
		Deployments:        42,
		Incidents:          7,
		Sources: []monitor.SourceTelemetry{
			{
				Name:              "github",
				Kind:              "deployments",
				LastSync:          time.Now().Add(-time.Minute),
				LastSyncSucceeded: true,
				LastSyncUpserted:  5,
			},
			{
				Name:          "pagerduty",
				Kind:          "incidents",
				LastSync:      time.Now().Add(-time.Minute),
				LastSyncError: "upstream answered 503",
			},
		},
	})

	overview := m.renderOverview()
	assert.Contains(t, overview, "Event store")
	assert.Contains(t, overview, "42")
	assert.Contains(t, overview, "12")

	sources := m.renderSources()
	assert.Contains(t, sources, "github (deployments)")
	assert.Contains(t, sources, "OK")
	assert.Contains(t, sources, "pagerduty (incidents)")
	assert.Contains(t, sources, "FAILED: upstream answered 503")
	assert.Contains(t, m.View(), "v1.2.3")
}

func TestModelNavigation(t *testing.T) {
	m := newTestModel()
	assert.Equal(t, paneOverview, panes[m.paneID])

	m.Update(tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, paneSources, panes[m.paneID])

	m.Update(tea.KeyMsg{Type: tea.KeyRight})
	m.Update(tea.KeyMsg{Type: tea.KeyRight})
	assert.Equal(t, paneOverview, panes[m.paneID])

	m.Update(tea.KeyMsg{Type: tea.KeyLeft})
	assert.Equal(t, paneConfig, panes[m.paneID])

	m.Update(configMsg("limits:\n  maximum_jobs_queue_size: 10\n"))
	assert.Contains(t, m.renderConfig(), "maximum_jobs_queue_size: 10")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModelReportsErrors(t *testing.T) {
	m := newTestModel()
	m.Update(errMsg{errors.New("connection refused")})

	assert.Contains(t, m.renderOverview(), "connection refused")
	assert.Contains(t, m.renderConfig(), "connection refused")
}

func TestPrettyTimeago(t *testing.T) {
	assert.Equal(t, "N/A", prettyTimeago(time.Time{}))
	assert.NotEqual(t, "N/A", prettyTimeago(time.Now().Add(-time.Hour)))
}
