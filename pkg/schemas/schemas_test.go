package schemas

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeploymentStatusFromConclusion(t *testing.T) {
	for raw, expected := range map[string]DeploymentStatus{
		"":            DeploymentStatusSuccess,
		"success":     DeploymentStatusSuccess,
		"SUCCESS":     DeploymentStatusSuccess,
		"running":     DeploymentStatusSuccess,
		"in_progress": DeploymentStatusSuccess,
		"failure":     DeploymentStatusFailure,
		"failed":      DeploymentStatusFailure,
		"timed_out":   DeploymentStatusFailure,
		"cancelled":   DeploymentStatusCancelled,
		"canceled":    DeploymentStatusCancelled,
		"skipped":     DeploymentStatusCancelled,
		"neutral":     DeploymentStatusFailure,
	} {
		assert.Equal(t, expected, DeploymentStatusFromConclusion(raw), raw)
	}
}

func TestIncidentStatusFromRaw(t *testing.T) {
	for raw, expected := range map[string]IncidentStatus{
		"":             IncidentStatusTriggered,
		"triggered":    IncidentStatusTriggered,
		"Acknowledged": IncidentStatusAcknowledged,
		"resolved":     IncidentStatusResolved,
		"snoozed":      IncidentStatusUnknown,
	} {
		assert.Equal(t, expected, IncidentStatusFromRaw(raw), raw)
	}
}

func TestNewIncident(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	resolved := created.Add(95*time.Minute + 40*time.Second)

	i := NewIncident("pagerduty", IncidentEvent{
		StableID:   "PD1",
		StatusRaw:  "resolved",
		CreatedAt:  created,
		ResolvedAt: &resolved,
	})

	assert.Equal(t, IncidentKey("PD1"), i.Key())
	assert.Equal(t, time.UTC, i.CreatedAt.Location())
	assert.True(t, i.IsResolved())

	minutes, ok := i.RecoveryMinutes()
	assert.True(t, ok)
	assert.Equal(t, int64(95), minutes)

	before := created.Add(-time.Hour)
	i = NewIncident("pagerduty", IncidentEvent{StableID: "PD2", CreatedAt: created, ResolvedAt: &before})
	assert.False(t, i.IsResolved())

	_, ok = i.RecoveryMinutes()
	assert.False(t, ok)
}

func TestWindow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := Window{Start: start, End: start.Add(time.Hour)}

	assert.True(t, w.Contains(start))
	assert.True(t, w.Contains(start.Add(59*time.Minute)))
	assert.False(t, w.Contains(start.Add(time.Hour)))
	assert.False(t, w.Contains(start.Add(-time.Nanosecond)))
	assert.NoError(t, w.Validate())
	assert.Equal(t, time.Hour, w.Duration())

	assert.ErrorIs(t, Window{Start: start, End: start}.Validate(), ErrInvalidWindow)
}

func TestSyncRun(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, SyncRun{}.Succeeded())
	assert.Equal(t, time.Duration(0), SyncRun{StartedAt: started}.Duration())

	run := SyncRun{StartedAt: started, FinishedAt: started.Add(2 * time.Second), Failed: 3}
	assert.True(t, run.Succeeded())
	assert.Equal(t, 2*time.Second, run.Duration())
	assert.Equal(t, TaskTypePullIncidents, SourceKindIncidents.TaskType())
	assert.Equal(t, TaskTypePullDeployments, SourceKindDeployments.TaskType())
}
