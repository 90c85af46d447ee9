package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

func TestTaskSchedulingMonitoring(t *testing.T) {
	m := NewTaskSchedulingMonitoring()

	_, ok := m.Get(schemas.TaskTypePullIncidents)
	assert.False(t, ok)

	last := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	m.SetLast(schemas.TaskTypePullIncidents, last)
	m.SetNext(schemas.TaskTypePullIncidents, last.Add(time.Minute))

	s, ok := m.Get(schemas.TaskTypePullIncidents)
	require.True(t, ok)
	assert.Equal(t, TaskSchedulingStatus{Last: last, Next: last.Add(time.Minute)}, s)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(1, 0))
	assert.Equal(t, 0.0, Ratio(0, 10))
	assert.Equal(t, 0.5, Ratio(5, 10))
	assert.Equal(t, 1.0, Ratio(50, 10))
}

func TestTelemetryWireFormat(t *testing.T) {
	in := Telemetry{
		Deployments:        12,
		Incidents:          3,
		TasksBufferUsage:   0.25,
		TasksExecutedCount: 7,
		Sources: []SourceTelemetry{{
			Name:          "pagerduty",
			Kind:          "incidents",
			RequestsCount: 9,
			LastSync:      time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
			LastSyncError: "rate limited",
		}},
	}

	s, err := in.ToStruct()
	require.NoError(t, err)
	assert.Equal(t, 12.0, s.GetFields()["deployments"].GetNumberValue())

	out, err := TelemetryFromStruct(s)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
