package collectors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helvethink/dora-exporter/pkg/dora"
	"github.com/helvethink/dora-exporter/pkg/schemas"
	"github.com/helvethink/dora-exporter/pkg/store"
)

var refTime = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakePipeline struct {
	run schemas.SyncRun
}

func (f fakePipeline) Name() string             { return "pagerduty" }
func (f fakePipeline) Kind() schemas.SourceKind { return schemas.SourceKindIncidents }
func (f fakePipeline) LastRun() schemas.SyncRun { return f.run }

func newTestEngine(t *testing.T) *dora.Engine {
	ctx := context.Background()
	s := store.NewLocalStore()

	for i := 0; i < 4; i++ {
		require.NoError(t, s.UpsertDeployment(ctx, schemas.Deployment{
			ID:        "gh-" + string(rune('a'+i)),
			Timestamp: refTime.Add(-time.Duration(i+1) * time.Hour),
			Status:    schemas.DeploymentStatusSuccess,
		}))
	}

	resolvedAt := refTime.Add(-time.Hour)
	require.NoError(t, s.UpsertIncident(ctx, schemas.Incident{
		ID:         "PD1",
		CreatedAt:  refTime.Add(-3 * time.Hour),
		ResolvedAt: &resolvedAt,
	}))

	return dora.NewEngine(s, func() time.Time { return refTime })
}

func TestExporterCollectsEveryWindow(t *testing.T) {
	e := NewExporter(context.Background(), newTestEngine(t), nil, &Settings{Windows: []string{"7d", "30d"}})

	expected := `
# HELP dora_change_failure_rate_percent Incidents created for every hundred deployments over the window
# TYPE dora_change_failure_rate_percent gauge
dora_change_failure_rate_percent{window="30d"} 25
dora_change_failure_rate_percent{window="7d"} 25
# HELP dora_mttr_minutes Mean time to recovery of the incidents created over the window, in minutes
# TYPE dora_mttr_minutes gauge
dora_mttr_minutes{window="30d"} 120
dora_mttr_minutes{window="7d"} 120
`

	assert.NoError(t, testutil.CollectAndCompare(e, strings.NewReader(expected),
		"dora_change_failure_rate_percent",
		"dora_mttr_minutes",
	))
}

func TestExporterCollectsLastRuns(t *testing.T) {
	pipelines := []Pipeline{
		fakePipeline{run: schemas.SyncRun{
			StartedAt:  refTime.Add(-time.Second),
			FinishedAt: refTime,
			Upserted:   5,
			Failed:     2,
		}},
	}

	e := NewExporter(context.Background(), newTestEngine(t), pipelines, &Settings{})

	expected := `
# HELP dora_sync_events_failed Number of events the last sync of the source could not store
# TYPE dora_sync_events_failed gauge
dora_sync_events_failed{kind="incidents",source="pagerduty"} 2
# HELP dora_sync_events_upserted Number of events stored by the last sync of the source
# TYPE dora_sync_events_upserted gauge
dora_sync_events_upserted{kind="incidents",source="pagerduty"} 5
# HELP dora_sync_last_run_success Whether the last sync of the source succeeded
# TYPE dora_sync_last_run_success gauge
dora_sync_last_run_success{kind="incidents",source="pagerduty"} 1
`

	assert.NoError(t, testutil.CollectAndCompare(e, strings.NewReader(expected),
		"dora_sync_events_failed",
		"dora_sync_events_upserted",
		"dora_sync_last_run_success",
	))
}

func TestExporterSkipsPipelinesNeverSynced(t *testing.T) {
	e := NewExporter(context.Background(), newTestEngine(t), []Pipeline{fakePipeline{}}, &Settings{})

	assert.Equal(t, 0, testutil.CollectAndCount(e))
}

type brokenEngine struct{}

func (brokenEngine) ResolveWindow(string, *time.Time, *time.Time) (schemas.Window, error) {
	return schemas.Window{Start: refTime.Add(-time.Hour), End: refTime, Label: "7d"}, nil
}

func (brokenEngine) Dashboard(context.Context, schemas.Window) (schemas.Dashboard, error) {
	return schemas.Dashboard{}, errors.New("store unavailable")
}

func TestExporterSkipsFailingWindows(t *testing.T) {
	e := NewExporter(context.Background(), brokenEngine{}, nil, &Settings{Windows: []string{"7d"}})

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(e))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, mfs)
}
