package collectors

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

const (
	namespace = "dora"
)

// Engine computes the metrics exported for every window.
type Engine interface {
	ResolveWindow(label string, start, end *time.Time) (schemas.Window, error)
	Dashboard(ctx context.Context, w schemas.Window) (schemas.Dashboard, error)
}

// Pipeline is a reconciled source whose last sync is exported.
type Pipeline interface {
	Name() string
	Kind() schemas.SourceKind
	LastRun() schemas.SyncRun
}

// Settings holds what the exporter exports.
type Settings struct {
	Windows []string // Window labels the metrics are computed over
}

type metrics struct {
	changeFailureRate   *prometheus.Desc
	deployments         *prometheus.Desc
	incidents           *prometheus.Desc
	incidentsResolved   *prometheus.Desc
	incidentsUnresolved *prometheus.Desc
	mttrMinutes         *prometheus.Desc
	mttrHours           *prometheus.Desc

	syncLastRunTimestamp *prometheus.Desc
	syncLastRunSuccess   *prometheus.Desc
	syncEventsUpserted   *prometheus.Desc
	syncEventsFailed     *prometheus.Desc
}

// Exporter computes the change failure rate and mean time to recovery on every scrape
// and exports the outcome of the last sync of every pipeline.
type Exporter struct {
	ctx       context.Context
	engine    Engine
	pipelines []Pipeline
	metrics   *metrics
	Settings  *Settings
}

// Describe Metrics function.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.metrics.changeFailureRate
	ch <- e.metrics.deployments
	ch <- e.metrics.incidents
	ch <- e.metrics.incidentsResolved
	ch <- e.metrics.incidentsUnresolved
	ch <- e.metrics.mttrMinutes
	ch <- e.metrics.mttrHours
	ch <- e.metrics.syncLastRunTimestamp
	ch <- e.metrics.syncLastRunSuccess
	ch <- e.metrics.syncEventsUpserted
	ch <- e.metrics.syncEventsFailed
}

// Collect implements prometheus.Collector.
// A window that cannot be computed is skipped and logged, the others are still exported.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	for _, label := range e.Settings.Windows {
		w, err := e.engine.ResolveWindow(label, nil, nil)
		if err != nil {
			log.WithContext(e.ctx).
				WithField("window", label).
				WithError(err).
				Warn("resolving window")

			continue
		}

		d, err := e.engine.Dashboard(e.ctx, w)
		if err != nil {
			log.WithContext(e.ctx).
				WithField("window", label).
				WithError(err).
				Warn("computing metrics")

			continue
		}

		e.collectDashboard(ch, w.Label, d)
	}

	for _, p := range e.pipelines {
		e.collectLastRun(ch, p)
	}
}

func (e *Exporter) collectDashboard(ch chan<- prometheus.Metric, window string, d schemas.Dashboard) {
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, window)
	}

	gauge(e.metrics.changeFailureRate, d.ChangeFailureRate.Percentage)
	gauge(e.metrics.deployments, float64(d.ChangeFailureRate.TotalDeployments))
	gauge(e.metrics.incidents, float64(d.ChangeFailureRate.TotalIncidents))
	gauge(e.metrics.incidentsResolved, float64(d.MeanTimeToRecovery.ResolvedIncidents))
	gauge(e.metrics.incidentsUnresolved, float64(d.MeanTimeToRecovery.UnresolvedIncidents))
	gauge(e.metrics.mttrMinutes, d.MeanTimeToRecovery.MeanMinutes)
	gauge(e.metrics.mttrHours, d.MeanTimeToRecovery.MeanHours)
}

func (e *Exporter) collectLastRun(ch chan<- prometheus.Metric, p Pipeline) {
	run := p.LastRun()

	// No sync completed yet
	if run.FinishedAt.IsZero() {
		return
	}

	labels := []string{p.Name(), string(p.Kind())}

	success := 0.0
	if run.Succeeded() {
		success = 1
	}

	ch <- prometheus.MustNewConstMetric(e.metrics.syncLastRunTimestamp, prometheus.GaugeValue, float64(run.FinishedAt.Unix()), labels...)
	ch <- prometheus.MustNewConstMetric(e.metrics.syncLastRunSuccess, prometheus.GaugeValue, success, labels...)
	ch <- prometheus.MustNewConstMetric(e.metrics.syncEventsUpserted, prometheus.GaugeValue, float64(run.Upserted), labels...)
	ch <- prometheus.MustNewConstMetric(e.metrics.syncEventsFailed, prometheus.GaugeValue, float64(run.Failed), labels...)
}

// NewMetrics Initializes the metrics.
func NewMetrics() *metrics {
	windowLabels := []string{"window"}
	syncLabels := []string{"source", "kind"}

	return &metrics{
		changeFailureRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "change_failure_rate_percent"),
			"Incidents created for every hundred deployments over the window",
			windowLabels, nil,
		),
		deployments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "deployments_total"),
			"Number of deployments over the window",
			windowLabels, nil,
		),
		incidents: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "incidents_total"),
			"Number of incidents created over the window",
			windowLabels, nil,
		),
		incidentsResolved: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "incidents_resolved"),
			"Number of incidents created over the window and since resolved",
			windowLabels, nil,
		),
		incidentsUnresolved: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "incidents_unresolved"),
			"Number of incidents created over the window and still unresolved",
			windowLabels, nil,
		),
		mttrMinutes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "mttr_minutes"),
			"Mean time to recovery of the incidents created over the window, in minutes",
			windowLabels, nil,
		),
		mttrHours: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "mttr_hours"),
			"Mean time to recovery of the incidents created over the window, in hours",
			windowLabels, nil,
		),
		syncLastRunTimestamp: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sync", "last_run_timestamp_seconds"),
			"Timestamp of the end of the last sync of the source",
			syncLabels, nil,
		),
		syncLastRunSuccess: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sync", "last_run_success"),
			"Whether the last sync of the source succeeded",
			syncLabels, nil,
		),
		syncEventsUpserted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sync", "events_upserted"),
			"Number of events stored by the last sync of the source",
			syncLabels, nil,
		),
		syncEventsFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "sync", "events_failed"),
			"Number of events the last sync of the source could not store",
			syncLabels, nil,
		),
	}
}

// NewExporter Initialize the exporter. ctx bounds the store queries run on collection.
func NewExporter(ctx context.Context, engine Engine, pipelines []Pipeline, settings *Settings) *Exporter {
	return &Exporter{
		ctx:       ctx,
		engine:    engine,
		pipelines: pipelines,
		metrics:   NewMetrics(),
		Settings:  settings,
	}
}
