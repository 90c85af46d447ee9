package controller

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/dora-exporter/internal/collectors"
	"github.com/helvethink/dora-exporter/pkg/store"
)

// Registry wraps a pointer to prometheus.Registry and manages metric collectors.
type Registry struct {
	*prometheus.Registry

	// InternalCollectors holds the metrics about the exporter itself.
	InternalCollectors struct {
		CurrentlyQueuedTasksCount prometheus.Collector
		ExecutedTasksCount        prometheus.Collector
		DeploymentsCount          prometheus.Collector
		IncidentsCount            prometheus.Collector
		APIRequestsCount          prometheus.Collector
		APIRequestsRemaining      prometheus.Collector
		APIRequestsLimit          prometheus.Collector
	}

	// Exporter computes the change failure rate and mean time to recovery on collection.
	Exporter *collectors.Exporter
}

// NewRegistry initializes and returns a new Registry instance with all the necessary collectors registered.
func NewRegistry(ctx context.Context, exporter *collectors.Exporter) *Registry {
	r := &Registry{
		Registry: prometheus.NewRegistry(),
		Exporter: exporter,
	}

	r.RegisterInternalCollectors()

	if err := r.RegisterCollectors(); err != nil {
		log.WithContext(ctx).
			Fatal(err)
	}

	return r
}

// RegisterInternalCollectors declares and registers the internal metrics to the Prometheus registry.
func (r *Registry) RegisterInternalCollectors() {
	r.InternalCollectors.CurrentlyQueuedTasksCount = NewInternalCollectorCurrentlyQueuedTasksCount()
	r.InternalCollectors.ExecutedTasksCount = NewInternalCollectorExecutedTasksCount()
	r.InternalCollectors.DeploymentsCount = NewInternalCollectorDeploymentsCount()
	r.InternalCollectors.IncidentsCount = NewInternalCollectorIncidentsCount()
	r.InternalCollectors.APIRequestsCount = NewInternalCollectorAPIRequestsCount()
	r.InternalCollectors.APIRequestsRemaining = NewInternalCollectorAPIRequestsRemaining()
	r.InternalCollectors.APIRequestsLimit = NewInternalCollectorAPIRequestsLimit()

	_ = r.Register(r.InternalCollectors.CurrentlyQueuedTasksCount)
	_ = r.Register(r.InternalCollectors.ExecutedTasksCount)
	_ = r.Register(r.InternalCollectors.DeploymentsCount)
	_ = r.Register(r.InternalCollectors.IncidentsCount)
	_ = r.Register(r.InternalCollectors.APIRequestsCount)
	_ = r.Register(r.InternalCollectors.APIRequestsRemaining)
	_ = r.Register(r.InternalCollectors.APIRequestsLimit)
}

// RegisterCollectors adds the DORA metrics exporter to the Prometheus registry.
func (r *Registry) RegisterCollectors() error {
	if r.Exporter == nil {
		return nil
	}

	if err := r.Register(r.Exporter); err != nil {
		return fmt.Errorf("could not add provided collector '%v' to the Prometheus registry: %v", r.Exporter, err)
	}

	return nil
}

// ExportInternalMetrics gathers internal statistics from the store and the pipelines,
// then sets the values of the corresponding internal collectors.
func (r *Registry) ExportInternalMetrics(ctx context.Context, pipelines []Pipeline, s store.Store) (err error) {
	var (
		currentlyQueuedTasks uint64
		executedTasksCount   uint64
		deploymentsCount     int64
		incidentsCount       int64
	)

	if currentlyQueuedTasks, err = s.CurrentlyQueuedTasksCount(ctx); err != nil {
		return
	}

	if executedTasksCount, err = s.ExecutedTasksCount(ctx); err != nil {
		return
	}

	if deploymentsCount, err = s.DeploymentsCount(ctx); err != nil {
		return
	}

	if incidentsCount, err = s.IncidentsCount(ctx); err != nil {
		return
	}

	r.InternalCollectors.CurrentlyQueuedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(currentlyQueuedTasks))
	r.InternalCollectors.ExecutedTasksCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(executedTasksCount))
	r.InternalCollectors.DeploymentsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(deploymentsCount))
	r.InternalCollectors.IncidentsCount.(*prometheus.GaugeVec).With(prometheus.Labels{}).Set(float64(incidentsCount))

	for _, p := range pipelines {
		usage := p.Usage()
		labels := prometheus.Labels{"source": p.Name()}

		r.InternalCollectors.APIRequestsCount.(*prometheus.GaugeVec).With(labels).Set(float64(usage.RequestsCount))
		r.InternalCollectors.APIRequestsRemaining.(*prometheus.GaugeVec).With(labels).Set(float64(usage.RequestsRemaining))
		r.InternalCollectors.APIRequestsLimit.(*prometheus.GaugeVec).With(labels).Set(float64(usage.RequestsLimit))
	}

	return
}
