package controller

import "github.com/prometheus/client_golang/prometheus"

// sourceLabels identifies the upstream API an internal metric is about.
var sourceLabels = []string{"source"}

// NewInternalCollectorCurrentlyQueuedTasksCount returns a gauge tracking the number of queued tasks.
func NewInternalCollectorCurrentlyQueuedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dora_currently_queued_tasks_count",
			Help: "Number of tasks in the queue",
		},
		[]string{},
	)
}

// NewInternalCollectorExecutedTasksCount returns a gauge tracking the number of executed tasks.
func NewInternalCollectorExecutedTasksCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dora_executed_tasks_count",
			Help: "Number of tasks executed",
		},
		[]string{},
	)
}

// NewInternalCollectorDeploymentsCount returns a gauge tracking the number of deployments in the event store.
func NewInternalCollectorDeploymentsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dora_store_deployments",
			Help: "Number of deployments held in the event store",
		},
		[]string{},
	)
}

// NewInternalCollectorIncidentsCount returns a gauge tracking the number of incidents in the event store.
func NewInternalCollectorIncidentsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dora_store_incidents",
			Help: "Number of incidents held in the event store",
		},
		[]string{},
	)
}

// NewInternalCollectorAPIRequestsCount returns a gauge tracking the requests sent to every upstream API.
func NewInternalCollectorAPIRequestsCount() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dora_api_requests_count",
			Help: "Requests sent to the upstream API",
		},
		sourceLabels,
	)
}

// NewInternalCollectorAPIRequestsRemaining returns a gauge tracking the quota left on every upstream API.
func NewInternalCollectorAPIRequestsRemaining() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dora_api_requests_remaining",
			Help: "Requests left in the upstream API quota, as advertised by its last response",
		},
		sourceLabels,
	)
}

// NewInternalCollectorAPIRequestsLimit returns a gauge tracking the quota of every upstream API.
func NewInternalCollectorAPIRequestsLimit() prometheus.Collector {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dora_api_requests_limit",
			Help: "Upstream API quota, as advertised by its last response",
		},
		sourceLabels,
	)
}
