package schemas

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// SourceKind tells which kind of events a source produces.
type SourceKind string

const (
	SourceKindDeployments SourceKind = "deployments"
	SourceKindIncidents   SourceKind = "incidents"
)

// TaskType returns the scheduler task type responsible for reconciling this kind of source.
func (k SourceKind) TaskType() TaskType {
	if k == SourceKindIncidents {
		return TaskTypePullIncidents
	}

	return TaskTypePullDeployments
}

// SyncRun is the outcome of a single reconciliation run of one source.
type SyncRun struct {
	Source     string
	Kind       SourceKind
	StartedAt  time.Time
	FinishedAt time.Time
	Since      time.Time
	Until      time.Time

	Fetched  int // Events returned by the source
	Upserted int // Events written to the store
	Failed   int // Events that could not be normalized or stored

	Err error // Set when the fetch itself failed
}

// Succeeded reports whether the run completed and its fetch did not fail.
// Per-event failures do not mark the whole run as failed.
func (r SyncRun) Succeeded() bool {
	return !r.FinishedAt.IsZero() && r.Err == nil
}

// Duration returns how long the run took.
func (r SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}

	return r.FinishedAt.Sub(r.StartedAt)
}

// Log returns a set of fields describing the run.
func (r SyncRun) Log() log.Fields {
	f := log.Fields{
		"source":   r.Source,
		"kind":     r.Kind,
		"since":    r.Since.Format(time.RFC3339),
		"until":    r.Until.Format(time.RFC3339),
		"fetched":  r.Fetched,
		"upserted": r.Upserted,
		"failed":   r.Failed,
		"duration": r.Duration().String(),
	}

	return f
}
