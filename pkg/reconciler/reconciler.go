// Package reconciler keeps the event store consistent with an upstream source by repeatedly pulling a
// trailing window of events and upserting them.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/helvethink/dora-exporter/pkg/schemas"
	"github.com/helvethink/dora-exporter/pkg/sources"
	"github.com/helvethink/dora-exporter/pkg/store"
)

// ErrSyncInFlight is returned when a sync is requested while the previous one for the same source is still running.
var ErrSyncInFlight = errors.New("sync already in flight")

// DefaultLookback is how far back each sync looks when nothing else is configured.
const DefaultLookback = 24 * time.Hour

// Syncer is a reconciliation job for a single source.
type Syncer interface {
	Name() string
	Kind() schemas.SourceKind
	Sync(ctx context.Context) (schemas.SyncRun, error)
	LastRun() schemas.SyncRun
	InFlight() bool
}

// Options tunes a Reconciler.
type Options struct {
	Lookback time.Duration    // Length of the trailing window pulled on each sync
	Now      func() time.Time // Clock, defaults to time.Now
}

// Reconciler pulls events of type E from a source and upserts them into the store.
type Reconciler[E any] struct {
	name     string
	kind     schemas.SourceKind
	lookback time.Duration
	now      func() time.Time

	fetch  func(ctx context.Context, since, until time.Time) ([]E, error)
	upsert func(ctx context.Context, e E) error
	id     func(e E) string

	inFlight atomic.Bool

	lastRun      schemas.SyncRun
	lastRunMutex sync.RWMutex
}

func newReconciler[E any](name string, kind schemas.SourceKind, opts Options) *Reconciler[E] {
	if opts.Lookback <= 0 {
		opts.Lookback = DefaultLookback
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Reconciler[E]{
		name:     name,
		kind:     kind,
		lookback: opts.Lookback,
		now:      opts.Now,
	}
}

// NewDeployments creates a reconciler pulling deployments from src into s.
func NewDeployments(src sources.DeploymentSource, s store.Store, opts Options) *Reconciler[schemas.DeploymentEvent] {
	r := newReconciler[schemas.DeploymentEvent](src.Name(), schemas.SourceKindDeployments, opts)
	r.fetch = src.FetchDeployments
	r.id = func(e schemas.DeploymentEvent) string { return e.StableID }
	r.upsert = func(ctx context.Context, e schemas.DeploymentEvent) error {
		if e.StableID == "" {
			return fmt.Errorf("deployment has no stable id")
		}

		if e.Timestamp.IsZero() {
			return fmt.Errorf("deployment %s has no timestamp", e.StableID)
		}

		return s.UpsertDeployment(ctx, schemas.NewDeployment(src.Name(), e))
	}

	return r
}

// NewIncidents creates a reconciler pulling incidents from src into s.
func NewIncidents(src sources.IncidentSource, s store.Store, opts Options) *Reconciler[schemas.IncidentEvent] {
	r := newReconciler[schemas.IncidentEvent](src.Name(), schemas.SourceKindIncidents, opts)
	r.fetch = src.FetchIncidents
	r.id = func(e schemas.IncidentEvent) string { return e.StableID }
	r.upsert = func(ctx context.Context, e schemas.IncidentEvent) error {
		if e.StableID == "" {
			return fmt.Errorf("incident has no stable id")
		}

		if e.CreatedAt.IsZero() {
			return fmt.Errorf("incident %s has no creation instant", e.StableID)
		}

		if e.ResolvedAt != nil && e.ResolvedAt.Before(e.CreatedAt) {
			log.WithContext(ctx).
				WithFields(log.Fields{
					"source":      src.Name(),
					"incident-id": e.StableID,
					"created-at":  e.CreatedAt.Format(time.RFC3339),
					"resolved-at": e.ResolvedAt.Format(time.RFC3339),
				}).
				Warn("incident resolved before it was created, ignoring its resolution")
		}

		return s.UpsertIncident(ctx, schemas.NewIncident(src.Name(), e))
	}

	return r
}

// Name returns the name of the source being reconciled.
func (r *Reconciler[E]) Name() string {
	return r.name
}

// Kind returns the kind of events being reconciled.
func (r *Reconciler[E]) Kind() schemas.SourceKind {
	return r.kind
}

// InFlight reports whether a sync is currently running.
func (r *Reconciler[E]) InFlight() bool {
	return r.inFlight.Load()
}

// LastRun returns the outcome of the last completed sync.
func (r *Reconciler[E]) LastRun() schemas.SyncRun {
	r.lastRunMutex.RLock()
	defer r.lastRunMutex.RUnlock()

	return r.lastRun
}

// Sync pulls the trailing window [now - lookback, now] from the source and upserts every event.
//
// It returns ErrSyncInFlight straight away when another sync of the same source is running.
// An event which cannot be stored is logged and counted, the others are still processed.
// A failed fetch marks the whole run as failed and is returned.
func (r *Reconciler[E]) Sync(ctx context.Context) (run schemas.SyncRun, err error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		log.WithContext(ctx).
			WithFields(log.Fields{
				"source": r.name,
				"kind":   r.kind,
			}).
			Debug("previous sync still in flight, skipping")

		return schemas.SyncRun{Source: r.name, Kind: r.kind}, ErrSyncInFlight
	}
	defer r.inFlight.Store(false)

	ctx, span := otel.Tracer("dora-exporter").Start(ctx, "reconciler:Sync")
	defer span.End()
	span.SetAttributes(attribute.String("source", r.name))
	span.SetAttributes(attribute.String("kind", string(r.kind)))

	now := r.now().UTC()
	run = schemas.SyncRun{
		Source:    r.name,
		Kind:      r.kind,
		StartedAt: now,
		Since:     now.Add(-r.lookback),
		Until:     now,
	}

	defer func() {
		run.FinishedAt = r.now().UTC()

		r.lastRunMutex.Lock()
		r.lastRun = run
		r.lastRunMutex.Unlock()
	}()

	events, err := r.fetch(ctx, run.Since, run.Until)
	if err != nil {
		run.Err = err

		log.WithContext(ctx).
			WithFields(run.Log()).
			WithError(err).
			Error("sync failed")

		return run, err
	}

	run.Fetched = len(events)

	for _, e := range events {
		if ctx.Err() != nil {
			run.Err = ctx.Err()
			return run, run.Err
		}

		if uerr := r.upsert(ctx, e); uerr != nil {
			run.Failed++

			log.WithContext(ctx).
				WithFields(log.Fields{
					"source":   r.name,
					"kind":     r.kind,
					"event-id": r.id(e),
				}).
				WithError(uerr).
				Warn("storing event, skipping it")

			continue
		}

		run.Upserted++
	}

	log.WithContext(ctx).
		WithFields(run.Log()).
		Info("sync completed")

	return run, nil
}
