// Package dora computes the change failure rate and mean time to recovery metrics from the event store.
package dora

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// Reader is the subset of the event store the engine computes metrics from.
type Reader interface {
	CountDeploymentsInWindow(ctx context.Context, w schemas.Window) (int64, error)
	CountIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) (int64, error)
	ListResolvedIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) ([]schemas.Incident, error)
}

// Engine computes metrics over windows of the event store. It holds no state of its own
// and is safe for concurrent use.
type Engine struct {
	store Reader
	now   func() time.Time
}

// NewEngine creates an engine reading from s. A nil now defaults to time.Now.
func NewEngine(s Reader, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}

	return &Engine{store: s, now: now}
}

// ResolveWindow resolves a window label against the engine clock.
func (e *Engine) ResolveWindow(label string, start, end *time.Time) (schemas.Window, error) {
	return ResolveWindow(label, start, end, e.now())
}

// ChangeFailureRate computes the change failure rate over [start, end).
func (e *Engine) ChangeFailureRate(ctx context.Context, start, end time.Time) (schemas.ChangeFailureRate, error) {
	return e.ComputeCFR(ctx, schemas.Window{Start: start, End: end})
}

// MeanTimeToRecovery computes the mean time to recovery of the incidents created over [start, end).
func (e *Engine) MeanTimeToRecovery(ctx context.Context, start, end time.Time) (schemas.MeanTimeToRecovery, error) {
	return e.ComputeMTTR(ctx, schemas.Window{Start: start, End: end})
}

// ComputeCFR computes the change failure rate over w: the number of incidents created in w for every
// hundred deployments in w. It is 0 when there were no deployments.
func (e *Engine) ComputeCFR(ctx context.Context, w schemas.Window) (r schemas.ChangeFailureRate, err error) {
	ctx, span := otel.Tracer("dora-exporter").Start(ctx, "dora:ComputeCFR")
	defer span.End()

	if err = w.Validate(); err != nil {
		return
	}

	r = schemas.ChangeFailureRate{
		Start:       w.Start,
		End:         w.End,
		WindowLabel: DetermineTimeRange(w.Start, w.End),
		ComputedAt:  e.now().UTC(),
	}

	if r.TotalDeployments, err = e.store.CountDeploymentsInWindow(ctx, w); err != nil {
		return schemas.ChangeFailureRate{}, err
	}

	if r.TotalIncidents, err = e.store.CountIncidentsCreatedInWindow(ctx, w); err != nil {
		return schemas.ChangeFailureRate{}, err
	}

	if r.TotalDeployments > 0 {
		r.Percentage = float64(r.TotalIncidents) / float64(r.TotalDeployments) * 100
	}

	span.SetAttributes(attribute.Float64("percentage", r.Percentage))

	return r, nil
}

// ComputeMTTR computes the mean time to recovery over w, averaging the truncated recovery minutes of the
// incidents created in w which have been resolved. It is 0 when none has been resolved.
func (e *Engine) ComputeMTTR(ctx context.Context, w schemas.Window) (r schemas.MeanTimeToRecovery, err error) {
	ctx, span := otel.Tracer("dora-exporter").Start(ctx, "dora:ComputeMTTR")
	defer span.End()

	if err = w.Validate(); err != nil {
		return
	}

	r = schemas.MeanTimeToRecovery{
		Start:       w.Start,
		End:         w.End,
		WindowLabel: DetermineTimeRange(w.Start, w.End),
		ComputedAt:  e.now().UTC(),
	}

	resolved, err := e.store.ListResolvedIncidentsCreatedInWindow(ctx, w)
	if err != nil {
		return schemas.MeanTimeToRecovery{}, err
	}

	if r.TotalIncidents, err = e.store.CountIncidentsCreatedInWindow(ctx, w); err != nil {
		return schemas.MeanTimeToRecovery{}, err
	}

	var totalMinutes int64

	for _, i := range resolved {
		if minutes, ok := i.RecoveryMinutes(); ok {
			totalMinutes += minutes
			r.ResolvedIncidents++
		}
	}

	// Both reads are not atomic, a concurrent sync may make them disagree
	r.UnresolvedIncidents = r.TotalIncidents - r.ResolvedIncidents
	if r.UnresolvedIncidents < 0 {
		r.UnresolvedIncidents = 0
	}

	if r.ResolvedIncidents > 0 {
		r.MeanMinutes = float64(totalMinutes) / float64(r.ResolvedIncidents)
		r.MeanHours = r.MeanMinutes / 60
	}

	span.SetAttributes(attribute.Float64("mean_minutes", r.MeanMinutes))

	return r, nil
}

// Dashboard computes both metrics over w along with their underlying counts.
func (e *Engine) Dashboard(ctx context.Context, w schemas.Window) (d schemas.Dashboard, err error) {
	if err = w.Validate(); err != nil {
		return
	}

	d.Window = w

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.ChangeFailureRate, err = e.ComputeCFR(gctx, w)
		return
	})
	g.Go(func() (err error) {
		d.MeanTimeToRecovery, err = e.ComputeMTTR(gctx, w)
		return
	})

	if err = g.Wait(); err != nil {
		return schemas.Dashboard{}, err
	}

	label := w.Label
	if label == "" {
		label = DetermineTimeRange(w.Start, w.End)
	}

	d.Summary = schemas.DashboardSummary{
		TimeRange:         label,
		TotalDeployments:  d.ChangeFailureRate.TotalDeployments,
		TotalIncidents:    d.ChangeFailureRate.TotalIncidents,
		ResolvedIncidents: d.MeanTimeToRecovery.ResolvedIncidents,
	}

	return d, nil
}
