package store

import (
	"context"
	"sort"
	"sync"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// Local represents an in-memory storage implementation for deployments and incidents.
type Local struct {
	taskTracker

	deployments      schemas.Deployments
	deploymentsMutex sync.RWMutex // Mutex for thread-safe access to deployments

	incidents      schemas.Incidents
	incidentsMutex sync.RWMutex // Mutex for thread-safe access to incidents
}

// UpsertDeployment inserts a deployment or overwrites the mutable fields of an existing one.
func (l *Local) UpsertDeployment(_ context.Context, d schemas.Deployment) error {
	l.deploymentsMutex.Lock()
	defer l.deploymentsMutex.Unlock()

	var existing *schemas.Deployment
	if e, ok := l.deployments[d.Key()]; ok {
		existing = &e
	}

	l.deployments[d.Key()] = mergeDeployment(d, existing, Clock())

	return nil
}

// GetDeployment retrieves a deployment from the local storage.
func (l *Local) GetDeployment(ctx context.Context, d *schemas.Deployment) error {
	exists, _ := l.DeploymentExists(ctx, d.Key())

	if exists {
		l.deploymentsMutex.RLock()
		*d = l.deployments[d.Key()]
		l.deploymentsMutex.RUnlock()
	}

	return nil
}

// DeploymentExists checks if a deployment exists in the local storage.
func (l *Local) DeploymentExists(_ context.Context, k schemas.DeploymentKey) (bool, error) {
	l.deploymentsMutex.RLock()
	defer l.deploymentsMutex.RUnlock()

	_, ok := l.deployments[k]

	return ok, nil
}

// CountDeploymentsInWindow counts the deployments whose timestamp falls within w.
func (l *Local) CountDeploymentsInWindow(_ context.Context, w schemas.Window) (count int64, err error) {
	l.deploymentsMutex.RLock()
	defer l.deploymentsMutex.RUnlock()

	for _, d := range l.deployments {
		if w.Contains(d.Timestamp) {
			count++
		}
	}

	return
}

// DeploymentsCount returns the count of deployments in the local storage.
func (l *Local) DeploymentsCount(_ context.Context) (int64, error) {
	l.deploymentsMutex.RLock()
	defer l.deploymentsMutex.RUnlock()

	return int64(len(l.deployments)), nil
}

// UpsertIncident inserts an incident or overwrites the mutable fields of an existing one.
func (l *Local) UpsertIncident(_ context.Context, i schemas.Incident) error {
	l.incidentsMutex.Lock()
	defer l.incidentsMutex.Unlock()

	var existing *schemas.Incident
	if e, ok := l.incidents[i.Key()]; ok {
		existing = &e
	}

	l.incidents[i.Key()] = mergeIncident(i, existing, Clock())

	return nil
}

// GetIncident retrieves an incident from the local storage.
func (l *Local) GetIncident(ctx context.Context, i *schemas.Incident) error {
	exists, _ := l.IncidentExists(ctx, i.Key())

	if exists {
		l.incidentsMutex.RLock()
		*i = l.incidents[i.Key()]
		l.incidentsMutex.RUnlock()
	}

	return nil
}

// IncidentExists checks if an incident exists in the local storage.
func (l *Local) IncidentExists(_ context.Context, k schemas.IncidentKey) (bool, error) {
	l.incidentsMutex.RLock()
	defer l.incidentsMutex.RUnlock()

	_, ok := l.incidents[k]

	return ok, nil
}

// CountIncidentsCreatedInWindow counts the incidents created within w.
func (l *Local) CountIncidentsCreatedInWindow(_ context.Context, w schemas.Window) (count int64, err error) {
	l.incidentsMutex.RLock()
	defer l.incidentsMutex.RUnlock()

	for _, i := range l.incidents {
		if w.Contains(i.CreatedAt) {
			count++
		}
	}

	return
}

// ListResolvedIncidentsCreatedInWindow returns the incidents created within w which have been resolved,
// ordered by creation instant.
func (l *Local) ListResolvedIncidentsCreatedInWindow(_ context.Context, w schemas.Window) (incidents []schemas.Incident, err error) {
	l.incidentsMutex.RLock()
	for _, i := range l.incidents {
		if i.IsResolved() && w.Contains(i.CreatedAt) {
			incidents = append(incidents, i)
		}
	}
	l.incidentsMutex.RUnlock()

	sortIncidents(incidents)

	return
}

// IncidentsCount returns the count of incidents in the local storage.
func (l *Local) IncidentsCount(_ context.Context) (int64, error) {
	l.incidentsMutex.RLock()
	defer l.incidentsMutex.RUnlock()

	return int64(len(l.incidents)), nil
}

func sortIncidents(incidents []schemas.Incident) {
	sort.SliceStable(incidents, func(a, b int) bool {
		if incidents[a].CreatedAt.Equal(incidents[b].CreatedAt) {
			return incidents[a].ID < incidents[b].ID
		}

		return incidents[a].CreatedAt.Before(incidents[b].CreatedAt)
	})
}
