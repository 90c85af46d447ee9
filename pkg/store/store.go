package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// Store is the event store holding deployments and incidents.
// Upserts are keyed on the stable upstream identifier: writing the same entity twice leaves a single
// logical record whose mutable fields reflect the last write and whose RecordCreatedAt is preserved.
type Store interface {
	// Methods for manipulating deployments
	UpsertDeployment(ctx context.Context, d schemas.Deployment) error                // UpsertDeployment inserts or updates a deployment
	GetDeployment(ctx context.Context, d *schemas.Deployment) error                  // GetDeployment retrieves a deployment, leaving d untouched when absent
	DeploymentExists(ctx context.Context, k schemas.DeploymentKey) (bool, error)     // DeploymentExists checks the existence of a deployment
	CountDeploymentsInWindow(ctx context.Context, w schemas.Window) (int64, error)   // CountDeploymentsInWindow counts deployments with a timestamp in w
	DeploymentsCount(ctx context.Context) (int64, error)                             // DeploymentsCount counts all deployments

	// Methods for manipulating incidents
	UpsertIncident(ctx context.Context, i schemas.Incident) error                                          // UpsertIncident inserts or updates an incident
	GetIncident(ctx context.Context, i *schemas.Incident) error                                             // GetIncident retrieves an incident, leaving i untouched when absent
	IncidentExists(ctx context.Context, k schemas.IncidentKey) (bool, error)                              // IncidentExists checks the existence of an incident
	CountIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) (int64, error)                   // CountIncidentsCreatedInWindow counts incidents created in w
	ListResolvedIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) ([]schemas.Incident, error) // ListResolvedIncidentsCreatedInWindow lists incidents created in w that carry a resolution instant
	IncidentsCount(ctx context.Context) (int64, error)                                                     // IncidentsCount counts all incidents

	// Helpers to keep track of currently queued tasks and avoid scheduling them
	// twice at the risk of ending up with loads of dangling goroutines being locked
	QueueTask(ctx context.Context, tt schemas.TaskType, taskUUID, processUUID string) (bool, error) // QueueTask Adds a task to the queue
	UnqueueTask(ctx context.Context, tt schemas.TaskType, taskUUID string) error                    // UnqueueTask Removes a task from the queue
	CurrentlyQueuedTasksCount(ctx context.Context) (uint64, error)                                  // CurrentlyQueuedTasksCount Counts the number of currently queued tasks
	ExecutedTasksCount(ctx context.Context) (uint64, error)                                         // ExecutedTasksCount Counts the number of executed tasks
}

// Clock returns the current time. It is used to stamp record creation and update instants.
var Clock = func() time.Time { return time.Now().UTC() }

// NewLocalStore creates a new instance of local storage.
func NewLocalStore() Store {
	return &Local{
		deployments: make(schemas.Deployments),
		incidents:   make(schemas.Incidents),
	}
}

// NewRedisStore creates a new instance of storage using Redis.
func NewRedisStore(client *redis.Client) Store {
	return &Redis{
		Client: client, // Redis client to interact with the Redis server
	}
}

// New picks the store implementation: SQL when a database is provided, then Redis, then in-memory.
func New(
	ctx context.Context,
	r *redis.Client,
	db *SQL,
) (s Store) {
	_, span := otel.Tracer("dora-exporter").Start(ctx, "store:New")
	defer span.End()

	switch {
	case db != nil:
		log.WithContext(ctx).WithField("driver", db.driver).Debug("using sql event store")
		s = db
	case r != nil:
		log.WithContext(ctx).Debug("using redis event store")
		s = NewRedisStore(r)
	default:
		log.WithContext(ctx).Debug("using local event store")
		s = NewLocalStore()
	}

	return s
}

// mergeDeployment prepares d for writing over an existing record, if any.
func mergeDeployment(d schemas.Deployment, existing *schemas.Deployment, now time.Time) schemas.Deployment {
	d.Timestamp = d.Timestamp.UTC()
	d.RecordUpdatedAt = now

	if existing != nil && !existing.RecordCreatedAt.IsZero() {
		d.RecordCreatedAt = existing.RecordCreatedAt
	} else {
		d.RecordCreatedAt = now
	}

	return d
}

// mergeIncident prepares i for writing over an existing record, if any.
// Resolution instants earlier than the creation instant are discarded.
func mergeIncident(i schemas.Incident, existing *schemas.Incident, now time.Time) schemas.Incident {
	i.CreatedAt = i.CreatedAt.UTC()
	i.RecordUpdatedAt = now

	if i.ResolvedAt != nil && i.ResolvedAt.Before(i.CreatedAt) {
		i.ResolvedAt = nil
	}

	if existing != nil && !existing.RecordCreatedAt.IsZero() {
		i.RecordCreatedAt = existing.RecordCreatedAt
	} else {
		i.RecordCreatedAt = now
	}

	return i
}
