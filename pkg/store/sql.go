package store

import (
	"context"
	"database/sql"
	"embed"
	"math"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// Supported database/sql drivers.
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	deploymentColumns = "id, source, ts, status, application_name, version, repository_name, workflow_name, workflow_run_id, record_created_at, record_updated_at"
	incidentColumns   = "id, source, title, status, urgency, service_name, incident_key, created_at, acknowledged_at, resolved_at, record_created_at, record_updated_at"
)

// SQL is an event store backed by a relational database. Instants are stored as UTC unix nanoseconds.
// Task bookkeeping stays in memory.
type SQL struct {
	taskTracker

	db     *sql.DB
	driver string
}

// OpenSQL connects to the database, checks the connection and applies pending migrations.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	if driver == DriverSQLite {
		// A single connection keeps in-memory databases alive and serializes writers
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	s := NewSQLStore(db, driver)
	if err = s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// NewSQLStore wraps an already opened database. The schema is expected to be migrated.
func NewSQLStore(db *sql.DB, driver string) *SQL {
	return &SQL{db: db, driver: driver}
}

// Migrate applies the embedded schema migrations.
func (s *SQL) Migrate(ctx context.Context) error {
	dialect := "postgres"
	if s.driver == DriverSQLite {
		dialect = "sqlite3"
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(log.StandardLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return errors.Wrap(err, "configuring migrations")
	}

	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return errors.Wrap(err, "applying migrations")
	}

	return nil
}

// Ping checks the database connection.
func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying connections.
func (s *SQL) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders into $n ones for postgres.
func (s *SQL) rebind(query string) string {
	if s.driver == DriverSQLite {
		return query
	}

	var (
		b strings.Builder
		n int
	)

	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}

		b.WriteRune(c)
	}

	return b.String()
}

// UpsertDeployment inserts a deployment or overwrites the mutable fields of an existing one.
func (s *SQL) UpsertDeployment(ctx context.Context, d schemas.Deployment) error {
	d = mergeDeployment(d, nil, Clock())

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO deployments (`+deploymentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	source = excluded.source,
	ts = excluded.ts,
	status = excluded.status,
	application_name = excluded.application_name,
	version = excluded.version,
	repository_name = excluded.repository_name,
	workflow_name = excluded.workflow_name,
	workflow_run_id = excluded.workflow_run_id,
	record_updated_at = excluded.record_updated_at`),
		d.ID,
		d.Source,
		toNanos(d.Timestamp),
		string(d.Status),
		d.ApplicationName,
		d.Version,
		d.RepositoryName,
		d.WorkflowName,
		d.WorkflowRunID,
		toNanos(d.RecordCreatedAt),
		toNanos(d.RecordUpdatedAt),
	)

	return errors.Wrapf(err, "upserting deployment %s", d.ID)
}

// GetDeployment retrieves a deployment from the database.
func (s *SQL) GetDeployment(ctx context.Context, d *schemas.Deployment) error {
	var (
		found                      schemas.Deployment
		status                     string
		ts, recCreated, recUpdated int64
	)

	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+deploymentColumns+` FROM deployments WHERE id = ?`), d.ID).Scan(
		&found.ID,
		&found.Source,
		&ts,
		&status,
		&found.ApplicationName,
		&found.Version,
		&found.RepositoryName,
		&found.WorkflowName,
		&found.WorkflowRunID,
		&recCreated,
		&recUpdated,
	)
	if err == sql.ErrNoRows {
		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "reading deployment %s", d.ID)
	}

	found.Status = schemas.DeploymentStatus(status)
	found.Timestamp = fromNanos(ts)
	found.RecordCreatedAt = fromNanos(recCreated)
	found.RecordUpdatedAt = fromNanos(recUpdated)
	*d = found

	return nil
}

// DeploymentExists checks if a deployment exists in the database.
func (s *SQL) DeploymentExists(ctx context.Context, k schemas.DeploymentKey) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM deployments WHERE id = ?`, string(k))
}

// CountDeploymentsInWindow counts the deployments whose timestamp falls within w.
func (s *SQL) CountDeploymentsInWindow(ctx context.Context, w schemas.Window) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM deployments WHERE ts >= ? AND ts < ?`, toNanos(w.Start), toNanos(w.End))
}

// DeploymentsCount returns the count of deployments in the database.
func (s *SQL) DeploymentsCount(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM deployments`)
}

// UpsertIncident inserts an incident or overwrites the mutable fields of an existing one.
func (s *SQL) UpsertIncident(ctx context.Context, i schemas.Incident) error {
	i = mergeIncident(i, nil, Clock())

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO incidents (`+incidentColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	source = excluded.source,
	title = excluded.title,
	status = excluded.status,
	urgency = excluded.urgency,
	service_name = excluded.service_name,
	incident_key = excluded.incident_key,
	created_at = excluded.created_at,
	acknowledged_at = excluded.acknowledged_at,
	resolved_at = excluded.resolved_at,
	record_updated_at = excluded.record_updated_at`),
		i.ID,
		i.Source,
		i.Title,
		string(i.Status),
		i.Urgency,
		i.ServiceName,
		i.IncidentKey,
		toNanos(i.CreatedAt),
		toNullNanos(i.AcknowledgedAt),
		toNullNanos(i.ResolvedAt),
		toNanos(i.RecordCreatedAt),
		toNanos(i.RecordUpdatedAt),
	)

	return errors.Wrapf(err, "upserting incident %s", i.ID)
}

// GetIncident retrieves an incident from the database.
func (s *SQL) GetIncident(ctx context.Context, i *schemas.Incident) error {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`), i.ID)

	found, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "reading incident %s", i.ID)
	}

	*i = found

	return nil
}

// IncidentExists checks if an incident exists in the database.
func (s *SQL) IncidentExists(ctx context.Context, k schemas.IncidentKey) (bool, error) {
	return s.exists(ctx, `SELECT COUNT(*) FROM incidents WHERE id = ?`, string(k))
}

// CountIncidentsCreatedInWindow counts the incidents created within w.
func (s *SQL) CountIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM incidents WHERE created_at >= ? AND created_at < ?`, toNanos(w.Start), toNanos(w.End))
}

// ListResolvedIncidentsCreatedInWindow returns the incidents created within w which have been resolved,
// ordered by creation instant.
func (s *SQL) ListResolvedIncidentsCreatedInWindow(ctx context.Context, w schemas.Window) ([]schemas.Incident, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+incidentColumns+` FROM incidents
WHERE created_at >= ? AND created_at < ? AND resolved_at IS NOT NULL
ORDER BY created_at, id`), toNanos(w.Start), toNanos(w.End))
	if err != nil {
		return nil, errors.Wrap(err, "listing resolved incidents")
	}
	defer rows.Close()

	var incidents []schemas.Incident

	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning incident")
		}

		incidents = append(incidents, i)
	}

	return incidents, errors.Wrap(rows.Err(), "listing resolved incidents")
}

// IncidentsCount returns the count of incidents in the database.
func (s *SQL) IncidentsCount(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM incidents`)
}

func (s *SQL) count(ctx context.Context, query string, args ...interface{}) (count int64, err error) {
	if err = s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "counting rows")
	}

	return
}

func (s *SQL) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	count, err := s.count(ctx, query, args...)
	return count > 0, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(row rowScanner) (i schemas.Incident, err error) {
	var (
		status                            string
		createdAt, recCreated, recUpdated int64
		acknowledgedAt, resolvedAt        sql.NullInt64
	)

	if err = row.Scan(
		&i.ID,
		&i.Source,
		&i.Title,
		&status,
		&i.Urgency,
		&i.ServiceName,
		&i.IncidentKey,
		&createdAt,
		&acknowledgedAt,
		&resolvedAt,
		&recCreated,
		&recUpdated,
	); err != nil {
		return
	}

	i.Status = schemas.IncidentStatus(status)
	i.CreatedAt = fromNanos(createdAt)
	i.AcknowledgedAt = fromNullNanos(acknowledgedAt)
	i.ResolvedAt = fromNullNanos(resolvedAt)
	i.RecordCreatedAt = fromNanos(recCreated)
	i.RecordUpdatedAt = fromNanos(recUpdated)

	return
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// Instants outside of the range an int64 of nanoseconds can hold are clamped to its bounds
// so that window bounds far in the past or future keep their ordering.
var (
	minNanos = time.Unix(0, math.MinInt64)
	maxNanos = time.Unix(0, math.MaxInt64)
)

func toNanos(t time.Time) int64 {
	switch {
	case t.Before(minNanos):
		return math.MinInt64
	case t.After(maxNanos):
		return math.MaxInt64
	default:
		return t.UnixNano()
	}
}

func toNullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}

	t := fromNanos(n.Int64)
	return &t
}
