package schemas

import (
	"strings"
	"time"
)

// IncidentStatus is the local, closed set of states an incident can be in.
type IncidentStatus string

const (
	IncidentStatusTriggered    IncidentStatus = "TRIGGERED"
	IncidentStatusAcknowledged IncidentStatus = "ACKNOWLEDGED"
	IncidentStatusResolved     IncidentStatus = "RESOLVED"
	IncidentStatusUnknown      IncidentStatus = "UNKNOWN"
)

// IncidentKey is the stable upstream identifier of an incident.
type IncidentKey string

// Incident represents an on-call incident as persisted in the event store.
type Incident struct {
	ID          string         // Stable upstream identifier
	Source      string         // Name of the source adapter that observed the incident
	Title       string         // Incident title
	Status      IncidentStatus // Current status
	Urgency     string         // Upstream urgency (e.g. high, low)
	ServiceName string         // Impacted service
	IncidentKey string         // Upstream de-duplication key, if any

	CreatedAt      time.Time  // Instant the incident was opened
	AcknowledgedAt *time.Time // Instant the incident was acknowledged, if it was
	ResolvedAt     *time.Time // Instant the incident was resolved, nil while unresolved

	RecordCreatedAt time.Time // First time this incident was observed, preserved across upserts
	RecordUpdatedAt time.Time // Last time this incident was written
}

// Incidents maps incident keys to incidents.
type Incidents map[IncidentKey]Incident

// Key returns the stable key of the incident.
func (i Incident) Key() IncidentKey {
	return IncidentKey(i.ID)
}

// IsResolved reports whether the incident carries a resolution instant.
// The status field is not consulted: an incident without ResolvedAt is unresolved.
func (i Incident) IsResolved() bool {
	return i.ResolvedAt != nil
}

// RecoveryMinutes returns the whole minutes elapsed between creation and resolution, truncated.
// The second value is false when the incident is unresolved.
func (i Incident) RecoveryMinutes() (int64, bool) {
	if i.ResolvedAt == nil || i.CreatedAt.IsZero() {
		return 0, false
	}

	return int64(i.ResolvedAt.Sub(i.CreatedAt) / time.Minute), true
}

// IncidentEvent is a normalized incident as returned by an incident source.
type IncidentEvent struct {
	StableID       string
	Title          string
	StatusRaw      string
	Urgency        string
	ServiceName    string
	IncidentKey    string
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
}

// NewIncident converts a normalized source event into an Incident.
// A resolution instant earlier than the creation instant is discarded.
func NewIncident(source string, e IncidentEvent) Incident {
	i := Incident{
		ID:             e.StableID,
		Source:         source,
		Title:          e.Title,
		Status:         IncidentStatusFromRaw(e.StatusRaw),
		Urgency:        e.Urgency,
		ServiceName:    e.ServiceName,
		IncidentKey:    e.IncidentKey,
		CreatedAt:      e.CreatedAt.UTC(),
		AcknowledgedAt: utcPtr(e.AcknowledgedAt),
		ResolvedAt:     utcPtr(e.ResolvedAt),
	}

	if i.ResolvedAt != nil && i.ResolvedAt.Before(i.CreatedAt) {
		i.ResolvedAt = nil
	}

	return i
}

// IncidentStatusFromRaw maps an upstream incident status onto an IncidentStatus. It never fails:
// a missing status is TRIGGERED and anything unrecognized is UNKNOWN.
func IncidentStatusFromRaw(raw string) IncidentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "triggered":
		return IncidentStatusTriggered
	case "acknowledged":
		return IncidentStatusAcknowledged
	case "resolved":
		return IncidentStatusResolved
	default:
		return IncidentStatusUnknown
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}

	u := t.UTC()
	return &u
}
