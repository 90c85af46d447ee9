package sources

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

const (
	pagerDutyDefaultURL = "https://api.pagerduty.com"
	pagerDutyPageLimit  = 100
)

// PagerDutyConfig configures the PagerDuty incident source.
type PagerDutyConfig struct {
	ClientConfig

	Token      string
	ServiceIDs []string // Restricts the incidents to these services when set
}

// PagerDuty fetches incidents from the PagerDuty REST API.
type PagerDuty struct {
	*Client

	token      string
	serviceIDs []string
}

type pagerDutyIncidents struct {
	Incidents []pagerDutyIncident `json:"incidents"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
	More      bool                `json:"more"`
}

type pagerDutyIncident struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Status             string     `json:"status"`
	Urgency            string     `json:"urgency"`
	IncidentKey        string     `json:"incident_key"`
	CreatedAt          time.Time  `json:"created_at"`
	AcknowledgedAt     *time.Time `json:"acknowledged_at"`
	ResolvedAt         *time.Time `json:"resolved_at"`
	LastStatusChangeAt *time.Time `json:"last_status_change_at"`
	Service            struct {
		Summary string `json:"summary"`
	} `json:"service"`
	Acknowledgements []struct {
		At time.Time `json:"at"`
	} `json:"acknowledgements"`
}

// NewPagerDuty creates a PagerDuty incident source.
func NewPagerDuty(cfg PagerDutyConfig) (*PagerDuty, error) {
	if cfg.URL == "" {
		cfg.URL = pagerDutyDefaultURL
	}

	c, err := NewClient(cfg.ClientConfig, nil)
	if err != nil {
		return nil, err
	}

	return &PagerDuty{
		Client:     c,
		token:      cfg.Token,
		serviceIDs: cfg.ServiceIDs,
	}, nil
}

// Name implements IncidentSource.
func (p *PagerDuty) Name() string {
	return ProviderPagerDuty
}

func (p *PagerDuty) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Token token="+p.token)
	h.Set("Accept", "application/vnd.pagerduty+json;version=2")
	h.Set("Content-Type", "application/json")

	return h
}

// FetchIncidents implements IncidentSource, following the offset pagination until upstream reports no more results.
func (p *PagerDuty) FetchIncidents(ctx context.Context, since, until time.Time) ([]schemas.IncidentEvent, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pagerduty:FetchIncidents")
	defer span.End()

	var events []schemas.IncidentEvent

	for offset := 0; ; {
		q := url.Values{}
		q.Set("since", since.UTC().Format(time.RFC3339))
		q.Set("until", until.UTC().Format(time.RFC3339))
		q.Set("limit", strconv.Itoa(pagerDutyPageLimit))
		q.Set("offset", strconv.Itoa(offset))

		for _, id := range p.serviceIDs {
			q.Add("service_ids[]", id)
		}

		log.WithContext(ctx).
			WithFields(log.Fields{
				"offset": offset,
			}).
			Trace("listing pagerduty incidents")

		page := pagerDutyIncidents{}
		if err := p.getJSON(ctx, p.Name(), "/incidents", q, p.header(), &page); err != nil {
			return nil, err
		}

		for _, i := range page.Incidents {
			events = append(events, normalizePagerDutyIncident(i))
		}

		if !page.More || len(page.Incidents) == 0 {
			break
		}

		offset += len(page.Incidents)
	}

	return events, nil
}

func normalizePagerDutyIncident(i pagerDutyIncident) schemas.IncidentEvent {
	acknowledgedAt := i.AcknowledgedAt
	if acknowledgedAt == nil && len(i.Acknowledgements) > 0 {
		at := i.Acknowledgements[0].At
		acknowledgedAt = &at
	}

	// PagerDuty only exposes the last status change on resolved incidents
	resolvedAt := i.ResolvedAt
	if resolvedAt == nil && schemas.IncidentStatusFromRaw(i.Status) == schemas.IncidentStatusResolved {
		resolvedAt = i.LastStatusChangeAt
	}

	return schemas.IncidentEvent{
		StableID:       i.ID,
		Title:          i.Title,
		StatusRaw:      i.Status,
		Urgency:        i.Urgency,
		ServiceName:    i.Service.Summary,
		IncidentKey:    i.IncidentKey,
		CreatedAt:      i.CreatedAt,
		AcknowledgedAt: acknowledgedAt,
		ResolvedAt:     resolvedAt,
	}
}

// HealthCheck implements IncidentSource by listing a single incident.
func (p *PagerDuty) HealthCheck(ctx context.Context) bool {
	q := url.Values{}
	q.Set("limit", "1")

	if err := p.getJSON(ctx, p.Name(), "/incidents", q, p.header(), nil); err != nil {
		log.WithContext(ctx).WithError(err).Warn("pagerduty health check failed")
		return false
	}

	return true
}
