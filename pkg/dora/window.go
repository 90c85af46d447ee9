package dora

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

const day = 24 * time.Hour

// presetDays maps the preset window labels onto their length in days.
var presetDays = map[string]int{
	schemas.WindowLabel7Days:  7,
	schemas.WindowLabel30Days: 30,
	schemas.WindowLabel90Days: 90,
}

// ResolveWindow turns a window label, with optional explicit bounds, into a concrete window ending at now.
//
// Preset labels (7d, 30d, 90d, case-insensitive) cover the trailing number of days. The custom label requires
// both bounds and an end strictly after the start, otherwise ErrInvalidWindow is returned. Unknown labels
// fall back to 7d.
func ResolveWindow(label string, start, end *time.Time, now time.Time) (schemas.Window, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))

	if normalized == schemas.WindowLabelCustom {
		if start == nil || end == nil {
			return schemas.Window{}, fmt.Errorf("%w: custom windows need both a start and an end", schemas.ErrInvalidWindow)
		}

		w := schemas.Window{Start: start.UTC(), End: end.UTC(), Label: schemas.WindowLabelCustom}
		if err := w.Validate(); err != nil {
			return schemas.Window{}, fmt.Errorf("%w: end %s is not after start %s", err, w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
		}

		return w, nil
	}

	days, ok := presetDays[normalized]
	if !ok {
		log.WithFields(log.Fields{
			"window": label,
		}).Warn("unknown window, defaulting to 7d")

		normalized, days = schemas.WindowLabel7Days, presetDays[schemas.WindowLabel7Days]
	}

	now = now.UTC()

	return schemas.Window{
		Start: now.Add(-time.Duration(days) * day),
		End:   now,
		Label: normalized,
	}, nil
}

// DetermineTimeRange buckets the length of [start, end) in whole elapsed days into a window label.
func DetermineTimeRange(start, end time.Time) string {
	days := int64(end.Sub(start) / day)

	switch {
	case days <= 7:
		return schemas.WindowLabel7Days
	case days <= 30:
		return schemas.WindowLabel30Days
	case days <= 90:
		return schemas.WindowLabel90Days
	default:
		return schemas.WindowLabelCustom
	}
}
