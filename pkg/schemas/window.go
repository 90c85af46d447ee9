package schemas

import (
	"errors"
	"time"
)

// ErrInvalidWindow is returned when a time window is malformed: a custom window missing one of its
// bounds, or a window whose end is not strictly after its start.
var ErrInvalidWindow = errors.New("invalid time window")

// Window labels.
const (
	WindowLabel7Days  = "7d"
	WindowLabel30Days = "30d"
	WindowLabel90Days = "90d"
	WindowLabelCustom = "custom"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains reports whether t falls within the window. Start is inclusive, End is exclusive.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Validate returns ErrInvalidWindow unless End is strictly after Start.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}

	return nil
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
