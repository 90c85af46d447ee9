package schemas

import (
	"time"
)

// ChangeFailureRate is the outcome of a change failure rate computation over a window.
type ChangeFailureRate struct {
	Start       time.Time
	End         time.Time
	WindowLabel string // Bucket derived from the window length: 7d, 30d, 90d or custom
	ComputedAt  time.Time

	TotalDeployments int64   // Deployments whose timestamp falls in the window
	TotalIncidents   int64   // Incidents created in the window
	Percentage       float64 // TotalIncidents / TotalDeployments * 100, or 0 when there were no deployments
}

// MeanTimeToRecovery is the outcome of a mean time to recovery computation over a window.
type MeanTimeToRecovery struct {
	Start       time.Time
	End         time.Time
	WindowLabel string
	ComputedAt  time.Time

	TotalIncidents      int64   // Incidents created in the window
	ResolvedIncidents   int64   // Incidents created in the window that carry a resolution instant
	UnresolvedIncidents int64   // TotalIncidents - ResolvedIncidents, never negative
	MeanMinutes         float64 // Mean of the truncated recovery minutes of resolved incidents
	MeanHours           float64 // MeanMinutes / 60
}

// Dashboard groups both metrics computed over the same window with a short summary.
type Dashboard struct {
	Window             Window
	ChangeFailureRate  ChangeFailureRate
	MeanTimeToRecovery MeanTimeToRecovery
	Summary            DashboardSummary
}

// DashboardSummary holds the raw counts behind a dashboard.
type DashboardSummary struct {
	TimeRange         string
	TotalDeployments  int64
	TotalIncidents    int64
	ResolvedIncidents int64
}
