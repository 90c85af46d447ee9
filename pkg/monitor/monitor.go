// Package monitor holds the telemetry exchanged between the exporter and its terminal UI.
package monitor

import (
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/helvethink/dora-exporter/pkg/schemas"
)

// TaskSchedulingStatus represents the scheduling status of a task.
// It includes information about the last and next scheduled times.
type TaskSchedulingStatus struct {
	Last time.Time // The last time the task was executed
	Next time.Time // The next time the task is scheduled to be executed
}

// TaskSchedulingMonitoring tracks the scheduling status of every task type. It is safe for concurrent use.
type TaskSchedulingMonitoring struct {
	statuses map[schemas.TaskType]TaskSchedulingStatus
	mutex    sync.RWMutex
}

// NewTaskSchedulingMonitoring returns an empty TaskSchedulingMonitoring.
func NewTaskSchedulingMonitoring() *TaskSchedulingMonitoring {
	return &TaskSchedulingMonitoring{
		statuses: make(map[schemas.TaskType]TaskSchedulingStatus),
	}
}

// SetLast records that a task of type tt was executed at t.
func (m *TaskSchedulingMonitoring) SetLast(tt schemas.TaskType, t time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.statuses[tt]
	s.Last = t
	m.statuses[tt] = s
}

// SetNext records that the next task of type tt is expected at t.
func (m *TaskSchedulingMonitoring) SetNext(tt schemas.TaskType, t time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	s := m.statuses[tt]
	s.Next = t
	m.statuses[tt] = s
}

// Get returns the scheduling status of tt, if any.
func (m *TaskSchedulingMonitoring) Get(tt schemas.TaskType) (s TaskSchedulingStatus, ok bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s, ok = m.statuses[tt]

	return
}

// SourceTelemetry describes the activity of a single source.
type SourceTelemetry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`

	RequestsCount     uint64  `json:"requests_count"`
	APIUsage          float64 `json:"api_usage"`          // Requests per second over the configured maximum, capped at 1
	RateLimitUsage    float64 `json:"rate_limit_usage"`   // Share of the upstream quota left, capped at 1
	RequestsRemaining int     `json:"requests_remaining"` // As advertised by upstream

	LastSync          time.Time `json:"last_sync"`
	NextSync          time.Time `json:"next_sync"`
	LastSyncSucceeded bool      `json:"last_sync_succeeded"`
	LastSyncUpserted  int       `json:"last_sync_upserted"`
	LastSyncFailed    int       `json:"last_sync_failed"`
	LastSyncError     string    `json:"last_sync_error,omitempty"`
}

// Telemetry is a snapshot of the exporter state.
type Telemetry struct {
	Deployments        int64             `json:"deployments"`
	Incidents          int64             `json:"incidents"`
	TasksBufferUsage   float64           `json:"tasks_buffer_usage"`
	TasksExecutedCount uint64            `json:"tasks_executed_count"`
	Sources            []SourceTelemetry `json:"sources"`
}

// ToStruct converts the telemetry into its wire representation.
func (t Telemetry) ToStruct() (*structpb.Struct, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}

	m := map[string]interface{}{}
	if err = json.Unmarshal(b, &m); err != nil {
		return nil, err
	}

	return structpb.NewStruct(m)
}

// TelemetryFromStruct converts a wire representation back into telemetry.
func TelemetryFromStruct(s *structpb.Struct) (t Telemetry, err error) {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return
	}

	err = json.Unmarshal(b, &t)

	return
}

// Ratio returns a/b capped to [0, 1], or 0 when b is not positive.
func Ratio(a, b float64) float64 {
	if b <= 0 || a <= 0 {
		return 0
	}

	if r := a / b; r < 1 {
		return r
	}

	return 1
}
