package schemas

// TaskType represents the type of task as a string.
type TaskType string

const (
	// TaskTypePullDeployments represents a task type for reconciling deployments from the configured deployment source.
	TaskTypePullDeployments TaskType = "PullDeployments"

	// TaskTypePullIncidents represents a task type for reconciling incidents from the configured incident source.
	TaskTypePullIncidents TaskType = "PullIncidents"
)

// TaskTypes lists every task type the controller knows how to schedule.
var TaskTypes = []TaskType{
	TaskTypePullDeployments,
	TaskTypePullIncidents,
}

// Tasks is a map structure used to keep track of tasks.
// It maps a TaskType to another map, which associates task identifiers with empty interfaces.
type Tasks map[TaskType]map[string]interface{}
