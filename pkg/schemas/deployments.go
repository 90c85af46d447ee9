package schemas

import (
	"strings"
	"time"
)

// DeploymentStatus is the local, closed set of outcomes a deployment can have.
type DeploymentStatus string

const (
	// DeploymentStatusSuccess is a deployment that completed successfully, or is still running (see DeploymentStatusFromConclusion).
	DeploymentStatusSuccess DeploymentStatus = "SUCCESS"

	// DeploymentStatusFailure is a deployment that failed.
	DeploymentStatusFailure DeploymentStatus = "FAILURE"

	// DeploymentStatusCancelled is a deployment that was cancelled or skipped before completion.
	DeploymentStatusCancelled DeploymentStatus = "CANCELLED"
)

// DeploymentKey is the stable upstream identifier of a deployment.
type DeploymentKey string

// Deployment represents a single deployment (a CI/CD workflow run) as persisted in the event store.
type Deployment struct {
	ID              string           // Stable identifier derived from the upstream run identifier
	Source          string           // Name of the source adapter that observed the deployment
	Timestamp       time.Time        // Instant the deployment occurred, used for window filtering
	Status          DeploymentStatus // Outcome of the deployment
	ApplicationName string           // Name of the deployed application
	Version         string           // Deployed version, usually the head commit SHA
	RepositoryName  string           // Full name of the repository the workflow ran for
	WorkflowName    string           // Name of the workflow or ref that produced the deployment
	WorkflowRunID   int64            // Upstream numeric identifier of the run

	RecordCreatedAt time.Time // First time this deployment was observed, preserved across upserts
	RecordUpdatedAt time.Time // Last time this deployment was written
}

// Deployments maps deployment keys to deployments.
type Deployments map[DeploymentKey]Deployment

// Key returns the stable key of the deployment.
func (d Deployment) Key() DeploymentKey {
	return DeploymentKey(d.ID)
}

// IsSuccessful reports whether the deployment succeeded.
func (d Deployment) IsSuccessful() bool {
	return d.Status == DeploymentStatusSuccess
}

// IsFailed reports whether the deployment failed.
func (d Deployment) IsFailed() bool {
	return d.Status == DeploymentStatusFailure
}

// DeploymentEvent is a normalized deployment as returned by a deployment source.
type DeploymentEvent struct {
	StableID      string
	Timestamp     time.Time
	StatusRaw     string
	AppName       string
	Version       string
	RepoName      string
	WorkflowName  string
	WorkflowRunID int64
}

// NewDeployment converts a normalized source event into a Deployment.
func NewDeployment(source string, e DeploymentEvent) Deployment {
	return Deployment{
		ID:              e.StableID,
		Source:          source,
		Timestamp:       e.Timestamp.UTC(),
		Status:          DeploymentStatusFromConclusion(e.StatusRaw),
		ApplicationName: e.AppName,
		Version:         e.Version,
		RepositoryName:  e.RepoName,
		WorkflowName:    e.WorkflowName,
		WorkflowRunID:   e.WorkflowRunID,
	}
}

// DeploymentStatusFromConclusion maps an upstream run conclusion or pipeline status onto a DeploymentStatus.
// It understands both the GitHub Actions and the GitLab CI vocabularies and never fails.
//
// A missing conclusion means the run is still in progress; it is reported as a success until a later
// sync observes the real outcome and overwrites it. Unrecognized values count as failures.
func DeploymentStatusFromConclusion(raw string) DeploymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "success", "running", "pending", "created", "in_progress", "queued",
		"waiting_for_resource", "preparing", "scheduled", "manual", "requested", "waiting":
		return DeploymentStatusSuccess
	case "failure", "failed", "timed_out", "startup_failure":
		return DeploymentStatusFailure
	case "cancelled", "canceled", "skipped":
		return DeploymentStatusCancelled
	default:
		return DeploymentStatusFailure
	}
}
