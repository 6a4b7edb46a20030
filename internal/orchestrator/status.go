package orchestrator

import (
	"sort"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
)

// DeploymentStatus is the derived ∈ {queued, running, done, error} state
// from spec.md §3.
type DeploymentStatus string

const (
	DeploymentQueued  DeploymentStatus = "queued"
	DeploymentRunning DeploymentStatus = "running"
	DeploymentDone    DeploymentStatus = "done"
	DeploymentError   DeploymentStatus = "error"
)

// SessionStatus is the lifecycle status attached to Session.
type SessionStatus string

const (
	StatusCreating  SessionStatus = "creating"
	StatusDeploying SessionStatus = "deploying"
	StatusReady     SessionStatus = "ready"
	StatusError     SessionStatus = "error"
	StatusDeleted   SessionStatus = "deleted"
)

// deriveDeploymentStatus picks the most-recently-created deployment and
// maps its platform status, per spec.md §4.6 "Status derivations": no
// deployments -> queued; done -> done; error|cancelled -> error; else
// running.
func deriveDeploymentStatus(deployments []platform.Deployment) DeploymentStatus {
	if len(deployments) == 0 {
		return DeploymentQueued
	}
	sorted := make([]platform.Deployment, len(deployments))
	copy(sorted, deployments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt > sorted[j].CreatedAt })

	switch sorted[0].Status {
	case "done":
		return DeploymentDone
	case "error", "cancelled":
		return DeploymentError
	default:
		return DeploymentRunning
	}
}

// deriveSessionStatus combines deployment and compose status into the
// user-visible session lifecycle status.
func deriveSessionStatus(deploymentStatus DeploymentStatus, composeStatus string) SessionStatus {
	if deploymentStatus == DeploymentError || composeStatus == "error" {
		return StatusError
	}
	if deploymentStatus == DeploymentDone || composeStatus == "done" {
		return StatusReady
	}
	if deploymentStatus == DeploymentRunning {
		return StatusDeploying
	}
	return StatusCreating
}

// isReusable reports whether sessionStatus qualifies a compose as a
// reuse candidate per spec.md §3.
func isReusable(status SessionStatus) bool {
	return status == StatusCreating || status == StatusDeploying || status == StatusReady
}
