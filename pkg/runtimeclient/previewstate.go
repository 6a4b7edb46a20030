// previewstate.go implements PreviewStateProjector (spec.md §4.11): a
// pure function from session/deployment status to a user-visible
// preview operational state. No I/O, no goroutines — grounded directly
// on spec.md's own state-selection precedence and timeout rules, since
// the teacher has no analogous derived-state projector to adapt (its
// gRPC services return raw status enums to callers, with no client-side
// state machine layered on top).
package runtimeclient

import (
	"fmt"
	"time"
)

const (
	StateProvisioning = "provisioning"
	StateDeploying    = "deploying"
	StateReady        = "ready"
	StateError        = "error"
	StateReconnecting = "reconnecting"
)

// MaxAutoRedeployRetries is the single automatic retry spec.md §4.11
// allows before forcing an error state.
const MaxAutoRedeployRetries = 1

// QueuedTimeout is how long a "queued" deployment status is tolerated
// before an auto-redeploy (or, on a second occurrence, a forced error).
const QueuedTimeout = 180 * time.Second

// ReconnectGrace is how long a transient connection error stays
// "reconnecting" (using lastHealthyAt) before becoming a hard error.
const ReconnectGrace = 30 * time.Second

// ProjectorInput is the subset of SessionClient state the projector
// reads.
type ProjectorInput struct {
	ConnectionState  string // "idle" | "creating" | "ready" | "error"
	SessionStatus    string // creating | deploying | ready | error | deleted
	DeploymentStatus string // queued | running | done | error
	RuntimeToken     string
	PreviewURL       string
	ComposeID        string
	ChatID           string
}

// ProjectorMemory persists across calls; the caller owns storage.
type ProjectorMemory struct {
	SessionKey       string
	RetryCount       int
	QueuedSince      *time.Time
	ReconnectSince   *time.Time
	LastHealthyAt    *time.Time
	LastTransitionAt time.Time
	LastState        string
}

// Snapshot is the projector's user-visible output.
type Snapshot struct {
	State            string
	Message          string
	RetryCount       int
	MaxRetries       int
	QueuedSince      *time.Time
	LastTransitionAt time.Time
}

// ProjectionResult bundles the snapshot, the updated memory the caller
// must persist for the next call, and whether an auto-redeploy should
// be issued as a side effect.
type ProjectionResult struct {
	Snapshot           Snapshot
	Memory             ProjectorMemory
	ShouldAutoRedeploy bool
}

// Project is pure: identical (input, memory, now) always yields an
// identical ProjectionResult.
func Project(input ProjectorInput, memory ProjectorMemory, now time.Time) ProjectionResult {
	key := input.ChatID + "|" + input.ComposeID
	if memory.SessionKey != key {
		memory = ProjectorMemory{SessionKey: key, LastTransitionAt: now}
	}

	shouldAutoRedeploy := false
	forcedError := false
	forcedMessage := ""

	if input.DeploymentStatus == "queued" {
		if memory.QueuedSince == nil {
			t := now
			memory.QueuedSince = &t
		}
		if now.Sub(*memory.QueuedSince) >= QueuedTimeout {
			if memory.RetryCount < MaxAutoRedeployRetries {
				shouldAutoRedeploy = true
				memory.RetryCount++
				memory.QueuedSince = nil
			} else {
				forcedError = true
				forcedMessage = fmt.Sprintf(
					"Deployment has been queued for over %d seconds and an automatic retry has already been attempted; manual intervention is required.",
					int(QueuedTimeout.Seconds()))
			}
		}
	} else {
		memory.QueuedSince = nil
	}

	var state, message string
	switch {
	case forcedError:
		state, message = StateError, forcedMessage

	case input.ConnectionState == "error":
		if input.RuntimeToken != "" && memory.LastHealthyAt != nil && now.Sub(*memory.LastHealthyAt) <= ReconnectGrace {
			state = StateReconnecting
			message = "Connection lost, attempting to reconnect..."
			if memory.ReconnectSince == nil {
				t := now
				memory.ReconnectSince = &t
			}
		} else {
			state = StateError
			message = "Unable to connect to the runtime session."
			memory.ReconnectSince = nil
		}

	case input.SessionStatus == "creating":
		state, message = StateProvisioning, "Provisioning your workspace..."

	case input.DeploymentStatus == "queued" || input.DeploymentStatus == "running" || input.SessionStatus == "deploying":
		state, message = StateDeploying, "Deploying your workspace..."

	case input.SessionStatus == "ready" && input.DeploymentStatus == "done":
		state, message = StateReady, "Ready"
		t := now
		memory.LastHealthyAt = &t
		memory.ReconnectSince = nil

	case input.PreviewURL != "":
		state, message = StateDeploying, "Waiting for preview to become available..."

	default:
		state, message = StateProvisioning, "Provisioning your workspace..."
	}

	if state != memory.LastState {
		memory.LastTransitionAt = now
		memory.LastState = state
	}

	return ProjectionResult{
		Snapshot: Snapshot{
			State: state, Message: message,
			RetryCount: memory.RetryCount, MaxRetries: MaxAutoRedeployRetries,
			QueuedSince: memory.QueuedSince, LastTransitionAt: memory.LastTransitionAt,
		},
		Memory:             memory,
		ShouldAutoRedeploy: shouldAutoRedeploy,
	}
}
