package orchestrator

import "github.com/Aadithya-J/code_nest/services/runtime-service/internal/metadata"

// Session is the logical lease over a compose for (actorId, chatId),
// returned to httpapi from every orchestrator operation.
type Session struct {
	ProjectID     string          `json:"projectId"`
	EnvironmentID string          `json:"environmentId"`
	ComposeID     string          `json:"composeId"`
	Domain        string          `json:"domain"`
	PreviewURL    string          `json:"previewUrl"`
	Status        SessionStatus   `json:"status"`
	ExpiresAt     int64           `json:"expiresAt"`
	ServerID      string          `json:"serverId,omitempty"`
	RolloutCohort metadata.Cohort `json:"rolloutCohort"`
}

// Template is a seed project: a compose file plus a set of path->content
// entries written into a freshly created compose.
type Template struct {
	ID          string
	ComposeFile string
	Files       map[string]string
}
