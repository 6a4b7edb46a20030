package platform

// Project, Environment, Compose, Deployment, Domain, and Server mirror
// the subset of the platform's trpc response shapes this system reads.
// Field names follow the platform's own JSON casing (camelCase) since
// these are decoded directly out of "result.data.json".

type Project struct {
	ProjectID    string        `json:"projectId"`
	Name         string        `json:"name"`
	Environments []Environment `json:"environments"`
}

type Environment struct {
	EnvironmentID string `json:"environmentId"`
	Name          string `json:"name"`
	IsDefault     bool   `json:"isDefault"`
}

type Compose struct {
	ComposeID   string `json:"composeId"`
	Name        string `json:"name"`
	AppName     string `json:"appName"`
	Description string `json:"description"`
	ServerID    string `json:"serverId,omitempty"`
	Status      string `json:"composeStatus"`
	ProjectID   string `json:"projectId"`
}

type Deployment struct {
	DeploymentID string `json:"deploymentId"`
	ComposeID    string `json:"composeId"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

type Domain struct {
	DomainID  string `json:"domainId"`
	ComposeID string `json:"composeId"`
	Host      string `json:"host"`
	Path      string `json:"path"`
	Port      int    `json:"port"`
	HTTPS     bool   `json:"https"`
}

type Server struct {
	ServerID   string `json:"serverId"`
	SSHEnabled bool   `json:"sshEnabled"`
}

// FileEntry mirrors the platform file-manager listing shape (before
// httpapi/orchestrator attach a VirtualPath).
type FileEntry struct {
	Name         string `json:"name"`
	PlatformPath string `json:"path"`
	IsDirectory  bool   `json:"isDirectory"`
	Size         int64  `json:"size"`
	ModifiedAt   string `json:"modifiedAt"`
}

// FileContent is a single-file read result.
type FileContent struct {
	PlatformPath string `json:"path"`
	Content      string `json:"content"`
	Encoding     string `json:"encoding"`
	IsBinary     bool   `json:"isBinary"`
}
