package platform

import (
	"context"
	"encoding/json"
)

// ProjectAll lists every project the API key can see (used to check
// whether the (actor) project already exists before creating it).
func (c *Client) ProjectAll(ctx context.Context, requestID string) ([]Project, error) {
	raw, err := c.call(ctx, "project.all", false, struct{}{}, requestID)
	if err != nil {
		return nil, err
	}
	var out []Project
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("project.all", err)
	}
	return out, nil
}

// ProjectCreate creates a new project (the actor's per-user grouping).
func (c *Client) ProjectCreate(ctx context.Context, name string, requestID string) (*Project, error) {
	if err := requireNonEmpty("name", name); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "project.create", true, map[string]any{"name": name}, requestID)
	if err != nil {
		return nil, err
	}
	var out Project
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("project.create", err)
	}
	return &out, nil
}

// ProjectOne fetches a single project with its full environment list.
func (c *Client) ProjectOne(ctx context.Context, projectID string, requestID string) (*Project, error) {
	if err := requireNonEmpty("projectId", projectID); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "project.one", false, map[string]any{"projectId": projectID}, requestID)
	if err != nil {
		return nil, err
	}
	var out Project
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("project.one", err)
	}
	return &out, nil
}

// ComposeAllByProject lists every compose under a project, used during
// reuse search.
func (c *Client) ComposeAllByProject(ctx context.Context, projectID string, requestID string) ([]Compose, error) {
	if err := requireNonEmpty("projectId", projectID); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "compose.allByProject", false, map[string]any{"projectId": projectID}, requestID)
	if err != nil {
		return nil, err
	}
	var out []Compose
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("compose.allByProject", err)
	}
	return out, nil
}

// ComposeOne fetches full compose state, including description/status.
func (c *Client) ComposeOne(ctx context.Context, composeID string, requestID string) (*Compose, error) {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "compose.one", false, map[string]any{"composeId": composeID}, requestID)
	if err != nil {
		return nil, err
	}
	var out Compose
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("compose.one", err)
	}
	return &out, nil
}

// ComposeCreateInput carries the fields spec.md §4.6 step 8 requires
// when no reusable compose exists.
type ComposeCreateInput struct {
	ProjectID     string
	EnvironmentID string
	Name          string
	AppName       string
	ComposeType   string
	ComposeFile   string
	Description   string
	ServerID      string
}

func (c *Client) ComposeCreate(ctx context.Context, in ComposeCreateInput, requestID string) (*Compose, error) {
	if err := requireNonEmpty("projectId", in.ProjectID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("name", in.Name); err != nil {
		return nil, err
	}
	body := map[string]any{
		"projectId":     in.ProjectID,
		"environmentId": in.EnvironmentID,
		"name":          in.Name,
		"appName":       in.AppName,
		"composeType":   in.ComposeType,
		"composeFile":   in.ComposeFile,
		"description":   in.Description,
	}
	if in.ServerID != "" {
		body["serverId"] = in.ServerID
	}
	raw, err := c.call(ctx, "compose.create", true, body, requestID)
	if err != nil {
		return nil, err
	}
	var out Compose
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("compose.create", err)
	}
	return &out, nil
}

// ComposeUpdate patches mutable compose fields (source type, compose
// path, description).
func (c *Client) ComposeUpdate(ctx context.Context, composeID string, updates map[string]any, requestID string) error {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return err
	}
	body := map[string]any{"composeId": composeID}
	for k, v := range updates {
		body[k] = v
	}
	_, err := c.call(ctx, "compose.update", true, body, requestID)
	return err
}

// ComposeDeploy queues a (re)deploy for composeID.
func (c *Client) ComposeDeploy(ctx context.Context, composeID string, requestID string) error {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return err
	}
	_, err := c.call(ctx, "compose.deploy", true, map[string]any{"composeId": composeID}, requestID)
	return err
}

// ComposeRedeploy is issued when a redeploy-trigger path is written.
func (c *Client) ComposeRedeploy(ctx context.Context, composeID string, requestID string) error {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return err
	}
	_, err := c.call(ctx, "compose.redeploy", true, map[string]any{"composeId": composeID}, requestID)
	return err
}

// ComposeDelete tears a compose down, optionally deleting its volumes.
func (c *Client) ComposeDelete(ctx context.Context, composeID string, deleteVolumes bool, requestID string) error {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return err
	}
	_, err := c.call(ctx, "compose.delete", true, map[string]any{
		"composeId":     composeID,
		"deleteVolumes": deleteVolumes,
	}, requestID)
	return err
}

// DeploymentAllByCompose lists every deployment recorded for a compose,
// most-recent-first is NOT guaranteed by the platform; callers sort.
func (c *Client) DeploymentAllByCompose(ctx context.Context, composeID string, requestID string) ([]Deployment, error) {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "deployment.allByCompose", false, map[string]any{"composeId": composeID}, requestID)
	if err != nil {
		return nil, err
	}
	var out []Deployment
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("deployment.allByCompose", err)
	}
	return out, nil
}

// DomainByComposeID lists domains attached to a compose.
func (c *Client) DomainByComposeID(ctx context.Context, composeID string, requestID string) ([]Domain, error) {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "domain.byComposeId", false, map[string]any{"composeId": composeID}, requestID)
	if err != nil {
		return nil, err
	}
	var out []Domain
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("domain.byComposeId", err)
	}
	return out, nil
}

// DomainGenerate asks the platform to mint a preview hostname for appName
// (optionally pinned to serverId).
func (c *Client) DomainGenerate(ctx context.Context, appName, serverID string, requestID string) (string, error) {
	if err := requireNonEmpty("appName", appName); err != nil {
		return "", err
	}
	body := map[string]any{"appName": appName}
	if serverID != "" {
		body["serverId"] = serverID
	}
	raw, err := c.call(ctx, "domain.generateDomain", false, body, requestID)
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		var wrapped struct {
			Domain string `json:"domain"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return "", toRuntimeError("domain.generateDomain", err)
		}
		return wrapped.Domain, nil
	}
	return out, nil
}

// DomainCreate attaches a generated domain to a compose on the fixed
// path "/", port 4173, http, no certificate, service name "app" (per
// spec.md §4.6 step 7).
func (c *Client) DomainCreate(ctx context.Context, composeID, host string, requestID string) (*Domain, error) {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("host", host); err != nil {
		return nil, err
	}
	body := map[string]any{
		"composeId":   composeID,
		"host":        host,
		"path":        "/",
		"port":        4173,
		"https":       false,
		"certificate": "none",
		"serviceName": "app",
	}
	raw, err := c.call(ctx, "domain.create", true, body, requestID)
	if err != nil {
		return nil, err
	}
	var out Domain
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("domain.create", err)
	}
	return &out, nil
}

// ServerAll lists servers, used to resolve stable-cohort placement when
// no explicit stable server id is configured.
func (c *Client) ServerAll(ctx context.Context, requestID string) ([]Server, error) {
	raw, err := c.call(ctx, "server.all", false, struct{}{}, requestID)
	if err != nil {
		return nil, err
	}
	var out []Server
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("server.all", err)
	}
	return out, nil
}

// FileList lists the entries directly under platformPath.
func (c *Client) FileList(ctx context.Context, composeID, platformPath string, requestID string) ([]FileEntry, error) {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "fileManager.list", false, map[string]any{
		"composeId": composeID,
		"path":      platformPath,
	}, requestID)
	if err != nil {
		return nil, err
	}
	var out []FileEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("fileManager.list", err)
	}
	return out, nil
}

// FileRead reads a single file's content.
func (c *Client) FileRead(ctx context.Context, composeID, platformPath string, requestID string) (*FileContent, error) {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("path", platformPath); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "fileManager.read", false, map[string]any{
		"composeId": composeID,
		"path":      platformPath,
	}, requestID)
	if err != nil {
		return nil, err
	}
	var out FileContent
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("fileManager.read", err)
	}
	return &out, nil
}

// FileWrite writes content (utf8 or base64) to platformPath, overwriting
// any existing file.
func (c *Client) FileWrite(ctx context.Context, composeID, platformPath, content, encoding string, requestID string) error {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return err
	}
	if err := requireNonEmpty("path", platformPath); err != nil {
		return err
	}
	_, err := c.call(ctx, "fileManager.write", true, map[string]any{
		"composeId": composeID,
		"path":      platformPath,
		"content":   content,
		"encoding":  encoding,
		"overwrite": true,
	}, requestID)
	return err
}

// FileMkdir creates platformPath (and, implicitly, its parents).
func (c *Client) FileMkdir(ctx context.Context, composeID, platformPath string, requestID string) error {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return err
	}
	if err := requireNonEmpty("path", platformPath); err != nil {
		return err
	}
	_, err := c.call(ctx, "fileManager.mkdir", true, map[string]any{
		"composeId": composeID,
		"path":      platformPath,
	}, requestID)
	return err
}

// FileDelete removes platformPath, recursively when recursive is true.
func (c *Client) FileDelete(ctx context.Context, composeID, platformPath string, recursive bool, requestID string) error {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return err
	}
	if err := requireNonEmpty("path", platformPath); err != nil {
		return err
	}
	_, err := c.call(ctx, "fileManager.delete", true, map[string]any{
		"composeId": composeID,
		"path":      platformPath,
		"recursive": recursive,
	}, requestID)
	return err
}

// FileSearch searches file names/content under platformPath for query.
func (c *Client) FileSearch(ctx context.Context, composeID, query, platformPath string, requestID string) ([]FileEntry, error) {
	if err := requireNonEmpty("composeId", composeID); err != nil {
		return nil, err
	}
	if err := requireNonEmpty("query", query); err != nil {
		return nil, err
	}
	raw, err := c.call(ctx, "fileManager.search", false, map[string]any{
		"composeId": composeID,
		"query":     query,
		"path":      platformPath,
	}, requestID)
	if err != nil {
		return nil, err
	}
	var out []FileEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, toRuntimeError("fileManager.search", err)
	}
	return out, nil
}
