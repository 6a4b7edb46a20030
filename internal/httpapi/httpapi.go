// Package httpapi implements HttpSurface (spec.md §4.8): a thin,
// stateless gin adaptor over SessionOrchestrator and PlatformClient.
// Grounded on services/gateway/internal/handler/'s handler-struct-per-
// domain pattern (a struct holding its dependencies, one method per
// route, c.ShouldBindJSON/c.Query for input) and
// services/gateway/cmd/gateway/main.go's router/CORS wiring.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/cache"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/config"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/errs"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/orchestrator"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/pathmap"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/sweeper"
	"github.com/Aadithya-J/code_nest/services/runtime-service/pkg/runtimeclient/notify"
)

const actorCookieName = "bolt_actor_id"

// Surface holds every dependency a handler needs. Stateless beyond
// these references: no per-request mutable fields.
type Surface struct {
	cfg      config.Config
	orch     *orchestrator.Orchestrator
	client   *platform.Client
	dirCache *cache.DirectoryListingCache
	sweep    *sweeper.Sweeper
	hub      *notify.Hub
}

func New(cfg config.Config, orch *orchestrator.Orchestrator, client *platform.Client, dirCache *cache.DirectoryListingCache, sweep *sweeper.Sweeper, hub *notify.Hub) *Surface {
	return &Surface{cfg: cfg, orch: orch, client: client, dirCache: dirCache, sweep: sweep, hub: hub}
}

// Router builds the gin engine, matching gateway/cmd/gateway/main.go's
// gin.Default() + cors.New(cors.Config{...}) wiring.
func (s *Surface) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "x-request-id"},
	}))
	r.Use(s.requestIDMiddleware)

	g := r.Group("/api/runtime")
	g.Use(s.requireDokploy)
	{
		g.POST("/session", s.handleSessionCreateOrDelete)
		g.GET("/session", s.handleSessionGet)
		g.DELETE("/session", s.handleSessionDelete)
		g.POST("/session/heartbeat", s.handleHeartbeat)
		g.GET("/notify", s.handleNotify)

		g.GET("/files/list", s.handleFileList)
		g.GET("/files/read", s.handleFileRead)
		g.PUT("/files/write", s.handleFileWrite)
		g.POST("/files/write", s.handleFileWrite)
		g.POST("/files/mkdir", s.handleFileMkdir)
		g.DELETE("/files/delete", s.handleFileDelete)
		g.GET("/files/search", s.handleFileSearch)

		g.POST("/deploy/redeploy", s.handleRedeploy)
	}
	// Cleanup is protected by its own secret-header check, not the
	// provider gate, per spec.md §4.7 ("the orchestrator core does not
	// surface it to end users").
	r.POST("/api/runtime/cleanup", s.requestIDMiddleware, s.handleCleanup)

	return r
}

func (s *Surface) requestIDMiddleware(c *gin.Context) {
	rid := c.GetHeader("x-request-id")
	if rid == "" {
		rid = uuid.NewString()
	}
	c.Set("requestId", rid)
	c.Header("x-request-id", rid)
	c.Next()
}

func (s *Surface) requireDokploy(c *gin.Context) {
	if s.cfg.Provider != config.ProviderDokploy {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "runtime provider is not dokploy"))
		c.Abort()
		return
	}
	c.Next()
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get("requestId"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func writeError(c *gin.Context, err error) {
	re, ok := errs.As(err)
	if !ok {
		re = errs.Wrap(http.StatusInternalServerError, errs.CodeInternal, "unexpected error", err)
	}
	body := gin.H{"error": re.Message, "code": re.Code}
	if re.Details != nil {
		body["details"] = re.Details
	}
	c.JSON(re.Status, body)
}

// extractToken implements spec.md §4.8's precedence: Authorization
// bearer, then body runtimeToken, then query runtimeToken.
func extractToken(c *gin.Context, bodyToken string) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if bodyToken != "" {
		return bodyToken
	}
	return c.Query("runtimeToken")
}

func requireToken(c *gin.Context, bodyToken string) (string, bool) {
	tok := extractToken(c, bodyToken)
	if tok == "" {
		writeError(c, errs.New(http.StatusUnauthorized, errs.CodeMissingRuntimeToken, "runtime token is required"))
		return "", false
	}
	return tok, true
}

// --- session endpoints ---

type sessionCreateRequest struct {
	ChatID       string `json:"chatId"`
	TemplateID   string `json:"templateId"`
	RuntimeToken string `json:"runtimeToken"`
}

func (s *Surface) handleSessionCreateOrDelete(c *gin.Context) {
	if c.Query("intent") == "delete" {
		var body sessionCreateRequest
		_ = c.ShouldBindJSON(&body)
		tok, ok := requireToken(c, body.RuntimeToken)
		if !ok {
			return
		}
		if err := s.orch.Delete(c.Request.Context(), tok, requestID(c)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true})
		return
	}

	var body sessionCreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "invalid request body"))
		return
	}
	if len(body.ChatID) == 0 || len(body.ChatID) > 256 {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "chatId is required and must be <= 256 bytes"))
		return
	}

	actorID := actorIDFromCookie(c)

	result, err := s.orch.Create(c.Request.Context(), actorID, body.ChatID, body.TemplateID, requestID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(actorCookieName, actorID, 365*24*60*60, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{
		"runtimeToken":     result.Token,
		"session":          result.Session,
		"deploymentStatus": result.DeploymentStatus,
	})
}

func actorIDFromCookie(c *gin.Context) string {
	if v, err := c.Cookie(actorCookieName); err == nil && v != "" {
		return v
	}
	return uuid.NewString()
}

func (s *Surface) handleSessionGet(c *gin.Context) {
	tok, ok := requireToken(c, "")
	if !ok {
		return
	}
	result, err := s.orch.Get(c.Request.Context(), tok, requestID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionStatus":    result.Session.Status,
		"previewUrl":       result.Session.PreviewURL,
		"deploymentStatus": result.DeploymentStatus,
		"session":          result.Session,
	})
}

func (s *Surface) handleSessionDelete(c *gin.Context) {
	var body sessionCreateRequest
	_ = c.ShouldBindJSON(&body)
	tok, ok := requireToken(c, body.RuntimeToken)
	if !ok {
		return
	}
	if err := s.orch.Delete(c.Request.Context(), tok, requestID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Surface) handleHeartbeat(c *gin.Context) {
	var body sessionCreateRequest
	_ = c.ShouldBindJSON(&body)
	tok, ok := requireToken(c, body.RuntimeToken)
	if !ok {
		return
	}
	result, err := s.orch.Heartbeat(c.Request.Context(), tok, requestID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if s.hub != nil {
		if claims, err := s.orch.WithClaims(tok); err == nil {
			s.hub.Notify(claims.ComposeID, "heartbeat")
		}
	}
	resp := gin.H{"status": result.Status, "expiresAt": result.ExpiresAt}
	if result.Token != "" {
		resp["runtimeToken"] = result.Token
	}
	c.JSON(http.StatusOK, resp)
}

// handleNotify upgrades the connection to a websocket subscribed to
// wake-up events for the token's compose (supplement 4, pkg/runtimeclient/notify).
func (s *Surface) handleNotify(c *gin.Context) {
	if s.hub == nil {
		writeError(c, errs.New(http.StatusNotImplemented, errs.CodeNotImplemented, "notify channel is not configured"))
		return
	}
	tok, ok := requireToken(c, "")
	if !ok {
		return
	}
	claims, err := s.orch.WithClaims(tok)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.hub.Serve(c.Writer, c.Request, claims.ComposeID); err != nil {
		writeError(c, errs.Wrap(http.StatusInternalServerError, errs.CodeInternal, "failed upgrading notify connection", err))
	}
}

// --- file endpoints ---

type fileEntryResponse struct {
	Name        string `json:"name"`
	VirtualPath string `json:"virtualPath"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size"`
	ModifiedAt  string `json:"modifiedAt"`
}

func toFileEntryResponses(entries []platform.FileEntry) ([]fileEntryResponse, error) {
	out := make([]fileEntryResponse, 0, len(entries))
	for _, e := range entries {
		vp, err := pathmap.ToVirtualPath(e.PlatformPath)
		if err != nil {
			return nil, err
		}
		out = append(out, fileEntryResponse{
			Name: e.Name, VirtualPath: vp, IsDirectory: e.IsDirectory,
			Size: e.Size, ModifiedAt: e.ModifiedAt,
		})
	}
	return out, nil
}

func (s *Surface) resolveComposeID(c *gin.Context, bodyToken string) (string, bool) {
	tok, ok := requireToken(c, bodyToken)
	if !ok {
		return "", false
	}
	claims, err := s.orch.WithClaims(tok)
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return claims.ComposeID, true
}

func pathParam(c *gin.Context) (string, bool) {
	p := c.Query("path")
	if len(p) > 4096 {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "path must be <= 4KiB"))
		return "", false
	}
	if p == "" {
		p = pathmap.Root
	}
	return p, true
}

func (s *Surface) handleFileList(c *gin.Context) {
	composeID, ok := s.resolveComposeID(c, "")
	if !ok {
		return
	}
	vp, ok := pathParam(c)
	if !ok {
		return
	}
	platformPath, err := pathmap.ToPlatformPath(vp)
	if err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "Invalid runtime path"))
		return
	}

	tok := extractToken(c, "")
	if entries, hit := s.dirCache.Get(c.Request.Context(), tok, platformPath); hit {
		resp, err := toFileEntryResponses(entries)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": resp})
		return
	}

	entries, err := s.client.FileList(c.Request.Context(), composeID, platformPath, requestID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	s.dirCache.Set(c.Request.Context(), tok, platformPath, entries)

	resp, err := toFileEntryResponses(entries)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": resp})
}

func (s *Surface) handleFileRead(c *gin.Context) {
	composeID, ok := s.resolveComposeID(c, "")
	if !ok {
		return
	}
	vp := c.Query("path")
	if vp == "" {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "path is required"))
		return
	}
	platformPath, err := pathmap.ToPlatformPath(vp)
	if err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "Invalid runtime path"))
		return
	}

	content, err := s.client.FileRead(c.Request.Context(), composeID, platformPath, requestID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": gin.H{
		"content": content.Content, "encoding": content.Encoding,
		"isBinary": content.IsBinary, "virtualPath": vp,
	}})
}

type fileWriteRequest struct {
	Path         string `json:"path"`
	Content      string `json:"content"`
	Encoding     string `json:"encoding"`
	RuntimeToken string `json:"runtimeToken"`
}

func (s *Surface) handleFileWrite(c *gin.Context) {
	var body fileWriteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "invalid request body"))
		return
	}
	if body.Encoding != "utf8" && body.Encoding != "base64" {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "encoding must be utf8 or base64"))
		return
	}
	composeID, ok := s.resolveComposeID(c, body.RuntimeToken)
	if !ok {
		return
	}
	platformPath, err := pathmap.ToPlatformPath(body.Path)
	if err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "Invalid runtime path"))
		return
	}

	if err := s.client.FileWrite(c.Request.Context(), composeID, platformPath, body.Content, body.Encoding, requestID(c)); err != nil {
		writeError(c, err)
		return
	}

	tok := extractToken(c, body.RuntimeToken)
	s.dirCache.InvalidateToken(c.Request.Context(), tok)

	if pathmap.IsRedeployTriggerPath(body.Path) {
		if err := s.client.ComposeRedeploy(c.Request.Context(), composeID, requestID(c)); err != nil {
			writeError(c, err)
			return
		}
		if s.hub != nil {
			s.hub.Notify(composeID, "redeploy-triggered")
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type fileMkdirRequest struct {
	Path         string `json:"path"`
	RuntimeToken string `json:"runtimeToken"`
}

func (s *Surface) handleFileMkdir(c *gin.Context) {
	var body fileMkdirRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "invalid request body"))
		return
	}
	composeID, ok := s.resolveComposeID(c, body.RuntimeToken)
	if !ok {
		return
	}
	platformPath, err := pathmap.ToPlatformPath(body.Path)
	if err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "Invalid runtime path"))
		return
	}
	if err := s.client.FileMkdir(c.Request.Context(), composeID, platformPath, requestID(c)); err != nil {
		writeError(c, err)
		return
	}
	tok := extractToken(c, body.RuntimeToken)
	s.dirCache.InvalidateToken(c.Request.Context(), tok)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type fileDeleteRequest struct {
	Path         string `json:"path"`
	Recursive    bool   `json:"recursive"`
	RuntimeToken string `json:"runtimeToken"`
}

func (s *Surface) handleFileDelete(c *gin.Context) {
	var body fileDeleteRequest
	_ = c.ShouldBindJSON(&body)
	if body.Path == "" {
		body.Path = c.Query("path")
	}
	composeID, ok := s.resolveComposeID(c, body.RuntimeToken)
	if !ok {
		return
	}
	platformPath, err := pathmap.ToPlatformPath(body.Path)
	if err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "Invalid runtime path"))
		return
	}
	if err := s.client.FileDelete(c.Request.Context(), composeID, platformPath, body.Recursive, requestID(c)); err != nil {
		writeError(c, err)
		return
	}
	tok := extractToken(c, body.RuntimeToken)
	s.dirCache.InvalidateToken(c.Request.Context(), tok)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Surface) handleFileSearch(c *gin.Context) {
	composeID, ok := s.resolveComposeID(c, "")
	if !ok {
		return
	}
	query := c.Query("query")
	if query == "" || len(query) > 512 {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "query is required and must be <= 512 bytes"))
		return
	}
	vp, ok := pathParam(c)
	if !ok {
		return
	}
	platformPath, err := pathmap.ToPlatformPath(vp)
	if err != nil {
		writeError(c, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "Invalid runtime path"))
		return
	}
	entries, err := s.client.FileSearch(c.Request.Context(), composeID, query, platformPath, requestID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	resp, err := toFileEntryResponses(entries)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": resp})
}

type redeployRequest struct {
	Reason       string `json:"reason"`
	RuntimeToken string `json:"runtimeToken"`
}

func (s *Surface) handleRedeploy(c *gin.Context) {
	var body redeployRequest
	_ = c.ShouldBindJSON(&body)
	composeID, ok := s.resolveComposeID(c, body.RuntimeToken)
	if !ok {
		return
	}
	if err := s.client.ComposeRedeploy(c.Request.Context(), composeID, requestID(c)); err != nil {
		writeError(c, err)
		return
	}
	if s.hub != nil {
		s.hub.Notify(composeID, "redeploy-triggered")
	}
	c.JSON(http.StatusOK, gin.H{"queued": true})
}

// --- operator endpoint ---

type cleanupRequest struct {
	ActorID string `json:"actorId"`
}

func (s *Surface) handleCleanup(c *gin.Context) {
	if s.cfg.CleanupSecret != "" {
		if c.GetHeader("x-runtime-cleanup-secret") != s.cfg.CleanupSecret {
			writeError(c, errs.New(http.StatusForbidden, errs.CodeForbidden, "invalid cleanup secret"))
			return
		}
	}

	var body cleanupRequest
	_ = c.ShouldBindJSON(&body)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	if body.ActorID != "" {
		if err := s.sweep.Run(ctx, body.ActorID, requestID(c)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true, "actorCount": 1})
		return
	}

	count, err := s.sweep.RunAll(ctx, requestID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "actorCount": count})
}
