// Package orchestrator implements SessionOrchestrator (spec.md §4.6),
// the hardest component: single-flighted create/reuse/recover of
// compose deployments per (actor, chat), lease issuance/renewal, and
// cascade teardown.
//
// Grounded on workspace-service/internal/service/workspace_service.go's
// shape (a service struct holding narrow repository-style interfaces,
// one method per external operation, status.Errorf-style error mapping
// generalized here to errs.RuntimeError) with the single-flight and
// status-derivation machinery spec.md §5/§9 calls for layered on top.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/errs"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/events"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/metadata"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/rollout"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/sweeper"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/token"
)

// TemplateProvider resolves a templateId (falling back to the default
// template for an unknown or empty id) without orchestrator importing
// the template package, which would otherwise be circular (the template
// package needs orchestrator.Template).
type TemplateProvider func(templateID string) Template

// Config carries the deployment-shape knobs spec.md §6 exposes as
// environment configuration.
type Config struct {
	StableServerID       string
	CanaryServerID       string
	CanaryRolloutPercent int
	SessionIdleMinutes   int
	TokenSecret          string
	ResolveTemplate      TemplateProvider
	Now                  func() time.Time // overridable clock for tests
}

type Orchestrator struct {
	client    *platform.Client
	sweep     *sweeper.Sweeper
	publisher *events.Publisher
	cfg       Config
	group     singleflight.Group
}

func New(client *platform.Client, sweep *sweeper.Sweeper, publisher *events.Publisher, cfg Config) *Orchestrator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{client: client, sweep: sweep, publisher: publisher, cfg: cfg}
}

func (o *Orchestrator) now() time.Time { return o.cfg.Now() }

// CreateResult is returned by Create.
type CreateResult struct {
	Token            string
	Session          Session
	DeploymentStatus DeploymentStatus
}

// Create implements spec.md §4.6's create operation: single-flighted,
// with a pre-create sweep, reuse search, and create-path fallback.
func (o *Orchestrator) Create(ctx context.Context, actorID, chatID, templateID, requestID string) (*CreateResult, error) {
	if actorID == "" || chatID == "" {
		return nil, errs.New(http.StatusBadRequest, errs.CodeBadRequest, "actorId and chatId are required")
	}

	key := actorID + "|" + chatID
	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.create(ctx, actorID, chatID, templateID, requestID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CreateResult), nil
}

func (o *Orchestrator) create(ctx context.Context, actorID, chatID, templateID, requestID string) (*CreateResult, error) {
	// Pre-create sweep: best-effort, failures logged not fatal.
	if o.sweep != nil {
		if err := o.sweep.Run(ctx, actorID, requestID); err != nil {
			log.Printf("orchestrator: pre-create sweep for actor %s failed: %v", actorID, err)
		}
	}

	project, err := o.ensureActorProject(ctx, actorID, requestID)
	if err != nil {
		return nil, err
	}

	env, err := resolveEnvironment(project.Environments)
	if err != nil {
		return nil, err
	}

	selection := rollout.Select(actorID, chatID, o.cfg.CanaryRolloutPercent)
	cohort := metadata.Cohort(selection.Cohort)

	winner, stale, err := o.reuseSearch(ctx, project.ProjectID, actorID, chatID, requestID)
	if err != nil {
		return nil, err
	}

	var result *CreateResult
	if winner != nil {
		result, err = o.reuse(ctx, project.ProjectID, env.EnvironmentID, *winner, cohort, requestID)
		if err != nil {
			return nil, err
		}
		o.deleteStale(ctx, stale, requestID)
		if o.publisher != nil {
			o.publisher.Publish(ctx, events.SessionReused, events.Payload{ActorID: actorID, ChatID: chatID, ComposeID: result.Session.ComposeID})
		}
		return result, nil
	}

	result, err = o.createFresh(ctx, project.ProjectID, env.EnvironmentID, actorID, chatID, templateID, cohort, requestID)
	if err != nil {
		if re, ok := errs.As(err); ok && re.Code == errs.CodeConflict {
			// Re-fetch and re-run reuse search once, per spec.md §4.6 step 8.
			project, refetchErr := o.client.ProjectOne(ctx, project.ProjectID, requestID)
			if refetchErr != nil {
				return nil, err
			}
			winner, stale, searchErr := o.reuseSearch(ctx, project.ProjectID, actorID, chatID, requestID)
			if searchErr != nil || winner == nil {
				return nil, err
			}
			result, reuseErr := o.reuse(ctx, project.ProjectID, env.EnvironmentID, *winner, cohort, requestID)
			if reuseErr != nil {
				return nil, err
			}
			o.deleteStale(ctx, stale, requestID)
			return result, nil
		}
		return nil, err
	}

	if o.publisher != nil {
		o.publisher.Publish(ctx, events.SessionCreated, events.Payload{ActorID: actorID, ChatID: chatID, ComposeID: result.Session.ComposeID})
	}
	return result, nil
}

func (o *Orchestrator) ensureActorProject(ctx context.Context, actorID, requestID string) (*platform.Project, error) {
	name := "bolt-actor-" + shortHash(actorID, 10)

	projects, err := o.client.ProjectAll(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Name == name {
			return o.client.ProjectOne(ctx, p.ProjectID, requestID)
		}
	}

	created, err := o.client.ProjectCreate(ctx, name, requestID)
	if err != nil {
		return nil, err
	}
	return o.client.ProjectOne(ctx, created.ProjectID, requestID)
}

func resolveEnvironment(envs []platform.Environment) (*platform.Environment, error) {
	for _, e := range envs {
		if e.IsDefault {
			return &e, nil
		}
	}
	for _, e := range envs {
		if e.Name == "production" {
			return &e, nil
		}
	}
	if len(envs) > 0 {
		return &envs[0], nil
	}
	return nil, errs.New(http.StatusInternalServerError, errs.CodeNoEnvironment, "project has no environments")
}

// reuseCandidate bundles a compose with its derived statuses so the
// caller doesn't re-derive them after picking a winner.
type reuseCandidate struct {
	compose          platform.Compose
	metadata         metadata.SessionMetadata
	deploymentStatus DeploymentStatus
	sessionStatus    SessionStatus
}

func (o *Orchestrator) reuseSearch(ctx context.Context, projectID, actorID, chatID, requestID string) (*reuseCandidate, []reuseCandidate, error) {
	composes, err := o.client.ComposeAllByProject(ctx, projectID, requestID)
	if err != nil {
		return nil, nil, err
	}

	var candidates []reuseCandidate
	for _, c := range composes {
		m, ok := metadata.Parse(c.Description)
		if !ok || m.ActorID != actorID || m.ChatID != chatID {
			continue
		}

		full, err := o.client.ComposeOne(ctx, c.ComposeID, requestID)
		if err != nil {
			log.Printf("orchestrator: reuse candidate %s fetch failed, skipping: %v", c.ComposeID, err)
			continue
		}
		deployments, err := o.client.DeploymentAllByCompose(ctx, c.ComposeID, requestID)
		if err != nil {
			log.Printf("orchestrator: reuse candidate %s deployments fetch failed, skipping: %v", c.ComposeID, err)
			continue
		}

		deploymentStatus := deriveDeploymentStatus(deployments)
		sessionStatus := deriveSessionStatus(deploymentStatus, full.Status)
		if !isReusable(sessionStatus) {
			continue
		}

		candidates = append(candidates, reuseCandidate{
			compose: *full, metadata: *m,
			deploymentStatus: deploymentStatus, sessionStatus: sessionStatus,
		})
	}

	if len(candidates) == 0 {
		return nil, nil, nil
	}

	winnerIdx := 0
	for i, c := range candidates {
		if c.metadata.LastSeenAt > candidates[winnerIdx].metadata.LastSeenAt {
			winnerIdx = i
		}
	}
	winner := candidates[winnerIdx]

	var stale []reuseCandidate
	for i, c := range candidates {
		if i != winnerIdx {
			stale = append(stale, c)
		}
	}
	return &winner, stale, nil
}

func (o *Orchestrator) reuse(ctx context.Context, projectID, environmentID string, winner reuseCandidate, currentCohort metadata.Cohort, requestID string) (*CreateResult, error) {
	cohort := winner.metadata.Cohort
	if cohort == "" {
		if winner.compose.ServerID != "" && winner.compose.ServerID == o.cfg.CanaryServerID {
			cohort = metadata.CohortCanary
		} else {
			cohort = currentCohort
		}
	}

	newMeta := metadata.SessionMetadata{
		ActorID:    winner.metadata.ActorID,
		ChatID:     winner.metadata.ChatID,
		CreatedAt:  winner.metadata.CreatedAt,
		LastSeenAt: o.now().UnixMilli(),
		IdleTTLSec: int64(o.cfg.SessionIdleMinutes) * 60,
		Cohort:     cohort,
	}
	desc, err := metadata.Format(newMeta)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, errs.CodeInternal, "failed formatting session metadata", err)
	}
	if err := o.client.ComposeUpdate(ctx, winner.compose.ComposeID, map[string]any{"description": desc}, requestID); err != nil {
		return nil, err
	}

	domain, err := o.ensureDomain(ctx, winner.compose.ComposeID, winner.compose.AppName, winner.compose.ServerID, requestID)
	if err != nil {
		return nil, err
	}

	deploymentStatus := winner.deploymentStatus
	if deploymentStatus == DeploymentQueued || deploymentStatus == DeploymentError {
		if err := o.client.ComposeDeploy(ctx, winner.compose.ComposeID, requestID); err != nil {
			return nil, err
		}
		deploymentStatus = DeploymentQueued
	}

	tok, expiresAt, err := o.issueToken(newMeta.ActorID, newMeta.ChatID, projectID, environmentID, winner.compose.ComposeID, domain)
	if err != nil {
		return nil, err
	}

	session := Session{
		ProjectID: projectID, EnvironmentID: environmentID, ComposeID: winner.compose.ComposeID,
		Domain: domain, PreviewURL: previewURL(domain),
		Status:    deriveSessionStatus(deploymentStatus, winner.compose.Status),
		ExpiresAt: expiresAt, ServerID: winner.compose.ServerID, RolloutCohort: cohort,
	}
	return &CreateResult{Token: tok, Session: session, DeploymentStatus: deploymentStatus}, nil
}

func (o *Orchestrator) deleteStale(ctx context.Context, stale []reuseCandidate, requestID string) {
	for _, c := range stale {
		if err := o.client.ComposeDelete(ctx, c.compose.ComposeID, true, requestID); err != nil {
			log.Printf("orchestrator: stale compose delete %s failed: %v", c.compose.ComposeID, err)
		}
	}
}

func (o *Orchestrator) createFresh(ctx context.Context, projectID, environmentID, actorID, chatID, templateID string, cohort metadata.Cohort, requestID string) (*CreateResult, error) {
	serverID, err := o.resolveServerID(ctx, cohort, requestID)
	if err != nil {
		return nil, err
	}

	composeName := "bolt-chat-" + shortHash(actorID+":"+chatID, 12)

	m := metadata.SessionMetadata{
		ActorID: actorID, ChatID: chatID,
		CreatedAt: o.now().UnixMilli(), LastSeenAt: o.now().UnixMilli(),
		IdleTTLSec: int64(o.cfg.SessionIdleMinutes) * 60, Cohort: cohort,
	}
	desc, err := metadata.Format(m)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, errs.CodeInternal, "failed formatting session metadata", err)
	}

	tmpl := o.cfg.ResolveTemplate(templateID)

	created, err := o.client.ComposeCreate(ctx, platform.ComposeCreateInput{
		ProjectID: projectID, EnvironmentID: environmentID,
		Name: composeName, AppName: composeName,
		ComposeType: "docker-compose", ComposeFile: tmpl.ComposeFile,
		Description: desc, ServerID: serverID,
	}, requestID)
	if err != nil {
		return nil, err
	}

	if err := o.client.ComposeUpdate(ctx, created.ComposeID, map[string]any{
		"sourceType":  "raw",
		"composePath": "docker-compose.yml",
		"description": desc,
	}, requestID); err != nil {
		return nil, err
	}

	for path, content := range tmpl.Files {
		if err := o.client.FileWrite(ctx, created.ComposeID, path, content, "utf8", requestID); err != nil {
			return nil, err
		}
	}

	domain, err := o.ensureDomain(ctx, created.ComposeID, composeName, serverID, requestID)
	if err != nil {
		return nil, err
	}

	deployments, err := o.client.DeploymentAllByCompose(ctx, created.ComposeID, requestID)
	if err != nil {
		return nil, err
	}
	deploymentStatus := deriveDeploymentStatus(deployments)
	if deploymentStatus == DeploymentQueued || deploymentStatus == DeploymentError {
		if err := o.client.ComposeDeploy(ctx, created.ComposeID, requestID); err != nil {
			return nil, err
		}
		deploymentStatus = DeploymentQueued
	}

	tok, expiresAt, err := o.issueToken(actorID, chatID, projectID, environmentID, created.ComposeID, domain)
	if err != nil {
		return nil, err
	}

	session := Session{
		ProjectID: projectID, EnvironmentID: environmentID, ComposeID: created.ComposeID,
		Domain: domain, PreviewURL: previewURL(domain),
		Status:    deriveSessionStatus(deploymentStatus, created.Status),
		ExpiresAt: expiresAt, ServerID: serverID, RolloutCohort: cohort,
	}
	return &CreateResult{Token: tok, Session: session, DeploymentStatus: deploymentStatus}, nil
}

func (o *Orchestrator) resolveServerID(ctx context.Context, cohort metadata.Cohort, requestID string) (string, error) {
	if cohort == metadata.CohortCanary {
		if o.cfg.CanaryServerID == "" {
			return "", errs.New(http.StatusServiceUnavailable, errs.CodeNoCanaryDeployServer, "no canary deploy server configured")
		}
		return o.cfg.CanaryServerID, nil
	}

	if o.cfg.StableServerID != "" {
		return o.cfg.StableServerID, nil
	}
	servers, err := o.client.ServerAll(ctx, requestID)
	if err != nil {
		return "", err
	}
	for _, s := range servers {
		if s.SSHEnabled {
			return s.ServerID, nil
		}
	}
	return "", nil
}

func (o *Orchestrator) ensureDomain(ctx context.Context, composeID, appName, serverID, requestID string) (string, error) {
	domains, err := o.client.DomainByComposeID(ctx, composeID, requestID)
	if err != nil {
		return "", err
	}
	if len(domains) > 0 {
		return domains[0].Host, nil
	}

	host, err := o.client.DomainGenerate(ctx, appName, serverID, requestID)
	if err != nil {
		return "", err
	}
	if host == "" {
		return "", errs.New(http.StatusServiceUnavailable, errs.CodeDomainUnavailable, "platform returned no domain")
	}
	if _, err := o.client.DomainCreate(ctx, composeID, host, requestID); err != nil {
		return "", err
	}
	return host, nil
}

func (o *Orchestrator) issueToken(actorID, chatID, projectID, environmentID, composeID, domain string) (string, int64, error) {
	ttlSec := int64(o.cfg.SessionIdleMinutes) * 60
	tok, err := token.Sign(token.Claims{
		ActorID: actorID, ChatID: chatID, ProjectID: projectID,
		EnvironmentID: environmentID, ComposeID: composeID, Domain: domain,
	}, o.cfg.TokenSecret, ttlSec, o.now())
	if err != nil {
		return "", 0, errs.Wrap(http.StatusInternalServerError, errs.CodeInternal, "failed signing session token", err)
	}
	return tok, o.now().Unix() + ttlSec, nil
}

// GetResult is returned by Get.
type GetResult struct {
	Claims           token.Claims
	Session          Session
	DeploymentStatus DeploymentStatus
}

// Get verifies token and rebuilds session state by re-reading the
// compose, deployments, and domains directly from the platform.
func (o *Orchestrator) Get(ctx context.Context, tokenStr, requestID string) (*GetResult, error) {
	claims, err := o.verifyToken(tokenStr)
	if err != nil {
		return nil, err
	}

	compose, err := o.client.ComposeOne(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}
	deployments, err := o.client.DeploymentAllByCompose(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}
	domains, err := o.client.DomainByComposeID(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}

	m, ok := metadata.Parse(compose.Description)
	if !ok {
		m = &metadata.SessionMetadata{
			ActorID: claims.ActorID, ChatID: claims.ChatID,
			CreatedAt: claims.IssuedAt * 1000, LastSeenAt: claims.IssuedAt * 1000,
			IdleTTLSec: int64(o.cfg.SessionIdleMinutes) * 60,
		}
	}

	domain := claims.Domain
	if len(domains) > 0 {
		domain = domains[0].Host
	}

	deploymentStatus := deriveDeploymentStatus(deployments)
	session := Session{
		ProjectID: claims.ProjectID, EnvironmentID: claims.EnvironmentID, ComposeID: claims.ComposeID,
		Domain: domain, PreviewURL: previewURL(domain),
		Status:    deriveSessionStatus(deploymentStatus, compose.Status),
		ExpiresAt: claims.ExpiresAt, ServerID: compose.ServerID, RolloutCohort: m.Cohort,
	}
	return &GetResult{Claims: *claims, Session: session, DeploymentStatus: deploymentStatus}, nil
}

// HeartbeatResult is returned by Heartbeat.
type HeartbeatResult struct {
	Status    SessionStatus
	ExpiresAt int64
	Token     string
}

// Heartbeat implements spec.md §4.6's sliding-TTL renewal: lastSeenAt is
// rewritten to now, a fresh token is issued with a fresh iat/exp, and a
// heartbeat-triggered sweep for the same actor runs best-effort.
func (o *Orchestrator) Heartbeat(ctx context.Context, tokenStr, requestID string) (*HeartbeatResult, error) {
	claims, err := o.verifyToken(tokenStr)
	if err != nil {
		return nil, err
	}

	compose, err := o.client.ComposeOne(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}

	current, ok := metadata.Parse(compose.Description)
	cohort := metadata.Cohort("")
	createdAt := o.now().UnixMilli()
	if ok {
		cohort = current.Cohort
		createdAt = current.CreatedAt
	}
	if cohort == "" {
		cohort = metadata.Cohort(rollout.Select(claims.ActorID, claims.ChatID, o.cfg.CanaryRolloutPercent).Cohort)
	}

	next := metadata.SessionMetadata{
		ActorID: claims.ActorID, ChatID: claims.ChatID,
		CreatedAt: createdAt, LastSeenAt: o.now().UnixMilli(),
		IdleTTLSec: int64(o.cfg.SessionIdleMinutes) * 60, Cohort: cohort,
	}
	desc, err := metadata.Format(next)
	if err != nil {
		return nil, errs.Wrap(http.StatusInternalServerError, errs.CodeInternal, "failed formatting session metadata", err)
	}
	if err := o.client.ComposeUpdate(ctx, claims.ComposeID, map[string]any{"description": desc}, requestID); err != nil {
		return nil, err
	}

	if o.sweep != nil {
		if err := o.sweep.Run(ctx, claims.ActorID, requestID); err != nil {
			log.Printf("orchestrator: heartbeat sweep for actor %s failed: %v", claims.ActorID, err)
		}
	}

	newToken, expiresAt, err := o.issueToken(claims.ActorID, claims.ChatID, claims.ProjectID, claims.EnvironmentID, claims.ComposeID, claims.Domain)
	if err != nil {
		return nil, err
	}

	deployments, err := o.client.DeploymentAllByCompose(ctx, claims.ComposeID, requestID)
	if err != nil {
		return nil, err
	}
	status := deriveSessionStatus(deriveDeploymentStatus(deployments), compose.Status)

	if o.publisher != nil {
		o.publisher.Publish(ctx, events.SessionHeartbeat, events.Payload{ActorID: claims.ActorID, ChatID: claims.ChatID, ComposeID: claims.ComposeID})
	}

	return &HeartbeatResult{Status: status, ExpiresAt: expiresAt, Token: newToken}, nil
}

// Delete tears down the compose bound to tokenStr, including volumes.
func (o *Orchestrator) Delete(ctx context.Context, tokenStr, requestID string) error {
	claims, err := o.verifyToken(tokenStr)
	if err != nil {
		return err
	}
	if err := o.client.ComposeDelete(ctx, claims.ComposeID, true, requestID); err != nil {
		return err
	}
	if o.publisher != nil {
		o.publisher.Publish(ctx, events.SessionDeleted, events.Payload{ActorID: claims.ActorID, ChatID: claims.ChatID, ComposeID: claims.ComposeID})
	}
	return nil
}

// WithClaims verifies tokenStr and returns its claims, without touching
// the platform. File operations use this to read the authoritative
// composeId; they never trust a client-supplied one.
func (o *Orchestrator) WithClaims(tokenStr string) (*token.Claims, error) {
	return o.verifyToken(tokenStr)
}

func (o *Orchestrator) verifyToken(tokenStr string) (*token.Claims, error) {
	claims, err := token.Verify(tokenStr, o.cfg.TokenSecret, o.now())
	if err != nil {
		return nil, errs.Wrap(http.StatusUnauthorized, errs.CodeUnauthorized, "invalid or expired runtime token", err)
	}
	return claims, nil
}

func previewURL(domain string) string {
	if domain == "" {
		return ""
	}
	return "https://" + domain
}

func shortHash(input string, n int) string {
	sum := sha256.Sum256([]byte(input))
	full := hex.EncodeToString(sum[:])
	if n > len(full) {
		n = len(full)
	}
	return full[:n]
}
