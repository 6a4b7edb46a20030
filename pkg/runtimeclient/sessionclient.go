// sessionclient.go implements SessionClient (spec.md §4.13): the
// client-side driver of session creation and lifecycle. Grounded on
// services/gateway/pkg/rpc/*_client.go's shape (a struct wrapping a
// connection/config, an explicit constructor, typed methods), retargeted
// from gRPC stubs to this service's own HttpSurface HTTP endpoints.
// Browser-only concepts (beforeunload, visibilitychange, sessionStorage)
// are re-architected as exported methods a host process calls directly:
// Close for beforeunload, SetVisible for visibilitychange.
package runtimeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultHeartbeatInterval matches spec.md §4.13's 30s default.
const DefaultHeartbeatInterval = 30 * time.Second

// RefreshInterval matches spec.md §4.13's fixed 4s session-status poll.
const RefreshInterval = 4 * time.Second

// Session mirrors the orchestrator.Session shape returned over HTTP.
type Session struct {
	ProjectID     string `json:"projectId"`
	EnvironmentID string `json:"environmentId"`
	ComposeID     string `json:"composeId"`
	Domain        string `json:"domain"`
	PreviewURL    string `json:"previewUrl"`
	Status        string `json:"status"`
	ExpiresAt     int64  `json:"expiresAt"`
	ServerID      string `json:"serverId"`
	RolloutCohort string `json:"rolloutCohort"`
}

// State is the SessionClient's externally observable snapshot.
type State struct {
	ConnectionState  string // "idle" | "creating" | "ready" | "error"
	ChatID           string
	RuntimeToken     string
	Session          Session
	DeploymentStatus string
	ExpiresAt        int64
	Err              error
}

// Config controls SessionClient's transport and cadence.
type Config struct {
	BaseURL          string
	HTTPClient       *http.Client
	HeartbeatSeconds int
}

type SessionClient struct {
	cfg Config

	mu      sync.Mutex
	state   State
	visible bool

	inflightChatID string
	inflightDone   chan struct{}
	inflightErr    error

	stopTimers context.CancelFunc
}

func NewSessionClient(cfg Config) *SessionClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.HeartbeatSeconds == 0 {
		cfg.HeartbeatSeconds = int(DefaultHeartbeatInterval.Seconds())
	}
	return &SessionClient{cfg: cfg, visible: true, state: State{ConnectionState: "idle"}}
}

func (s *SessionClient) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EnsureSession resolves chatID (an empty chatID is the caller's
// responsibility to have already picked, since this SDK has no browser
// URL/sessionStorage to fall back to), returning the existing session
// if one matches and force is false, sharing an in-flight create for
// the same chat, or restarting it if the chat id changes mid-flight.
func (s *SessionClient) EnsureSession(ctx context.Context, chatID, templateID string, force bool) (*Session, error) {
	s.mu.Lock()
	if !force && s.state.ConnectionState == "ready" && s.state.ChatID == chatID {
		sess := s.state.Session
		s.mu.Unlock()
		return &sess, nil
	}

	if s.inflightDone != nil {
		if s.inflightChatID == chatID {
			done := s.inflightDone
			s.mu.Unlock()
			<-done
			s.mu.Lock()
			err := s.inflightErr
			sess := s.state.Session
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return &sess, nil
		}
		// Chat changed mid-flight: wait for the stale create, then restart.
		done := s.inflightDone
		s.mu.Unlock()
		<-done
		s.mu.Lock()
	}

	if s.state.ChatID != "" && s.state.ChatID != chatID && s.state.RuntimeToken != "" {
		staleToken := s.state.RuntimeToken
		go func() { _ = s.teardownToken(context.Background(), staleToken) }()
	}

	done := make(chan struct{})
	s.inflightChatID = chatID
	s.inflightDone = done
	s.state.ConnectionState = "creating"
	s.state.ChatID = chatID
	s.mu.Unlock()

	sess, token, deploymentStatus, err := s.createSession(ctx, chatID, templateID)

	s.mu.Lock()
	s.inflightDone = nil
	s.inflightErr = err
	if err != nil {
		s.state.ConnectionState = "error"
		s.state.Err = err
	} else {
		s.state.ConnectionState = "ready"
		s.state.RuntimeToken = token
		s.state.Session = *sess
		s.state.DeploymentStatus = deploymentStatus
		s.state.ExpiresAt = sess.ExpiresAt
		s.state.Err = nil
	}
	s.mu.Unlock()
	close(done)

	if err != nil {
		return nil, err
	}
	s.startTimers()
	return sess, nil
}

func (s *SessionClient) createSession(ctx context.Context, chatID, templateID string) (*Session, string, string, error) {
	body, _ := json.Marshal(map[string]string{"chatId": chatID, "templateId": templateID})
	var out struct {
		RuntimeToken     string  `json:"runtimeToken"`
		Session          Session `json:"session"`
		DeploymentStatus string  `json:"deploymentStatus"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/api/runtime/session", "", body, &out); err != nil {
		return nil, "", "", err
	}
	return &out.Session, out.RuntimeToken, out.DeploymentStatus, nil
}

// RefreshSession polls current status, resetting to idle on 401.
func (s *SessionClient) RefreshSession(ctx context.Context) error {
	tok := s.token()
	if tok == "" {
		return errors.New("no active session")
	}
	var out struct {
		SessionStatus    string  `json:"sessionStatus"`
		PreviewURL       string  `json:"previewUrl"`
		DeploymentStatus string  `json:"deploymentStatus"`
		Session          Session `json:"session"`
	}
	err := s.doJSON(ctx, http.MethodGet, "/api/runtime/session", tok, nil, &out)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			s.state = State{ConnectionState: "idle"}
			return nil
		}
		s.state.ConnectionState = "error"
		s.state.Err = err
		return err
	}
	s.state.Session = out.Session
	s.state.DeploymentStatus = out.DeploymentStatus
	s.state.ExpiresAt = out.Session.ExpiresAt
	return nil
}

// Heartbeat renews the session's lease, absorbing a rotated token.
func (s *SessionClient) Heartbeat(ctx context.Context) error {
	tok := s.token()
	if tok == "" {
		return errors.New("no active session")
	}
	var out struct {
		Status       string `json:"status"`
		ExpiresAt    int64  `json:"expiresAt"`
		RuntimeToken string `json:"runtimeToken"`
	}
	if err := s.doJSON(ctx, http.MethodPost, "/api/runtime/session/heartbeat", tok, nil, &out); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ExpiresAt = out.ExpiresAt
	s.state.Session.Status = out.Status
	if out.RuntimeToken != "" {
		s.state.RuntimeToken = out.RuntimeToken
	}
	return nil
}

// TeardownSession deletes the active session and resets local state.
func (s *SessionClient) TeardownSession(ctx context.Context) error {
	tok := s.token()
	if tok == "" {
		return nil
	}
	err := s.teardownToken(ctx, tok)
	s.mu.Lock()
	s.state = State{ConnectionState: "idle"}
	s.mu.Unlock()
	if s.stopTimers != nil {
		s.stopTimers()
	}
	return err
}

func (s *SessionClient) teardownToken(ctx context.Context, token string) error {
	return s.doJSON(ctx, http.MethodDelete, "/api/runtime/session", token, nil, nil)
}

// Close is the beforeunload analogue: best-effort teardown with a short
// deadline, ignoring the result.
func (s *SessionClient) Close() {
	tok := s.token()
	if tok == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.teardownToken(ctx, tok)
}

// SetVisible is the visibilitychange analogue: becoming visible
// immediately heartbeats and refreshes; timers otherwise run only while
// visible.
func (s *SessionClient) SetVisible(visible bool) {
	s.mu.Lock()
	wasHidden := !s.visible
	s.visible = visible
	s.mu.Unlock()
	if visible && wasHidden {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = s.Heartbeat(ctx)
			_ = s.RefreshSession(ctx)
		}()
	}
}

func (s *SessionClient) isVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

func (s *SessionClient) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.RuntimeToken
}

// startTimers begins the heartbeat/refresh loops; timers only start
// after the first successful create, per spec.md §4.13.
func (s *SessionClient) startTimers() {
	if s.stopTimers != nil {
		s.stopTimers()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopTimers = cancel

	heartbeatEvery := time.Duration(s.cfg.HeartbeatSeconds) * time.Second
	go s.timerLoop(ctx, heartbeatEvery, func(ctx context.Context) { _ = s.Heartbeat(ctx) })
	go s.timerLoop(ctx, RefreshInterval, func(ctx context.Context) { _ = s.RefreshSession(ctx) })
}

func (s *SessionClient) timerLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.isVisible() {
				continue
			}
			fn(ctx)
		}
	}
}

// ListFiles lists the entries directly under virtualPath.
func (s *SessionClient) ListFiles(ctx context.Context, token, virtualPath string) ([]FileEntry, error) {
	var out struct {
		Entries []FileEntry `json:"entries"`
	}
	path := "/api/runtime/files/list?path=" + urlEscape(virtualPath)
	if err := s.doJSON(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// ReadFile fetches a single file's content.
func (s *SessionClient) ReadFile(ctx context.Context, token, virtualPath string) (content, encoding string, isBinary bool, err error) {
	var out struct {
		File struct {
			Content  string `json:"content"`
			Encoding string `json:"encoding"`
			IsBinary bool   `json:"isBinary"`
		} `json:"file"`
	}
	path := "/api/runtime/files/read?path=" + urlEscape(virtualPath)
	if err := s.doJSON(ctx, http.MethodGet, path, token, nil, &out); err != nil {
		return "", "", false, err
	}
	return out.File.Content, out.File.Encoding, out.File.IsBinary, nil
}

// WriteFile overwrites virtualPath with content.
func (s *SessionClient) WriteFile(ctx context.Context, token, virtualPath, content, encoding string) error {
	body, _ := json.Marshal(map[string]string{"path": virtualPath, "content": content, "encoding": encoding})
	return s.doJSON(ctx, http.MethodPut, "/api/runtime/files/write", token, body, nil)
}

// Mkdir creates virtualPath (and implicitly its parents).
func (s *SessionClient) Mkdir(ctx context.Context, token, virtualPath string) error {
	body, _ := json.Marshal(map[string]string{"path": virtualPath})
	return s.doJSON(ctx, http.MethodPost, "/api/runtime/files/mkdir", token, body, nil)
}

// DeleteFile removes virtualPath, recursively when recursive is true.
func (s *SessionClient) DeleteFile(ctx context.Context, token, virtualPath string, recursive bool) error {
	body, _ := json.Marshal(map[string]any{"path": virtualPath, "recursive": recursive})
	return s.doJSON(ctx, http.MethodDelete, "/api/runtime/files/delete", token, body, nil)
}

func urlEscape(s string) string {
	return url.QueryEscape(s)
}

// apiError carries the HTTP status of a failed call to this service.
type apiError struct {
	Status int
	Code   string
	Msg    string
}

func (e *apiError) Error() string { return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Msg) }

func (s *SessionClient) doJSON(ctx context.Context, method, path, token string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(raw, &e)
		return &apiError{Status: resp.StatusCode, Code: e.Code, Msg: e.Error}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
