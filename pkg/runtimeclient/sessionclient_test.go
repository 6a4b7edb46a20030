package runtimeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSessionClient(t *testing.T, handler http.HandlerFunc) *SessionClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSessionClient(Config{BaseURL: srv.URL})
}

func TestEnsureSessionCreatesAndCachesReadySession(t *testing.T) {
	var creates int32
	client := newTestSessionClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/api/runtime/session" {
			atomic.AddInt32(&creates, 1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"runtimeToken":     "tok-1",
				"deploymentStatus": "running",
				"session":          Session{ComposeID: "compose-1", Status: "creating"},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	sess, err := client.EnsureSession(context.Background(), "chat-1", "vite-react", false)
	require.NoError(t, err)
	require.Equal(t, "compose-1", sess.ComposeID)
	require.Equal(t, int32(1), atomic.LoadInt32(&creates))

	again, err := client.EnsureSession(context.Background(), "chat-1", "vite-react", false)
	require.NoError(t, err)
	require.Equal(t, "compose-1", again.ComposeID)
	require.Equal(t, int32(1), atomic.LoadInt32(&creates), "a matching chat id with force=false should reuse cached state")

	client.TeardownSession(context.Background())
}

func TestEnsureSessionSurfacesCreateError(t *testing.T) {
	client := newTestSessionClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom", "code": "INTERNAL_SERVER_ERROR"})
	})

	_, err := client.EnsureSession(context.Background(), "chat-1", "vite-react", false)
	require.Error(t, err)
	require.Equal(t, "error", client.State().ConnectionState)
}

func TestRefreshSessionResetsToIdleOn401(t *testing.T) {
	client := newTestSessionClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client.mu.Lock()
	client.state.RuntimeToken = "expired-token"
	client.mu.Unlock()

	err := client.RefreshSession(context.Background())
	require.NoError(t, err)
	require.Equal(t, "idle", client.State().ConnectionState)
}

func TestHeartbeatAbsorbsRotatedToken(t *testing.T) {
	client := newTestSessionClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ready", "expiresAt": 123, "runtimeToken": "tok-rotated",
		})
	})
	client.mu.Lock()
	client.state.RuntimeToken = "tok-old"
	client.mu.Unlock()

	require.NoError(t, client.Heartbeat(context.Background()))
	require.Equal(t, "tok-rotated", client.token())
	require.Equal(t, int64(123), client.State().ExpiresAt)
}

func TestListReadWriteMkdirDeleteFiles(t *testing.T) {
	var lastPath string
	client := newTestSessionClient(t, func(w http.ResponseWriter, r *http.Request) {
		lastPath = r.URL.Path + "?" + r.URL.RawQuery
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/runtime/files/list":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"entries": []FileEntry{{Name: "App.jsx", VirtualPath: "/home/project/src/App.jsx"}},
			})
		case r.Method == http.MethodGet && r.URL.Path == "/api/runtime/files/read":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"file": map[string]any{"content": "hello", "encoding": "utf8", "isBinary": false},
			})
		case r.Method == http.MethodPut && r.URL.Path == "/api/runtime/files/write":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/api/runtime/files/mkdir":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/runtime/files/delete":
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	entries, err := client.ListFiles(context.Background(), "tok", "/home/project")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, lastPath, "path=")

	content, encoding, isBinary, err := client.ReadFile(context.Background(), "tok", "/home/project/src/App.jsx")
	require.NoError(t, err)
	require.Equal(t, "hello", content)
	require.Equal(t, "utf8", encoding)
	require.False(t, isBinary)

	require.NoError(t, client.WriteFile(context.Background(), "tok", "/home/project/a.txt", "content", "utf8"))
	require.NoError(t, client.Mkdir(context.Background(), "tok", "/home/project/dir"))
	require.NoError(t, client.DeleteFile(context.Background(), "tok", "/home/project/a.txt", false))
}

func TestDoJSONReturnsAPIErrorOnFailureStatus(t *testing.T) {
	client := newTestSessionClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "already exists", "code": "CONFLICT"})
	})

	err := client.Mkdir(context.Background(), "tok", "/home/project/dir")
	require.Error(t, err)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.Status)
	require.Equal(t, "CONFLICT", apiErr.Code)
}
