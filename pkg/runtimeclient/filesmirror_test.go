package runtimeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRemoteFS is an in-memory stand-in for the platform's file-manager,
// exposed over the same HTTP surface httpapi presents, so
// RemoteFilesMirror can be exercised without a real runtime-server.
type fakeRemoteFS struct {
	dirs  map[string][]FileEntry
	files map[string]string
}

func newFakeRemoteFS() *fakeRemoteFS {
	return &fakeRemoteFS{
		dirs: map[string][]FileEntry{
			rootVirtualPath: {
				{Name: "App.jsx", VirtualPath: rootVirtualPath + "/App.jsx"},
			},
		},
		files: map[string]string{rootVirtualPath + "/App.jsx": "export default App;"},
	}
}

func (f *fakeRemoteFS) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/runtime/session" && r.Method == http.MethodPost:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"runtimeToken": "tok-1", "deploymentStatus": "done",
				"session": Session{ComposeID: "compose-1", Status: "ready"},
			})
		case r.URL.Path == "/api/runtime/files/list" && r.Method == http.MethodGet:
			path := r.URL.Query().Get("path")
			_ = json.NewEncoder(w).Encode(map[string]any{"entries": f.dirs[path]})
		case r.URL.Path == "/api/runtime/files/read" && r.Method == http.MethodGet:
			path := r.URL.Query().Get("path")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"file": map[string]any{"content": f.files[path], "encoding": "utf8", "isBinary": false},
			})
		case r.URL.Path == "/api/runtime/files/write":
			var body struct{ Path, Content string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.files[body.Path] = body.Content
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/runtime/files/mkdir":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/api/runtime/files/delete":
			var body struct{ Path string }
			_ = json.NewDecoder(r.Body).Decode(&body)
			delete(f.files, body.Path)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestMirror(t *testing.T, fs *fakeRemoteFS) (*RemoteFilesMirror, *SessionClient) {
	t.Helper()
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)

	session := NewSessionClient(Config{BaseURL: srv.URL})
	dirs := NewDirectoryCache(func(ctx context.Context, token, path string) ([]FileEntry, error) {
		return session.ListFiles(ctx, token, path)
	}, 10*time.Millisecond)
	writer := NewWriteCoalescer(func(ctx context.Context, path string, input WriteInput) error {
		return session.WriteFile(ctx, session.token(), path, input.Content, input.Encoding)
	}, 5*time.Millisecond)

	mirror := NewRemoteFilesMirror(session, dirs, writer)
	return mirror, session
}

func TestBootstrapPopulatesMirrorFromRemote(t *testing.T) {
	fs := newFakeRemoteFS()
	mirror, _ := newTestMirror(t, fs)

	err := mirror.Bootstrap(context.Background(), "chat-1", "vite-react")
	require.NoError(t, err)

	snap := mirror.Snapshot()
	require.Contains(t, snap, rootVirtualPath+"/App.jsx")
}

func TestEnsureFileContentLoadsOnDemand(t *testing.T) {
	fs := newFakeRemoteFS()
	mirror, _ := newTestMirror(t, fs)
	require.NoError(t, mirror.Bootstrap(context.Background(), "chat-1", "vite-react"))

	content, err := mirror.EnsureFileContent(context.Background(), rootVirtualPath+"/App.jsx")
	require.NoError(t, err)
	require.Equal(t, "export default App;", content)
}

func TestSaveFileOptimisticallyUpdatesThenPersists(t *testing.T) {
	fs := newFakeRemoteFS()
	mirror, _ := newTestMirror(t, fs)
	require.NoError(t, mirror.Bootstrap(context.Background(), "chat-1", "vite-react"))

	errCh := mirror.SaveFile(context.Background(), rootVirtualPath+"/App.jsx", "export default NewApp;")

	snap := mirror.Snapshot()
	require.Equal(t, "export default NewApp;", snap[rootVirtualPath+"/App.jsx"].Content)

	require.NoError(t, <-errCh)
	require.Equal(t, "export default NewApp;", fs.files[rootVirtualPath+"/App.jsx"])
}

func TestDeleteFileRemovesFromMirrorAndRemote(t *testing.T) {
	fs := newFakeRemoteFS()
	mirror, _ := newTestMirror(t, fs)
	require.NoError(t, mirror.Bootstrap(context.Background(), "chat-1", "vite-react"))

	require.NoError(t, mirror.DeleteFile(context.Background(), rootVirtualPath+"/App.jsx"))

	snap := mirror.Snapshot()
	require.NotContains(t, snap, rootVirtualPath+"/App.jsx")
	require.NotContains(t, fs.files, rootVirtualPath+"/App.jsx")
}
