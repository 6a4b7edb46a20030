// filesmirror.go implements RemoteFilesMirror (spec.md §4.12): a local
// {virtualPath -> file|folder} tree, populated from listings via
// DirectoryCache and file content on demand, with writes routed through
// WriteCoalescer. Grounded on spec.md's own description; the teacher has
// no client-side mirror to adapt (its editors talk to a live pty/exec
// session, not a cached remote tree).
package runtimeclient

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MirrorEntry is one node in the local tree.
type MirrorEntry struct {
	VirtualPath string
	IsDirectory bool
	Size        int64
	ModifiedAt  string
	Content     string
	Loaded      bool
}

// RemoteFilesMirror mirrors the remote workdir locally. Not safe to
// mutate its exported fields directly; use the accessor methods.
type RemoteFilesMirror struct {
	session   *SessionClient
	dirs      *DirectoryCache
	writer    *WriteCoalescer
	scheduler *RefreshScheduler

	mu      sync.Mutex
	entries map[string]*MirrorEntry
	loaded  map[string]struct{}

	refreshing bool
}

func NewRemoteFilesMirror(session *SessionClient, dirs *DirectoryCache, writer *WriteCoalescer) *RemoteFilesMirror {
	m := &RemoteFilesMirror{
		session: session, dirs: dirs, writer: writer,
		entries: make(map[string]*MirrorEntry),
		loaded:  make(map[string]struct{}),
	}
	m.scheduler = NewRefreshScheduler(m)
	return m
}

// Bootstrap ensures a session exists, performs a forced refresh, and
// starts the periodic refresh scheduler (spec.md §5).
func (m *RemoteFilesMirror) Bootstrap(ctx context.Context, chatID, templateID string) error {
	if _, err := m.session.EnsureSession(ctx, chatID, templateID, false); err != nil {
		return err
	}
	if err := m.RefreshFromRemote(ctx, true); err != nil {
		return err
	}
	m.scheduler.Start(context.Background())
	return nil
}

// StopScheduler halts the periodic refresh loop started by Bootstrap.
func (m *RemoteFilesMirror) StopScheduler() {
	m.scheduler.Stop()
}

// SetVisible feeds a visibilitychange signal into the refresh
// scheduler, independent of SessionClient's own heartbeat/refresh
// timers (spec.md §4.13's "file mirror has its own schedule").
func (m *RemoteFilesMirror) SetVisible(visible bool) {
	m.scheduler.SetVisible(visible)
}

// RefreshFromRemote single-flights a full tree walk via DirectoryCache,
// preserving previously loaded file content for entries still present.
func (m *RemoteFilesMirror) RefreshFromRemote(ctx context.Context, force bool) error {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		return nil
	}
	m.refreshing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
	}()

	token := m.session.token()
	fresh := make(map[string]*MirrorEntry)
	if err := m.walk(ctx, token, rootVirtualPath, force, fresh); err != nil {
		return err
	}

	m.mu.Lock()
	prevLoaded := m.loaded
	m.loaded = make(map[string]struct{})
	for path, entry := range fresh {
		if _, wasLoaded := prevLoaded[path]; wasLoaded {
			if prev, ok := m.entries[path]; ok && prev.Loaded {
				entry.Content = prev.Content
				entry.Loaded = true
				m.loaded[path] = struct{}{}
			}
		}
	}
	m.entries = fresh
	m.mu.Unlock()
	return nil
}

const rootVirtualPath = "/home/project"

func (m *RemoteFilesMirror) walk(ctx context.Context, token, virtualPath string, force bool, out map[string]*MirrorEntry) error {
	entries, err := m.dirs.List(ctx, token, virtualPath, force)
	if err != nil {
		return err
	}
	for _, e := range entries {
		out[e.VirtualPath] = &MirrorEntry{
			VirtualPath: e.VirtualPath, IsDirectory: e.IsDirectory,
			Size: e.Size, ModifiedAt: e.ModifiedAt,
		}
		if e.IsDirectory {
			if err := m.walk(ctx, token, e.VirtualPath, force, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// EnsureFileContent loads virtualPath's content if not already loaded.
func (m *RemoteFilesMirror) EnsureFileContent(ctx context.Context, virtualPath string) (string, error) {
	m.mu.Lock()
	entry, ok := m.entries[virtualPath]
	if ok && entry.Loaded {
		content := entry.Content
		m.mu.Unlock()
		return content, nil
	}
	m.mu.Unlock()

	content, _, _, err := m.session.ReadFile(ctx, m.session.token(), virtualPath)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if entry, ok := m.entries[virtualPath]; ok {
		entry.Content = content
		entry.Loaded = true
		m.loaded[virtualPath] = struct{}{}
	}
	m.mu.Unlock()
	return content, nil
}

// SaveFile ensures remote parent directories exist, invalidates the
// directory cache, optimistically mutates local state, and enqueues the
// write through the coalescer. On coalescer rejection, the local
// mutation is rolled back exactly.
func (m *RemoteFilesMirror) SaveFile(ctx context.Context, virtualPath, content string) <-chan error {
	resultCh := make(chan error, 1)

	if err := m.ensureParents(ctx, virtualPath); err != nil {
		resultCh <- err
		return resultCh
	}

	token := m.session.token()
	m.dirs.InvalidateToken(token)

	m.mu.Lock()
	prev, existed := m.entries[virtualPath]
	var prevCopy MirrorEntry
	if existed {
		prevCopy = *prev
	}
	m.entries[virtualPath] = &MirrorEntry{
		VirtualPath: virtualPath, Content: content, Loaded: true, Size: int64(len(content)),
	}
	m.loaded[virtualPath] = struct{}{}
	m.mu.Unlock()

	writeCh := m.writer.Enqueue(virtualPath, WriteInput{Content: content, Encoding: "utf8"})

	go func() {
		result := <-writeCh
		if result.Err != nil {
			m.mu.Lock()
			if existed {
				m.entries[virtualPath] = &prevCopy
				if prevCopy.Loaded {
					m.loaded[virtualPath] = struct{}{}
				} else {
					delete(m.loaded, virtualPath)
				}
			} else {
				delete(m.entries, virtualPath)
				delete(m.loaded, virtualPath)
			}
			m.mu.Unlock()
			resultCh <- result.Err
			return
		}
		resultCh <- nil
	}()

	return resultCh
}

func (m *RemoteFilesMirror) ensureParents(ctx context.Context, virtualPath string) error {
	rel := strings.TrimPrefix(virtualPath, rootVirtualPath+"/")
	segments := strings.Split(rel, "/")
	current := rootVirtualPath
	token := m.session.token()
	for i := 0; i < len(segments)-1; i++ {
		current = current + "/" + segments[i]
		if err := m.session.Mkdir(ctx, token, current); err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == 409 {
				continue
			}
			return err
		}
	}
	return nil
}

// CreateFile creates an empty file and saves it.
func (m *RemoteFilesMirror) CreateFile(ctx context.Context, virtualPath string) <-chan error {
	return m.SaveFile(ctx, virtualPath, "")
}

// CreateFolder creates a folder via Mkdir and invalidates listings.
func (m *RemoteFilesMirror) CreateFolder(ctx context.Context, virtualPath string) error {
	token := m.session.token()
	if err := m.session.Mkdir(ctx, token, virtualPath); err != nil {
		return err
	}
	m.dirs.InvalidateToken(token)
	m.mu.Lock()
	m.entries[virtualPath] = &MirrorEntry{VirtualPath: virtualPath, IsDirectory: true}
	m.mu.Unlock()
	return nil
}

// DeleteFile flushes then cancels any pending coalescer write for
// virtualPath before deleting remotely.
func (m *RemoteFilesMirror) DeleteFile(ctx context.Context, virtualPath string) error {
	m.writer.Flush(virtualPath)
	m.writer.Cancel(virtualPath)

	token := m.session.token()
	if err := m.session.DeleteFile(ctx, token, virtualPath, false); err != nil {
		return err
	}
	m.dirs.InvalidateToken(token)
	m.mu.Lock()
	delete(m.entries, virtualPath)
	delete(m.loaded, virtualPath)
	m.mu.Unlock()
	return nil
}

// DeleteFolder recursively deletes virtualPath, flushing/canceling any
// pending coalescer writes for paths nested under it first.
func (m *RemoteFilesMirror) DeleteFolder(ctx context.Context, virtualPath string) error {
	prefix := virtualPath + "/"
	m.writer.FlushMatching(func(p string) bool { return strings.HasPrefix(p, prefix) })
	m.writer.CancelMatching(func(p string) bool { return strings.HasPrefix(p, prefix) })

	token := m.session.token()
	if err := m.session.DeleteFile(ctx, token, virtualPath, true); err != nil {
		return err
	}
	m.dirs.InvalidateToken(token)
	m.mu.Lock()
	for path := range m.entries {
		if path == virtualPath || strings.HasPrefix(path, prefix) {
			delete(m.entries, path)
			delete(m.loaded, path)
		}
	}
	m.mu.Unlock()
	return nil
}

// Snapshot returns a shallow copy of the current tree.
func (m *RemoteFilesMirror) Snapshot() map[string]MirrorEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]MirrorEntry, len(m.entries))
	for path, e := range m.entries {
		out[path] = *e
	}
	return out
}
