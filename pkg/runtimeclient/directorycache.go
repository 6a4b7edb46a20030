package runtimeclient

import (
	"context"
	"sync"
	"time"
)

// FileEntry mirrors httpapi's file-listing response shape.
type FileEntry struct {
	Name        string `json:"name"`
	VirtualPath string `json:"virtualPath"`
	IsDirectory bool   `json:"isDirectory"`
	Size        int64  `json:"size"`
	ModifiedAt  string `json:"modifiedAt"`
}

// ListFunc performs the actual remote listing call for one path.
type ListFunc func(ctx context.Context, token, virtualPath string) ([]FileEntry, error)

// DefaultDirectoryCacheTTL matches spec.md §4.10's ~2s freshness window.
const DefaultDirectoryCacheTTL = 2 * time.Second

type cacheKey struct {
	token string
	path  string
}

type cacheEntry struct {
	entries []FileEntry
	expires time.Time
}

// DirectoryCache dedups and caches directory listings keyed by (token,
// virtual path): concurrent callers for the same key share one in-flight
// call, and a fresh result is cached for ttl. Any write/mkdir/delete on
// a token invalidates that token's cached entries. A token change
// invalidates everything.
type DirectoryCache struct {
	list ListFunc
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	entries  map[cacheKey]cacheEntry
	inflight map[cacheKey]chan struct{}
	results  map[cacheKey]struct {
		entries []FileEntry
		err     error
	}
}

func NewDirectoryCache(list ListFunc, ttl time.Duration) *DirectoryCache {
	if ttl <= 0 {
		ttl = DefaultDirectoryCacheTTL
	}
	return &DirectoryCache{
		list: list, ttl: ttl, now: time.Now,
		entries:  make(map[cacheKey]cacheEntry),
		inflight: make(map[cacheKey]chan struct{}),
		results: make(map[cacheKey]struct {
			entries []FileEntry
			err     error
		}),
	}
}

// List returns entries for (token, path): a cached, unexpired result
// when force is false, an in-flight call's eventual result when one is
// already running, or a fresh dispatch otherwise.
func (d *DirectoryCache) List(ctx context.Context, token, path string, force bool) ([]FileEntry, error) {
	key := cacheKey{token: token, path: path}

	d.mu.Lock()
	if !force {
		if e, ok := d.entries[key]; ok && d.now().Before(e.expires) {
			d.mu.Unlock()
			return e.entries, nil
		}
	}
	if wait, ok := d.inflight[key]; ok {
		d.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		d.mu.Lock()
		res := d.results[key]
		d.mu.Unlock()
		return res.entries, res.err
	}

	done := make(chan struct{})
	d.inflight[key] = done
	d.mu.Unlock()

	entries, err := d.list(ctx, token, path)

	d.mu.Lock()
	delete(d.inflight, key)
	d.results[key] = struct {
		entries []FileEntry
		err     error
	}{entries, err}
	if err == nil {
		d.entries[key] = cacheEntry{entries: entries, expires: d.now().Add(d.ttl)}
	}
	d.mu.Unlock()
	close(done)

	return entries, err
}

// InvalidateToken drops every cached entry for token, called after any
// write/mkdir/delete under it.
func (d *DirectoryCache) InvalidateToken(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key := range d.entries {
		if key.token == token {
			delete(d.entries, key)
		}
	}
}

// InvalidateAll drops every cached entry, called on token change.
func (d *DirectoryCache) InvalidateAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[cacheKey]cacheEntry)
}
