// Package runtimeclient is the Go-native rendition of spec.md's
// browser-side components (§4.9-§4.13): an importable SDK an editor
// process (or a test, or a CLI) uses to drive a runtime session. Per
// §9's design note, the promise/timer idioms of the original browser
// components are re-architected onto goroutines, channels, and an
// injectable clock.
package runtimeclient

import (
	"context"
	"sync"
	"time"
)

// WriteInput is one write job's payload.
type WriteInput struct {
	Content  string
	Encoding string
}

// WriteResult is delivered to a caller's Enqueue channel exactly once.
// Status is "written" or "canceled" when Err is nil; a non-nil Err
// means the underlying platform write itself failed (a rejection, in
// promise terms), and Status is meaningless.
type WriteResult struct {
	Generation uint64
	Status     string
	Err        error
}

const (
	StatusWritten  = "written"
	StatusCanceled = "canceled"
)

// WriteFunc performs the actual remote write for one file. Injected so
// WriteCoalescer stays free of any PlatformClient/http import.
type WriteFunc func(ctx context.Context, filePath string, input WriteInput) error

// DefaultDebounce matches spec.md §4.9's 200ms default.
const DefaultDebounce = 200 * time.Millisecond

type pendingJob struct {
	generation uint64
	input      WriteInput
}

type fileState struct {
	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
	latestJob  *pendingJob
	pending    map[uint64]chan WriteResult
	chainMu    sync.Mutex
}

// WriteCoalescer debounces per-file writes, collapsing obsolete edits:
// only the newest generation queued when the debounce timer fires ever
// reaches the network. Writes to the same file are serialized via a
// per-file chain; writes to different files run concurrently.
type WriteCoalescer struct {
	debounce time.Duration
	write    WriteFunc

	mu    sync.Mutex
	files map[string]*fileState
}

func NewWriteCoalescer(write WriteFunc, debounce time.Duration) *WriteCoalescer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &WriteCoalescer{write: write, debounce: debounce, files: make(map[string]*fileState)}
}

func (w *WriteCoalescer) fileFor(path string) *fileState {
	w.mu.Lock()
	defer w.mu.Unlock()
	fs, ok := w.files[path]
	if !ok {
		fs = &fileState{pending: make(map[uint64]chan WriteResult)}
		w.files[path] = fs
	}
	return fs
}

// Enqueue schedules a debounced write and returns a channel that
// receives exactly one WriteResult once this generation settles.
func (w *WriteCoalescer) Enqueue(filePath string, input WriteInput) <-chan WriteResult {
	fs := w.fileFor(filePath)
	resultCh := make(chan WriteResult, 1)

	fs.mu.Lock()
	fs.generation++
	gen := fs.generation
	fs.pending[gen] = resultCh
	fs.latestJob = &pendingJob{generation: gen, input: input}
	if fs.timer != nil {
		fs.timer.Stop()
	}
	fs.timer = time.AfterFunc(w.debounce, func() { w.dispatch(filePath, fs) })
	fs.mu.Unlock()

	return resultCh
}

// dispatch fires when a file's debounce timer settles: it cancels every
// pending generation older than the snapshot, then serializes the
// actual platform write for the newest one through the per-file chain.
func (w *WriteCoalescer) dispatch(filePath string, fs *fileState) {
	fs.mu.Lock()
	job := fs.latestJob
	fs.latestJob = nil
	if job == nil {
		fs.mu.Unlock()
		return
	}
	for gen, ch := range fs.pending {
		if gen < job.generation {
			ch <- WriteResult{Generation: gen, Status: StatusCanceled}
			close(ch)
			delete(fs.pending, gen)
		}
	}
	fs.mu.Unlock()

	fs.chainMu.Lock()
	go func() {
		defer fs.chainMu.Unlock()
		err := w.write(context.Background(), filePath, job.input)

		fs.mu.Lock()
		ch, ok := fs.pending[job.generation]
		delete(fs.pending, job.generation)
		fs.mu.Unlock()
		if !ok {
			return
		}
		if err != nil {
			ch <- WriteResult{Generation: job.generation, Err: err}
		} else {
			ch <- WriteResult{Generation: job.generation, Status: StatusWritten}
		}
		close(ch)
	}()
}

// Flush immediately dispatches filePath's pending timer (if any) and
// waits for its chain to drain, repeating if a new job appeared while
// waiting (reentrancy). An empty filePath flushes every known file.
func (w *WriteCoalescer) Flush(filePath string) {
	if filePath == "" {
		w.FlushMatching(func(string) bool { return true })
		return
	}
	fs, ok := w.snapshot(filePath)
	if !ok {
		return
	}
	w.flushOne(filePath, fs)
}

// FlushMatching flushes every file whose path satisfies predicate.
func (w *WriteCoalescer) FlushMatching(predicate func(string) bool) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		if predicate(p) {
			paths = append(paths, p)
		}
	}
	w.mu.Unlock()

	for _, p := range paths {
		fs, ok := w.snapshot(p)
		if ok {
			w.flushOne(p, fs)
		}
	}
}

func (w *WriteCoalescer) snapshot(filePath string) (*fileState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fs, ok := w.files[filePath]
	return fs, ok
}

func (w *WriteCoalescer) flushOne(filePath string, fs *fileState) {
	for {
		fs.mu.Lock()
		hasPending := fs.latestJob != nil
		if fs.timer != nil {
			fs.timer.Stop()
		}
		fs.mu.Unlock()

		if hasPending {
			w.dispatch(filePath, fs)
		}

		fs.chainMu.Lock()
		fs.mu.Lock()
		reentered := fs.latestJob != nil
		fs.mu.Unlock()
		fs.chainMu.Unlock()
		if !reentered {
			return
		}
	}
}

// Cancel clears filePath's pending timer/job and resolves every pending
// generation with StatusCanceled. An empty filePath cancels every file.
func (w *WriteCoalescer) Cancel(filePath string) {
	if filePath == "" {
		w.CancelMatching(func(string) bool { return true })
		return
	}
	fs, ok := w.snapshot(filePath)
	if ok {
		w.cancelOne(fs)
	}
}

// CancelMatching cancels every file whose path satisfies predicate.
func (w *WriteCoalescer) CancelMatching(predicate func(string) bool) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		if predicate(p) {
			paths = append(paths, p)
		}
	}
	w.mu.Unlock()

	for _, p := range paths {
		fs, ok := w.snapshot(p)
		if ok {
			w.cancelOne(fs)
		}
	}
}

func (w *WriteCoalescer) cancelOne(fs *fileState) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.timer != nil {
		fs.timer.Stop()
	}
	fs.latestJob = nil
	for gen, ch := range fs.pending {
		ch <- WriteResult{Generation: gen, Status: StatusCanceled}
		close(ch)
		delete(fs.pending, gen)
	}
}
