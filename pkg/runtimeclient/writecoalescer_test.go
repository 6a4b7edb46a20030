package runtimeclient

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteCoalescerDeliversSingleWriteAfterDebounce(t *testing.T) {
	var calls int32
	var lastContent string
	var mu sync.Mutex

	write := func(ctx context.Context, path string, input WriteInput) error {
		atomic.AddInt32(&calls, 1)
		mu.Lock()
		lastContent = input.Content
		mu.Unlock()
		return nil
	}
	wc := NewWriteCoalescer(write, 20*time.Millisecond)

	resultCh := wc.Enqueue("/home/project/src/App.jsx", WriteInput{Content: "v1"})
	result := <-resultCh

	require.NoError(t, result.Err)
	require.Equal(t, StatusWritten, result.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	mu.Lock()
	require.Equal(t, "v1", lastContent)
	mu.Unlock()
}

func TestWriteCoalescerCollapsesRapidEdits(t *testing.T) {
	var calls int32
	write := func(ctx context.Context, path string, input WriteInput) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	wc := NewWriteCoalescer(write, 30*time.Millisecond)

	first := wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v1"})
	second := wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v2"})
	third := wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v3"})

	r1 := <-first
	r2 := <-second
	r3 := <-third

	require.Equal(t, StatusCanceled, r1.Status)
	require.Equal(t, StatusCanceled, r2.Status)
	require.Equal(t, StatusWritten, r3.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "only the newest generation should reach the network")
}

func TestWriteCoalescerSerializesWritesToSameFile(t *testing.T) {
	var active int32
	var maxConcurrent int32
	write := func(ctx context.Context, path string, input WriteInput) error {
		cur := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&maxConcurrent)
			if cur <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return nil
	}
	wc := NewWriteCoalescer(write, 5*time.Millisecond)

	ch1 := wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v1"})
	<-ch1
	ch2 := wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v2"})
	<-ch2

	require.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(1))
}

func TestWriteCoalescerCancelResolvesPendingAsCanceled(t *testing.T) {
	write := func(ctx context.Context, path string, input WriteInput) error { return nil }
	wc := NewWriteCoalescer(write, 200*time.Millisecond)

	resultCh := wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v1"})
	wc.Cancel("/home/project/a.txt")

	result := <-resultCh
	require.Equal(t, StatusCanceled, result.Status)
}

func TestWriteCoalescerFlushDispatchesImmediately(t *testing.T) {
	var calls int32
	write := func(ctx context.Context, path string, input WriteInput) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	wc := NewWriteCoalescer(write, time.Hour)

	resultCh := wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v1"})
	wc.Flush("/home/project/a.txt")

	result := <-resultCh
	require.Equal(t, StatusWritten, result.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWriteCoalescerSurfacesWriteError(t *testing.T) {
	failWrite := func(ctx context.Context, path string, input WriteInput) error {
		return errTestWrite
	}
	wc := NewWriteCoalescer(failWrite, 5*time.Millisecond)

	result := <-wc.Enqueue("/home/project/a.txt", WriteInput{Content: "v1"})
	require.ErrorIs(t, result.Err, errTestWrite)
}

var errTestWrite = &testWriteError{}

type testWriteError struct{}

func (e *testWriteError) Error() string { return "simulated write failure" }
