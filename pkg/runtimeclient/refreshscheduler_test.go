package runtimeclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestRefreshSchedulerHiddenBackoffSequence covers the "Refresh
// backoff" universal invariant (spec.md §8): hidden-tab delays follow
// 20,40,80,160,300s, capped at the last value.
func TestRefreshSchedulerHiddenBackoffSequence(t *testing.T) {
	m := NewRemoteFilesMirror(nil, nil, nil)
	s := m.scheduler
	s.SetVisible(false)

	got := make([]time.Duration, 0, 6)
	for i := 0; i < 6; i++ {
		got = append(got, s.nextDelay())
	}
	require.Equal(t, []time.Duration{
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		300 * time.Second,
		300 * time.Second,
	}, got)
}

// TestRefreshSchedulerVisibleStaysFixed covers the visible-tab half of
// the same invariant: next refresh is always 20s after completion.
func TestRefreshSchedulerVisibleStaysFixed(t *testing.T) {
	m := NewRemoteFilesMirror(nil, nil, nil)
	s := m.scheduler

	for i := 0; i < 3; i++ {
		require.Equal(t, 20*time.Second, s.nextDelay())
	}
}

// TestRefreshSchedulerVisibilityResetsToTwentySeconds covers "returning
// to visible resets to 20s immediately", including mid-backoff.
func TestRefreshSchedulerVisibilityResetsToTwentySeconds(t *testing.T) {
	m := NewRemoteFilesMirror(nil, nil, nil)
	s := m.scheduler
	s.SetVisible(false)

	require.Equal(t, 20*time.Second, s.nextDelay())
	require.Equal(t, 40*time.Second, s.nextDelay())
	require.Equal(t, 80*time.Second, s.nextDelay())

	s.SetVisible(true)
	require.Equal(t, 20*time.Second, s.nextDelay())

	select {
	case <-s.reset:
	default:
		t.Fatal("expected SetVisible(true) to signal the reset channel")
	}

	s.SetVisible(false)
	require.Equal(t, 20*time.Second, s.nextDelay())
	require.Equal(t, 40*time.Second, s.nextDelay())
}

func TestRefreshSchedulerSetVisibleFalseDoesNotSignalReset(t *testing.T) {
	m := NewRemoteFilesMirror(nil, nil, nil)
	s := m.scheduler
	s.SetVisible(false)

	select {
	case <-s.reset:
		t.Fatal("going hidden must not wake the loop early")
	default:
	}
}
