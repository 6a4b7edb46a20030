package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/errs"
)

func TestResolveRequestIDAcceptsValidValue(t *testing.T) {
	require.Equal(t, "abc-123", resolveRequestID("abc-123"))
}

func TestResolveRequestIDMintsUUIDForInvalidValue(t *testing.T) {
	rid := resolveRequestID("has spaces")
	require.NotEqual(t, "has spaces", rid)
	require.NotEmpty(t, rid)
}

func TestResolveRequestIDMintsUUIDForEmptyValue(t *testing.T) {
	require.NotEmpty(t, resolveRequestID(""))
}

func TestRequireNonEmpty(t *testing.T) {
	require.NoError(t, requireNonEmpty("chatId", "chat-1"))
	err := requireNonEmpty("chatId", "")
	require.Error(t, err)
}

func TestCallSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"data":{"json":{"ok":true}}}}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "key"})
	raw, err := client.call(context.Background(), "project.all", false, nil, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestCallRetriesOnRetryableStatusThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"result":{"data":{"json":{"ok":true}}}}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "key", MaxRetries: 2})
	raw, err := client.call(context.Background(), "project.all", false, nil, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(raw))
	require.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestCallDoesNotRetryNonRetryableStatus(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "key", MaxRetries: 2})
	_, err := client.call(context.Background(), "compose.one", false, nil, "")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestCallExhaustsRetriesAndReturnsRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "key", MaxRetries: 1})
	_, err := client.call(context.Background(), "project.all", false, nil, "")
	require.Error(t, err)
	re, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.CodeRetryExhausted, re.Code)
}
