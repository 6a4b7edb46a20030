package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversNotifyOnlyToMatchingComposeID(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		composeID := r.URL.Query().Get("composeId")
		_ = hub.Serve(w, r, composeID)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?composeId=compose-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	otherURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?composeId=compose-2"
	otherConn, _, err := websocket.DefaultDialer.Dial(otherURL, nil)
	require.NoError(t, err)
	defer otherConn.Close()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 2
	}, time.Second, 10*time.Millisecond)

	hub.Notify("compose-1", "heartbeat")

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "compose-1", msg.ComposeID)
	require.Equal(t, "heartbeat", msg.Reason)

	otherConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	err = otherConn.ReadJSON(&msg)
	require.Error(t, err, "a client subscribed to a different compose must not receive the notification")
}

func TestListenerInvokesOnWakeForEachMessage(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, "compose-1")
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/notify"

	received := make(chan Message, 1)
	listener := NewListener(wsURL, func(m Message) { received <- m })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	listener.Start(ctx)
	defer listener.Close()

	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.clients) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Notify("compose-1", "redeploy-triggered")

	select {
	case msg := <-received:
		require.Equal(t, "compose-1", msg.ComposeID)
		require.Equal(t, "redeploy-triggered", msg.Reason)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listener to receive wake-up")
	}
}
