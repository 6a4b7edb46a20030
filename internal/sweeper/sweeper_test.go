package sweeper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/metadata"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
)

func TestExpired(t *testing.T) {
	now := time.Unix(1_700_000, 0)
	m := metadata.SessionMetadata{LastSeenAt: now.Add(-2 * time.Minute).UnixMilli(), IdleTTLSec: 60}
	require.True(t, expired(m, now))

	fresh := metadata.SessionMetadata{LastSeenAt: now.UnixMilli(), IdleTTLSec: 900}
	require.False(t, expired(fresh, now))
}

func TestTryAcquireIsNonReentrant(t *testing.T) {
	s := New(platform.New(platform.Config{}), nil)

	require.True(t, s.tryAcquire("actor-1"))
	require.False(t, s.tryAcquire("actor-1"), "a second concurrent sweep for the same actor must be rejected")

	s.release("actor-1")
	require.True(t, s.tryAcquire("actor-1"), "after release, the actor can be acquired again")
}

func TestTryAcquireIsIndependentPerActor(t *testing.T) {
	s := New(platform.New(platform.Config{}), nil)

	require.True(t, s.tryAcquire("actor-1"))
	require.True(t, s.tryAcquire("actor-2"))
}

func envelopeJSON(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{"result": map[string]any{"data": map[string]any{"json": v}}})
	require.NoError(t, err)
	return body
}

// TestRunDeletesOnlyExpiredComposesOwnedByActor exercises Run end to end
// against a fake platform server (with no event publisher).
func TestRunDeletesOnlyExpiredComposesOwnedByActor(t *testing.T) {
	now := time.Now()
	expiredMeta, err := metadata.Format(metadata.SessionMetadata{
		ActorID: "actor-1", ChatID: "chat-1",
		LastSeenAt: now.Add(-2 * time.Hour).UnixMilli(), IdleTTLSec: 60,
	})
	require.NoError(t, err)
	freshMeta, err := metadata.Format(metadata.SessionMetadata{
		ActorID: "actor-1", ChatID: "chat-2",
		LastSeenAt: now.UnixMilli(), IdleTTLSec: 900,
	})
	require.NoError(t, err)
	otherActorMeta, err := metadata.Format(metadata.SessionMetadata{
		ActorID: "actor-2", ChatID: "chat-3",
		LastSeenAt: now.Add(-2 * time.Hour).UnixMilli(), IdleTTLSec: 60,
	})
	require.NoError(t, err)

	var deletedComposeIDs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "project.all"):
			w.Write(envelopeJSON(t, []map[string]any{{"projectId": "proj-1"}}))
		case strings.Contains(r.URL.Path, "compose.allByProject"):
			w.Write(envelopeJSON(t, []map[string]any{
				{"composeId": "compose-expired", "description": expiredMeta},
				{"composeId": "compose-fresh", "description": freshMeta},
				{"composeId": "compose-other-actor", "description": otherActorMeta},
			}))
		case strings.Contains(r.URL.Path, "compose.delete"):
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				Zero struct {
					JSON struct {
						ComposeID string `json:"composeId"`
					} `json:"json"`
				} `json:"0"`
			}
			_ = json.Unmarshal(body, &payload)
			deletedComposeIDs = append(deletedComposeIDs, payload.Zero.JSON.ComposeID)
			w.Write(envelopeJSON(t, map[string]any{"ok": true}))
		default:
			t.Fatalf("unexpected procedure: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := platform.New(platform.Config{BaseURL: srv.URL, APIKey: "key"})
	s := New(client, nil)

	err = s.Run(context.Background(), "actor-1", "")
	require.NoError(t, err)
	require.Equal(t, []string{"compose-expired"}, deletedComposeIDs)
}
