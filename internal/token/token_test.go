package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseClaims() Claims {
	return Claims{
		ActorID:       "actor-1",
		ChatID:        "chat-1",
		ProjectID:     "project-1",
		EnvironmentID: "env-1",
		ComposeID:     "compose-1",
		Domain:        "chat-1.preview.example.com",
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := Sign(baseClaims(), "secret", 3600, now)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	claims, err := Verify(tok, "secret", now)
	require.NoError(t, err)
	require.Equal(t, "actor-1", claims.ActorID)
	require.Equal(t, "compose-1", claims.ComposeID)
	require.Equal(t, SchemaVersion, claims.Version)
	require.Equal(t, now.Unix(), claims.IssuedAt)
	require.Equal(t, now.Unix()+3600, claims.ExpiresAt)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := Sign(baseClaims(), "secret", 3600, now)
	require.NoError(t, err)

	_, err = Verify(tok, "wrong-secret", now)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := Sign(baseClaims(), "secret", 60, now)
	require.NoError(t, err)

	future := now.Add(2 * time.Minute)
	_, err = Verify(tok, "secret", future)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := Verify("not-a-jwt", "secret", time.Unix(1_700_000_000, 0))
	require.ErrorIs(t, err, ErrInvalidSignature)
}
