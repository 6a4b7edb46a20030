package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetEnvFallsBackWhenUnset(t *testing.T) {
	require.Equal(t, "fallback", getEnv("RUNTIME_TEST_UNSET_VAR", "fallback"))
}

func TestGetEnvReturnsTrimmedValue(t *testing.T) {
	t.Setenv("RUNTIME_TEST_VAR", "  hello  ")
	require.Equal(t, "hello", getEnv("RUNTIME_TEST_VAR", "fallback"))
}

func TestGetEnvIntFallsBackWhenUnset(t *testing.T) {
	require.Equal(t, 42, getEnvInt("RUNTIME_TEST_INT_UNSET", 42))
}

func TestGetEnvIntParsesValue(t *testing.T) {
	t.Setenv("RUNTIME_TEST_INT", "17")
	require.Equal(t, 17, getEnvInt("RUNTIME_TEST_INT", 0))
}

func TestLoadDefaultsToWebcontainerWithoutRemoteValidation(t *testing.T) {
	t.Setenv("RUNTIME_PROVIDER", "webcontainer")
	t.Setenv("PORT", "9090")

	cfg := Load(func() error { return nil })
	require.Equal(t, ProviderWebcontainer, cfg.Provider)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, 15, cfg.SessionIdleMinutes)
	require.Equal(t, 30, cfg.HeartbeatSeconds)
}

func TestLoadPassesThroughDokploySettingsWhenValid(t *testing.T) {
	t.Setenv("RUNTIME_PROVIDER", "dokploy")
	t.Setenv("DOKPLOY_BASE_URL", "https://dokploy.example.com")
	t.Setenv("DOKPLOY_API_KEY", "key-123")
	t.Setenv("RUNTIME_TOKEN_SECRET", "secret-abc")
	t.Setenv("RUNTIME_SESSION_IDLE_MIN", "20")
	t.Setenv("RUNTIME_HEARTBEAT_SEC", "10")
	t.Setenv("DOKPLOY_CANARY_ROLLOUT_PERCENT", "0")

	cfg := Load(func() error { return nil })
	require.Equal(t, ProviderDokploy, cfg.Provider)
	require.Equal(t, "https://dokploy.example.com", cfg.DokployBaseURL)
	require.Equal(t, 20, cfg.SessionIdleMinutes)
}
