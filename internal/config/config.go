// Package config loads runtime-server configuration from the
// environment, following gateway/internal/config/config.go's
// godotenv.Load + getEnv(key, fallback) idiom, with fail-fast validation
// for spec.md §6's remote-mode requirements added on top.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Provider string

const (
	ProviderWebcontainer Provider = "webcontainer"
	ProviderDokploy      Provider = "dokploy"
)

type Config struct {
	Port     string
	Provider Provider

	DokployBaseURL        string
	DokployAPIKey         string
	DokployServerID       string
	DokployCanaryServerID string
	CanaryRolloutPercent  int

	SessionIdleMinutes int
	HeartbeatSeconds   int
	TokenSecret        string
	CleanupSecret      string

	RedisAddr string
	AMQPURL   string
}

// Load reads configuration from the environment (after loading a local
// .env file, if present) and log.Fatalf's on any invalid or missing
// required remote-mode value, matching gateway/internal/config.go's
// getEnv fail-fast helper.
func Load(loadDotenv func() error) Config {
	if loadDotenv != nil {
		if err := loadDotenv(); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		Provider:              Provider(getEnv("RUNTIME_PROVIDER", string(ProviderWebcontainer))),
		DokployBaseURL:        os.Getenv("DOKPLOY_BASE_URL"),
		DokployAPIKey:         os.Getenv("DOKPLOY_API_KEY"),
		DokployServerID:       os.Getenv("DOKPLOY_SERVER_ID"),
		DokployCanaryServerID: os.Getenv("DOKPLOY_CANARY_SERVER_ID"),
		CanaryRolloutPercent:  getEnvInt("DOKPLOY_CANARY_ROLLOUT_PERCENT", 0),
		SessionIdleMinutes:    getEnvInt("RUNTIME_SESSION_IDLE_MIN", 15),
		HeartbeatSeconds:      getEnvInt("RUNTIME_HEARTBEAT_SEC", 30),
		TokenSecret:           os.Getenv("RUNTIME_TOKEN_SECRET"),
		CleanupSecret:         os.Getenv("RUNTIME_CLEANUP_SECRET"),
		RedisAddr:             os.Getenv("RUNTIME_REDIS_ADDR"),
		AMQPURL:               os.Getenv("RUNTIME_AMQP_URL"),
	}

	if cfg.Provider == ProviderDokploy {
		validateRemoteMode(cfg)
	}

	return cfg
}

func validateRemoteMode(cfg Config) {
	if cfg.DokployBaseURL == "" {
		log.Fatalf("DOKPLOY_BASE_URL is required when RUNTIME_PROVIDER=dokploy")
	}
	if cfg.DokployAPIKey == "" {
		log.Fatalf("DOKPLOY_API_KEY is required when RUNTIME_PROVIDER=dokploy")
	}
	if cfg.TokenSecret == "" {
		log.Fatalf("RUNTIME_TOKEN_SECRET is required when RUNTIME_PROVIDER=dokploy")
	}
	if cfg.SessionIdleMinutes < 1 {
		log.Fatalf("RUNTIME_SESSION_IDLE_MIN must be >= 1")
	}
	if cfg.HeartbeatSeconds < 5 {
		log.Fatalf("RUNTIME_HEARTBEAT_SEC must be >= 5")
	}
	if cfg.CanaryRolloutPercent < 0 || cfg.CanaryRolloutPercent > 100 {
		log.Fatalf("DOKPLOY_CANARY_ROLLOUT_PERCENT must be within [0,100]")
	}
	if cfg.CanaryRolloutPercent > 0 && cfg.DokployCanaryServerID == "" {
		log.Fatalf("DOKPLOY_CANARY_SERVER_ID is required when DOKPLOY_CANARY_ROLLOUT_PERCENT > 0")
	}
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s must be an integer, got %q", key, raw)
	}
	return n
}
