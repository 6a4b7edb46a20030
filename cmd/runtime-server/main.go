// Command runtime-server is the composition root: it loads
// configuration, wires PlatformClient/SessionOrchestrator/IdleSweeper/
// the events publisher/the directory cache, and serves HttpSurface.
// Grounded on services/gateway/cmd/gateway/main.go's signal.Notify +
// http.Server{} + srv.Shutdown(ctx) graceful-shutdown pattern.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/cache"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/config"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/events"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/httpapi"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/orchestrator"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/platform"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/sweeper"
	"github.com/Aadithya-J/code_nest/services/runtime-service/internal/template"
	"github.com/Aadithya-J/code_nest/services/runtime-service/pkg/runtimeclient/notify"
)

func main() {
	cfg := config.Load(func() error { return godotenv.Load() })

	client := platform.New(platform.Config{
		BaseURL: cfg.DokployBaseURL,
		APIKey:  cfg.DokployAPIKey,
	})

	publisher, err := events.New(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("failed connecting to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	sweep := sweeper.New(client, publisher)

	orch := orchestrator.New(client, sweep, publisher, orchestrator.Config{
		StableServerID:       cfg.DokployServerID,
		CanaryServerID:       cfg.DokployCanaryServerID,
		CanaryRolloutPercent: cfg.CanaryRolloutPercent,
		SessionIdleMinutes:   cfg.SessionIdleMinutes,
		TokenSecret:          cfg.TokenSecret,
		ResolveTemplate:      template.Resolve,
	})

	dirCache := cache.New(cfg.RedisAddr, 2*time.Second)
	defer dirCache.Close()

	hub := notify.NewHub()

	surface := httpapi.New(cfg, orch, client, dirCache, sweep, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: surface.Router(),
	}

	sweepTicker := time.NewTicker(time.Duration(cfg.SessionIdleMinutes) * time.Minute)
	defer sweepTicker.Stop()
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	go runBackgroundSweep(sweepCtx, sweep, sweepTicker)

	go func() {
		log.Printf("runtime-server listening on %s (provider=%s)", srv.Addr, cfg.Provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down runtime-server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("runtime-server exited cleanly")
}

func runBackgroundSweep(ctx context.Context, sweep *sweeper.Sweeper, ticker *time.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := sweep.RunAll(ctx, "")
			if err != nil {
				log.Printf("background sweep failed: %v", err)
				continue
			}
			log.Printf("background sweep completed: actors=%d", count)
		}
	}
}
