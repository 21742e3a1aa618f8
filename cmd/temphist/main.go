package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/temphist/temphist/internal/api/http"
	"github.com/temphist/temphist/internal/cache"
	"github.com/temphist/temphist/internal/config"
	"github.com/temphist/temphist/internal/debounce"
	"github.com/temphist/temphist/internal/loader"
	"github.com/temphist/temphist/internal/location"
	"github.com/temphist/temphist/internal/scheduler"
	"github.com/temphist/temphist/internal/temphist"
	"github.com/temphist/temphist/internal/temphist/client"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound records API calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Records API client: async job create/poll with sync fallback.
	recordsClient := client.New(client.Config{
		BaseURL:          cfg.UpstreamBaseURL,
		PollInterval:     cfg.PollInterval,
		MaxPollAttempts:  cfg.PollMaxAttempts,
		FailureThreshold: cfg.PollFailureThreshold,
		HTTPClient:       httpClient,
	})

	// Shared prefetch cache with configured retention.
	prefetch := cache.New[*temphist.TemperatureDataset](cache.Config{
		DefaultTTL: cfg.CacheTTL,
		MaxAge:     cfg.CacheMaxAge,
		MaxSize:    cfg.CacheMaxSize,
	})

	// Lazy loader orchestrating cache, coalescing and retries.
	ldr := loader.New(recordsClient, prefetch, loader.Config{
		Retries:     cfg.LoadRetries,
		BackoffBase: cfg.LoadBackoffBase,
	})

	deb := debounce.New()
	resolver := location.New(cfg.GeocoderAPIKey)
	if !resolver.Enabled() {
		log.Println("INFO: no geocoder API key; location resolution disabled")
	}

	// Background jobs: cache sweep + prefetch warm-up.
	targets := make([]scheduler.WarmupTarget, 0, len(cfg.PreloadLocations))
	for _, loc := range cfg.PreloadLocations {
		targets = append(targets, scheduler.WarmupTarget{
			Location: loc,
			Periods:  cfg.PreloadPeriods,
		})
	}
	sched := scheduler.New(ldr, prefetch, targets, cfg.WarmupInterval, cfg.CleanupInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// HTTP application: middleware, health endpoint and API routes.
	app := httpapi.NewApp(ldr, deb, resolver)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
