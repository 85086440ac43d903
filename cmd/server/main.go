package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentimeter/backend/internal/api"
	"github.com/sentimeter/backend/internal/config"
	"github.com/sentimeter/backend/internal/messaging"
	"github.com/sentimeter/backend/internal/metrics"
	"github.com/sentimeter/backend/internal/ratelimit"
	"github.com/sentimeter/backend/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	gin.SetMode(cfg.GinMode)

	// --- Storage backend (chosen once) ---
	ctx := context.Background()
	backend, err := session.OpenBackend(ctx, session.BackendConfig{
		RedisURL:      cfg.RedisURL,
		DialTimeout:   cfg.RedisDialTimeout,
		SweepInterval: cfg.SweepInterval,
	})
	if err != nil {
		log.Fatalf("failed to open session backend: %v", err)
	}
	metrics.SetBackend(backend.Kind())

	manager := session.NewManager(backend, session.Options{
		TTL:       cfg.SessionTTL,
		SingleUse: cfg.SingleUse,
	})
	observers := session.Observers{metrics.Observer{}}

	// --- NATS (optional) ---
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		observers = append(observers, messaging.NewEventObserver(natsClient))
	}
	manager.SetObserver(observers)

	// --- Rate limiting ---
	var limiter ratelimit.Limiter
	if rb, ok := backend.(*session.RedisBackend); ok {
		limiter = ratelimit.NewRedisLimiter(rb.Client())
	} else {
		limiter = ratelimit.NewMemoryLimiter()
	}
	createRule := ratelimit.RuleCreate
	createRule.Limit = cfg.CreateRateLimit

	handler := api.NewHandler(manager, limiter, api.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		TrustedProxies:  cfg.TrustedProxies,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		CreateRule:      createRule,
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Session service starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  backend:         %s", backend.Kind())
	log.Printf("  session_ttl:     %s", cfg.SessionTTL)
	log.Printf("  single_use:      %t", cfg.SingleUse)
	log.Printf("  sweep_interval:  %s", cfg.SweepInterval)
	log.Printf("  allowed_origins: %v", cfg.AllowedOrigins)
	log.Printf("  create_limit:    %d/%s", createRule.Limit, createRule.Window)
	log.Printf("  nats_enabled:    %t", natsClient != nil)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("server error: %v", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	cancel()
	if natsClient != nil {
		natsClient.Close()
	}
	if err := backend.Close(); err != nil {
		log.Printf("session backend close error: %v", err)
	}
	log.Printf("server stopped")
	os.Exit(exitCode)
}
