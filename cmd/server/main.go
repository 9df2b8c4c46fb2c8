package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/discordgate/discordgate/internal/api"
	"github.com/discordgate/discordgate/internal/authz"
	"github.com/discordgate/discordgate/internal/config"
	"github.com/discordgate/discordgate/internal/database"
	"github.com/discordgate/discordgate/internal/discord"
	"github.com/discordgate/discordgate/internal/jobs"
	"github.com/discordgate/discordgate/internal/metrics"
	"github.com/discordgate/discordgate/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Token sealing
	sealer, err := store.NewSealer(cfg.TokenSealKey)
	if err != nil {
		log.Fatalf("Failed to initialize token sealer: %v", err)
	}
	if sealer == nil {
		log.Println("WARNING: TOKEN_SEAL_KEY not set. OAuth tokens will be stored unencrypted.")
	}

	// Stores and collaborators
	users := store.NewUserStore(db, sealer)
	states := store.NewStateStore(db)
	discordClient := discord.NewClient(cfg)

	// Metrics
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Login authorization engine
	engine := authz.NewEngine(&cfg.Discord, discordClient, users)

	// Background jobs
	scheduler := jobs.NewScheduler(cfg, users, states, discordClient, collector)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, api.Deps{
		Engine:    engine,
		States:    states,
		Users:     users,
		Discord:   discordClient,
		Collector: collector,
		Gatherer:  registry,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		log.Printf("Discord redirect URI: %s", cfg.RedirectURI())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
