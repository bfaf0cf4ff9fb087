package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/jonboulle/clockwork"

	"alarm-clock-backend/config"
	"alarm-clock-backend/internal/api"
	"alarm-clock-backend/internal/db"
	"alarm-clock-backend/internal/engine"
	"alarm-clock-backend/internal/notification"
	"alarm-clock-backend/internal/reconcile"
	"alarm-clock-backend/internal/store"
	"alarm-clock-backend/internal/wakeup"
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "alarmd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Check for VAPID keys
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	// Create a context that can be cancelled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	clock := clockwork.NewRealClock()

	// Wake-up scheduler: one armed callback per alarm instance.
	wakeups, err := wakeup.NewScheduler(clock)
	if err != nil {
		logger.Fatalf("failed to create wake-up scheduler: %v", err)
	}
	wakeups.Start()

	// Notification presenter backed by web push.
	presenter := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	presenter.Start(ctx)

	eng, err := engine.New(appStore, wakeups, presenter, clock, &cfg.Alarms)
	if err != nil {
		logger.Fatalf("failed to create state machine engine: %v", err)
	}

	reconciler := reconcile.New(eng, clock, 30*time.Second, 2*time.Second)
	go reconciler.Run(ctx)

	// Process start is our boot: recover every instance whose armed
	// wake-up was lost, then re-arm.
	reconciler.Trigger(ctx, engine.Event{Type: engine.EventBootCompleted})

	// Initialize router
	router := api.NewRouter(&cfg.Server, appStore, eng, reconciler, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Block until a signal is received.
	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	// Create a deadline to wait for.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	// Let in-flight reconciliation finish before dropping the scheduler.
	reconciler.Wait()
	if err := wakeups.Stop(); err != nil {
		logger.Printf("wake-up scheduler shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
