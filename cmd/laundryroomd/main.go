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

	"github.com/jonboulle/clockwork"

	"laundry-room-coordinator/config"
	"laundry-room-coordinator/internal/api"
	"laundry-room-coordinator/internal/coordinator"
	"laundry-room-coordinator/internal/db"
	"laundry-room-coordinator/internal/kvstore"
)

func main() {
	logger := log.New(os.Stdout, "laundryroom ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")

	var cfg *config.Config
	var err error
	if configPath == "" {
		cfg = config.Default()
		logger.Println("CONFIG_PATH not set; using built-in defaults (in-memory store)")
	} else {
		cfg, err = config.Load(configPath)
		if err != nil {
			logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
		}
		logger.Printf("configuration loaded from %s", configPath)
	}

	var store kvstore.Store
	switch cfg.Store.Driver {
	case "memory":
		store = kvstore.NewMemoryStore()
		logger.Println("using in-memory machine-state store")
	default:
		gormDB, err := db.Init(&cfg.Store)
		if err != nil {
			logger.Fatalf("failed to initialize database: %v", err)
		}
		store = kvstore.NewGormStore(gormDB)
		logger.Printf("using %s machine-state store", cfg.Store.Driver)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := coordinator.New(cfg, store, clockwork.NewRealClock(), nil)
	go svc.Run(ctx)

	router := api.NewRouter(svc, &cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
