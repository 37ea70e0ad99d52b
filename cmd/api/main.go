package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markdave123-py/Rehearsal/internal/app"
	"github.com/markdave123-py/Rehearsal/internal/config"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
)

func main() {
	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.LoadConfig()

	lg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer lg.Sync()

	if err := cfg.Validate(); err != nil {
		lg.Fatal("invalid configuration", "error", err)
	}

	application, err := app.NewApp(ctx, cfg, lg)
	if err != nil {
		lg.Fatal("startup failed", "error", err)
	}
	defer application.Close()

	serverErr := make(chan error, 1)
	go func() { serverErr <- application.Server.Start() }()

	lg.Info("Rehearsal is running", "port", cfg.Port)
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			lg.Error("server stopped", "error", err)
		}
	}

	lg.Info("shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		lg.Error("graceful shutdown failed", "error", err)
	}
}
