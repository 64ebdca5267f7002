package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinical-trial-matcher/internal/api"
	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/config"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Close(closeCtx); err != nil {
			application.Logger.WithError(err).Warn("Shutdown completed with errors")
		}
	}()

	application.Logger.WithField("addr", cfg.Server.Host).WithField("port", cfg.Server.Port).
		Info("Starting clinical trial matcher")

	server := api.NewServer(application)
	if err := server.Start(ctx); err != nil {
		application.Logger.WithError(err).Error("Server failed")
		return
	}
	application.Logger.Info("Server stopped")
}
