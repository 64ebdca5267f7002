package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinical-trial-matcher/internal/app"
	"github.com/clinical-trial-matcher/internal/config"
	"github.com/clinical-trial-matcher/internal/mcp"
)

func main() {
	// stdout carries the protocol
	log.SetOutput(os.Stderr)

	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		application.Close(closeCtx)
	}()

	if err := mcp.NewServer(application).Run(ctx); err != nil && ctx.Err() == nil {
		application.Logger.WithError(err).Error("MCP server stopped with error")
		return
	}
	application.Logger.Info("MCP server stopped")
}
