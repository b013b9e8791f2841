// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Command bridge runs the realtime voice bridge between the carrier's
// AudioHook stream and the model provider.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sonaralabs/audiobridge/config"
	internal_server "github.com/sonaralabs/audiobridge/internal/server"
	"github.com/sonaralabs/audiobridge/pkg/commons"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger, err := commons.NewApplicationLogger(
		commons.WithLevel(cfg.LogLevel),
		commons.WithLogFile(cfg.LogFile),
	)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("Starting %s", cfg.ServiceName)
	server := internal_server.New(logger, cfg)
	if err := server.Run(ctx); err != nil {
		logger.Fatalf("Server exited with error: %v", err)
	}
	logger.Infof("Shutdown complete")
}
