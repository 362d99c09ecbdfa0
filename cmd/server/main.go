package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/normalocity/pedestrians/internal/app"
	"github.com/normalocity/pedestrians/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.DefaultConfig()
	bootLogger := telemetry.NewLogger(os.Stderr, "pedestrians", "info")
	cfg = app.ApplyEnv(cfg, os.LookupEnv, bootLogger)
	logger := telemetry.NewLogger(os.Stderr, "pedestrians", cfg.LogLevel)
	cfg.Logger = logger

	if err := app.Run(ctx, cfg); err != nil {
		logger.Fatal("server stopped", "err", err)
	}
}
