package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"meeting-minutes/internal/bootstrap"
	"meeting-minutes/internal/config"
)

func main() {
	store := config.NewEnvStore(os.Getenv("SETTINGS_FILE"), ".env")
	settings, err := store.Load()
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}

	logger := bootstrap.NewLogger(os.Stderr, settings.LogLevel)
	slog.SetDefault(logger)

	app := bootstrap.New(settings, logger)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error("run app", "error", err)
		os.Exit(1)
	}
}
