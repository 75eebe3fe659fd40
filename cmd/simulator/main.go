package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/roman-kulish/drone-monitoring/cmd/simulator/app"
	"github.com/roman-kulish/drone-monitoring/internal/logging"
)

func main() {
	var logLevel slog.LevelVar
	logger := logging.New(os.Stderr, &logLevel)

	// A missing .env file is not an error
	_ = godotenv.Load()

	config, err := app.NewConfigFromCLI(os.Args[1:])
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(config.LogLevel)
	logLevel.Set(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, os.Stdout, logger); err != nil {
		logger.Error("simulation failed", slog.Any("error", xerrors.New(err)))

		cancel()
		os.Exit(1)
	}
}
