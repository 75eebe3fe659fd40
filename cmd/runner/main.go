package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/roman-kulish/drone-monitoring/cmd/runner/app"
	"github.com/roman-kulish/drone-monitoring/internal/logging"
)

func main() {
	var logLevel slog.LevelVar
	logger := logging.New(os.Stdout, &logLevel)

	// A missing .env file is not an error
	_ = godotenv.Load()

	config, err := app.NewConfigFromCLI(os.Args[1:], os.LookupEnv)
	if err != nil {
		logger.Error("invalid configuration", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}

	level, _ := logging.ParseLevel(config.LogLevel)
	logLevel.Set(level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error("runner failed", slog.Any("error", xerrors.New(err)))

		cancel()
		os.Exit(1)
	}
}
