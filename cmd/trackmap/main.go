package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mdobak/go-xerrors"

	"github.com/roman-kulish/drone-monitoring/cmd/trackmap/app"
	"github.com/roman-kulish/drone-monitoring/internal/logging"
)

func main() {
	var logLevel slog.LevelVar
	logger := logging.New(os.Stdout, &logLevel)

	config, err := app.NewConfigFromCLI(os.Args[1:])
	if err != nil {
		logger.Error("invalid configuration", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}

	if config.Verbose {
		logLevel.Set(slog.LevelDebug)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err = app.Run(ctx, config, logger); err != nil {
		logger.Error("drawing track map failed", slog.Any("error", xerrors.New(err)))

		cancel()
		os.Exit(1)
	}
}
