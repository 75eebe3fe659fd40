package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/api"
	"github.com/roman-kulish/drone-monitoring/internal/cache"
	"github.com/roman-kulish/drone-monitoring/internal/discovery"
	"github.com/roman-kulish/drone-monitoring/internal/storage"
)

const shutdownTimeout = 10 * time.Second

// Run serves the API until the context is cancelled
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	listener, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", config.Addr, err)
	}
	return Serve(ctx, listener, config, logger)
}

// Serve serves the API on listener until the context is cancelled
func Serve(ctx context.Context, listener net.Listener, config *Config, logger *slog.Logger) (err error) {
	store := storage.NewSqliteStore(config.DBPath)
	defer func() {
		if cerr := store.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing storage: %w", cerr))
		}
	}()

	options := []func(*api.Server){api.WithLogger(logger)}

	if config.Redis.Addr != "" {
		c := cache.NewRedisCache(config.Redis, cache.WithLogger(logger))
		defer c.Close()

		// The API works without the cache, an unreachable server is not fatal
		if err := c.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, latest samples are served from storage", slog.Any("error", err))
		} else {
			logger.Info("caching latest samples in redis", slog.String("addr", config.Redis.Addr))
			options = append(options, api.WithCache(c))
		}
	}

	if config.LiveFeed {
		hub := api.NewHub(api.WithHubLogger(logger))
		go hub.Run(ctx)
		options = append(options, api.WithHub(hub))
	}

	if config.Announce {
		port := listener.Addr().(*net.TCPAddr).Port
		announcer := discovery.NewAnnouncer(port, discovery.WithLogger(logger))
		if err := announcer.Start(); err != nil {
			logger.Warn("announcing API", slog.Any("error", err))
		} else {
			defer announcer.Stop()
		}
	}

	server := &http.Server{
		Handler:           api.New(store, options...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("serving API", slog.String("addr", listener.Addr().String()))
		errs <- server.Serve(listener)
	}()

	select {
	case err = <-errs:
		return fmt.Errorf("serving API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down API: %w", err)
	}
	if err = <-errs; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving API: %w", err)
	}

	logger.Info("API stopped")
	return nil
}
