package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/roman-kulish/drone-monitoring/internal/client"
	"github.com/roman-kulish/drone-monitoring/internal/discovery"
	"github.com/roman-kulish/drone-monitoring/internal/sim"
	"github.com/roman-kulish/drone-monitoring/internal/storage"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

const discoveryTimeout = 5 * time.Second

// finishFunc closes a sink once the flight is over, endTime being the
// simulated time the flight ended at
type finishFunc func(ctx context.Context, endTime time.Time) error

// Run flies the configured route into the configured sink. Records of the
// stdout sink are written to out.
func Run(ctx context.Context, config *Config, out io.Writer, logger *slog.Logger) error {
	route, err := config.Route()
	if err != nil {
		return fmt.Errorf("loading route: %w", err)
	}

	cfg := config.SimConfig()
	if cfg.StartTime.IsZero() {
		cfg.StartTime = time.Now().UTC()
	}

	logger = logger.With(slog.String("runID", uuid.NewString()))
	logger.Info("starting simulation",
		slog.String("sink", string(config.Sink)),
		slog.Int("waypoints", len(route)),
		slog.Time("startTime", cfg.StartTime),
	)

	sink, finish, err := createSink(ctx, config, cfg.StartTime, out, logger)
	if err != nil {
		return fmt.Errorf("creating %s sink: %w", config.Sink, err)
	}

	if config.Realtime {
		sink = paced(sink, time.Duration(config.Simulation.TickInterval))
	}

	summary, runErr := sim.Run(ctx, route, cfg, sink, sim.WithLogger(logger))

	// The flight is closed even when the run was cancelled
	finishErr := finish(context.WithoutCancel(ctx), cfg.StartTime.Add(summary.Elapsed))
	if finishErr != nil {
		finishErr = fmt.Errorf("closing %s sink: %w", config.Sink, finishErr)
	}

	logSummary(logger, summary)

	return errors.Join(runErr, finishErr)
}

func createSink(ctx context.Context, config *Config, startTime time.Time, out io.Writer, logger *slog.Logger) (telemetry.Sink, finishFunc, error) {
	switch config.Sink {
	case SinkStdout:
		enc := json.NewEncoder(out)
		sink := telemetry.SinkFunc(func(_ context.Context, r *telemetry.Record) error {
			return enc.Encode(r)
		})
		return sink, func(context.Context, time.Time) error { return nil }, nil

	case SinkSqlite:
		store := storage.NewSqliteStore(config.Storage.Path)

		flight, err := store.CreateFlight(ctx, startTime)
		if err != nil {
			return nil, nil, errors.Join(err, store.Close())
		}
		logger.Info("flight created", slog.Int64("flightID", flight.ID), slog.String("path", config.Storage.Path))

		if config.Storage.BatchSize <= 1 {
			finish := func(ctx context.Context, endTime time.Time) error {
				_, err := store.EndFlight(ctx, flight.ID, endTime)
				return errors.Join(err, store.Close())
			}
			return store.Sink(flight.ID), finish, nil
		}

		sink, err := store.BatchSink(flight.ID, config.Storage.BatchSize)
		if err != nil {
			return nil, nil, errors.Join(err, store.Close())
		}
		finish := func(ctx context.Context, endTime time.Time) error {
			// Records still buffered are stored before the flight ends
			logger.Debug("flushing buffered records", slog.Int("records", sink.Pending()))
			flushErr := sink.Flush(ctx)
			_, err := store.EndFlight(ctx, flight.ID, endTime)
			logger.Debug("records stored", slog.Int("records", sink.Stored()))
			return errors.Join(flushErr, err, store.Close())
		}
		return sink, finish, nil

	case SinkAPI:
		c, err := newAPIClient(ctx, config, logger)
		if err != nil {
			return nil, nil, err
		}

		flight, err := c.StartFlight(ctx, startTime)
		if err != nil {
			return nil, nil, err
		}

		finish := func(ctx context.Context, _ time.Time) error {
			_, err := c.EndFlight(ctx, flight.ID)
			return err
		}
		return c.Sink(flight.ID), finish, nil

	default:
		return nil, nil, fmt.Errorf("unknown sink %q", config.Sink)
	}
}

func newAPIClient(ctx context.Context, config *Config, logger *slog.Logger) (*client.Client, error) {
	url := config.API.URL
	if config.API.Discover {
		lookupCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		defer cancel()

		found, err := discovery.Lookup(lookupCtx)
		if err != nil {
			return nil, fmt.Errorf("discovering API: %w", err)
		}
		logger.Info("API discovered", slog.String("url", found))
		url = found
	}

	timeout := time.Duration(config.API.Timeout)
	if timeout == 0 {
		timeout = client.DefaultTimeout
	}

	return client.New(url,
		client.WithHTTPClient(&http.Client{Timeout: timeout}),
		client.WithRetries(config.API.Retries, client.DefaultBackoff),
		client.WithLogger(logger),
	)
}

// paced delays every delivery after the first until interval has passed
// since the previous one
func paced(sink telemetry.Sink, interval time.Duration) telemetry.Sink {
	if interval <= 0 {
		interval = sim.DefaultTickInterval
	}

	var next time.Time
	return telemetry.SinkFunc(func(ctx context.Context, r *telemetry.Record) error {
		if !next.IsZero() {
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		next = time.Now().Add(interval)
		return sink.Deliver(ctx, r)
	})
}

func logSummary(logger *slog.Logger, s sim.Summary) {
	logger.Info("simulation summary",
		slog.Uint64("seed", s.Seed),
		slog.String("ticks", humanize.Comma(int64(s.Ticks))),
		slog.Int("anomalies", s.Anomalies),
		slog.String("distance", humanize.SIWithDigits(s.Distance, 2, "m")),
		slog.Duration("elapsed", s.Elapsed),
		slog.Int("waypointsReached", s.WaypointsReached),
		slog.Bool("completed", s.Completed),
	)
}
