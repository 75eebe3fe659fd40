package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	serverapp "github.com/roman-kulish/drone-monitoring/cmd/server/app"
	simapp "github.com/roman-kulish/drone-monitoring/cmd/simulator/app"
)

// Run starts the API, then flies config.Flights simulated flights against it
func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	server := serverapp.NewConfig()
	server.Addr = config.Addr
	server.DBPath = config.DBPath
	server.LogLevel = config.LogLevel
	server.LiveFeed = config.LiveFeed

	orchestrator := NewOrchestrator(server, logger,
		WithWaitTimeout(config.WaitTimeout),
		WithExit(config.Exit),
	)

	flight, err := simapp.LoadConfig(config.SimulatorConfig)
	if err != nil {
		return fmt.Errorf("loading simulator configuration: %w", err)
	}
	flight.Realtime = flight.Realtime || config.Realtime

	for i := 0; i < config.Flights; i++ {
		c := *flight

		// Flights of a seeded configuration differ but stay reproducible
		if c.Simulation.Seed != nil {
			seed := *c.Simulation.Seed + uint64(i)
			c.Simulation.Seed = &seed
		}

		if err = orchestrator.AddFlight(&c); err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", config.Addr, err)
	}

	return orchestrator.Run(ctx, listener)
}
