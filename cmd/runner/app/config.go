package app

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/logging"
)

const (
	DefaultAddr        = "127.0.0.1:5000"
	DefaultDBPath      = "drone_monitoring.db"
	DefaultWaitTimeout = 60 * time.Second

	EnvDBPath   = "DRONE_DB_PATH"
	EnvLogLevel = "DRONE_LOG_LEVEL"
)

// Config represents the runner configuration. The simulated flights read the
// simulator configuration file, their sink is always the API started by the
// runner.
type Config struct {
	Addr            string
	DBPath          string
	LogLevel        string
	SimulatorConfig string // Path to the simulator configuration file
	Flights         int    // Number of flights simulated concurrently
	Realtime        bool
	LiveFeed        bool
	Exit            bool // Stop the API once the flights are over
	WaitTimeout     time.Duration
}

func NewConfig() *Config {
	return &Config{
		Addr:        DefaultAddr,
		DBPath:      DefaultDBPath,
		LogLevel:    "info",
		Flights:     1,
		LiveFeed:    true,
		WaitTimeout: DefaultWaitTimeout,
	}
}

func NewConfigFromCLI(args []string, lookup func(string) (string, bool)) (*Config, error) {
	c := NewConfig()
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}

	fs := flag.NewFlagSet("runner", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "Address of the API")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "Path to the database file")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level. [debug, info, warn, error]")
	fs.StringVar(&c.SimulatorConfig, "c", "", "Path to the simulator configuration file, defaults apply when empty")
	fs.IntVar(&c.Flights, "flights", c.Flights, "Number of flights to simulate concurrently")
	fs.BoolVar(&c.Realtime, "realtime", false, "Deliver one record per tick interval of wall time")
	fs.BoolVar(&c.LiveFeed, "live-feed", c.LiveFeed, "Serve the websocket live feed")
	fs.BoolVar(&c.Exit, "exit", false, "Stop the API once the flights are over")
	fs.DurationVar(&c.WaitTimeout, "wait", c.WaitTimeout, "How long to wait for the API to become ready")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return errors.New("app.Config: address is required")
	case c.DBPath == "":
		return errors.New("app.Config: db path is required")
	case c.Flights < 0:
		return fmt.Errorf("app.Config: flights must not be negative: %d", c.Flights)
	case c.WaitTimeout <= 0:
		return fmt.Errorf("app.Config: wait timeout must be positive: %s", c.WaitTimeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("app.Config: %w", err)
	}
	return nil
}
