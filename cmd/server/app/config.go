package app

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"

	"github.com/roman-kulish/drone-monitoring/internal/cache"
	"github.com/roman-kulish/drone-monitoring/internal/logging"
)

const (
	DefaultAddr   = ":5000"
	DefaultDBPath = "drone_monitoring.db"

	// Environment overrides, also read from a .env file
	EnvAddr          = "DRONE_ADDR"
	EnvDBPath        = "DRONE_DB_PATH"
	EnvLogLevel      = "DRONE_LOG_LEVEL"
	EnvRedisAddr     = "DRONE_REDIS_ADDR"
	EnvRedisPassword = "DRONE_REDIS_PASSWORD"
)

type Config struct {
	Addr     string
	DBPath   string
	LogLevel string
	LiveFeed bool
	Announce bool // Announce the API over mDNS
	Redis    cache.Config
}

func NewConfig() *Config {
	return &Config{
		Addr:     DefaultAddr,
		DBPath:   DefaultDBPath,
		LogLevel: "info",
		LiveFeed: true,
	}
}

// NewConfigFromCLI builds the configuration from the environment, then the
// flags
func NewConfigFromCLI(args []string, lookup func(string) (string, bool)) (*Config, error) {
	c := NewConfig()
	c.applyEnv(lookup)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "Address to listen on")
	fs.StringVar(&c.DBPath, "db", c.DBPath, "Path to the database file")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level. [debug, info, warn, error]")
	fs.BoolVar(&c.LiveFeed, "live-feed", c.LiveFeed, "Serve the websocket live feed")
	fs.BoolVar(&c.Announce, "mdns", c.Announce, "Announce the API over mDNS")
	fs.StringVar(&c.Redis.Addr, "redis", c.Redis.Addr, "Address of the Redis server caching latest samples, empty disables it")
	fs.IntVar(&c.Redis.DB, "redis-db", c.Redis.DB, "Redis database")
	fs.StringVar(&c.Redis.Prefix, "redis-prefix", cache.DefaultPrefix, "Prefix of the Redis keys")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		fs.Usage()
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		key   string
		value *string
	}{
		{EnvAddr, &c.Addr},
		{EnvDBPath, &c.DBPath},
		{EnvLogLevel, &c.LogLevel},
		{EnvRedisAddr, &c.Redis.Addr},
		{EnvRedisPassword, &c.Redis.Password},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.value = v
		}
	}
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db path is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := c.Port(); err != nil {
		return err
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis database: %d", c.Redis.DB)
	}
	return nil
}

// Port returns the port of the listen address
func (c *Config) Port() (int, error) {
	_, p, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return 0, fmt.Errorf("invalid listen address %q: %w", c.Addr, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 0 || port > 65535 {
		return 0, fmt.Errorf("invalid listen port %q", p)
	}
	return port, nil
}
