package app

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/drone-monitoring/internal/logging"
	"github.com/roman-kulish/drone-monitoring/internal/physics"
	"github.com/roman-kulish/drone-monitoring/internal/sensor"
	"github.com/roman-kulish/drone-monitoring/internal/sim"
)

const (
	SinkAPI    SinkType = "api"
	SinkSqlite SinkType = "sqlite"
	SinkStdout SinkType = "stdout"

	DefaultAPIURL = "http://localhost:5000"
	DefaultDBPath = "drone_monitoring.db"

	// Environment overrides, also read from a .env file
	EnvAPIURL   = "DRONE_API_URL"
	EnvDBPath   = "DRONE_DB_PATH"
	EnvLogLevel = "DRONE_LOG_LEVEL"
)

var validSinks = map[SinkType]struct{}{
	SinkAPI:    {},
	SinkSqlite: {},
	SinkStdout: {},
}

// defaultRoute is a loop around a park in central London
var defaultRoute = []physics.Waypoint{
	{Latitude: 51.507351, Longitude: -0.127758},
	{Latitude: 51.507951, Longitude: -0.127158},
	{Latitude: 51.508351, Longitude: -0.126758},
	{Latitude: 51.508751, Longitude: -0.127358},
	{Latitude: 51.508351, Longitude: -0.127958},
	{Latitude: 51.507751, Longitude: -0.128358},
	{Latitude: 51.507351, Longitude: -0.127758},
}

const defaultRouteAltitude = 100.0

type SinkType string

// TimeDuration is a time.Duration written as "1s", "10m" or "2h" in
// configuration files
type TimeDuration time.Duration

func (d *TimeDuration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.TimeDuration: failed to parse: %s", err)
	}

	*d = TimeDuration(duration)
	return nil
}

func (d TimeDuration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *TimeDuration) Validate() error {
	if time.Duration(*d) < 0 {
		return fmt.Errorf("app.TimeDuration: must not be negative: %s", time.Duration(*d))
	}
	return nil
}

// Config represents the simulator configuration
type Config struct {
	LogLevel   string           `yaml:"logLevel"`
	Sink       SinkType         `yaml:"sink"`
	Realtime   bool             `yaml:"realtime"` // Deliver one record per tick interval of wall time
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Simulation SimulationConfig `yaml:"simulation"`

	Waypoints     []physics.Waypoint `yaml:"waypoints"`
	WaypointsFile string             `yaml:"waypointsFile"` // YAML or JSON list of waypoints, used when Waypoints is empty
}

// APIConfig represents the settings of the api sink
type APIConfig struct {
	URL      string       `yaml:"url"`
	Discover bool         `yaml:"discover"` // Look the API up over mDNS instead of using URL
	Retries  int          `yaml:"retries"`
	Timeout  TimeDuration `yaml:"timeout"`
}

// StorageConfig represents the settings of the sqlite sink
type StorageConfig struct {
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batchSize"` // Records stored per transaction, 0 or 1 stores every record on delivery
}

// SimulationConfig mirrors sim.Config in configuration file terms
type SimulationConfig struct {
	Speed              float64             `yaml:"speed"`
	TickInterval       TimeDuration        `yaml:"tickInterval"`
	ArrivalRadius      float64             `yaml:"arrivalRadius"`
	AnomalyProbability float64             `yaml:"anomalyProbability"`
	MaxTicks           int                 `yaml:"maxTicks"`
	MissionDuration    TimeDuration        `yaml:"missionDuration"`
	Seed               *uint64             `yaml:"seed"`
	StartTime          *time.Time          `yaml:"startTime"`
	Noise              *sensor.NoiseLevels `yaml:"noise"`
	Limits             *physics.Limits     `yaml:"limits"`
}

// NewConfig returns a configuration with defaults applied
func NewConfig() *Config {
	return &Config{
		LogLevel: "info",
		Sink:     SinkStdout,
		API: APIConfig{
			URL:     DefaultAPIURL,
			Retries: 3,
			Timeout: TimeDuration(10 * time.Second),
		},
		Storage: StorageConfig{
			Path: DefaultDBPath,
		},
	}
}

// LoadConfig reads a YAML configuration file on top of the defaults. An empty
// path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening configuration file: %w", err)
	}
	defer f.Close()

	if err = yaml.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("decoding configuration file: %w", err)
	}

	// Relative waypoint files are resolved against the configuration file
	if c.WaypointsFile != "" && !filepath.IsAbs(c.WaypointsFile) {
		c.WaypointsFile = filepath.Join(filepath.Dir(path), c.WaypointsFile)
	}

	return c, nil
}

// ApplyEnv overrides the configuration with the environment
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.API.URL = v
	}
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("app.Config: %w", err)
	}
	if _, ok := validSinks[c.Sink]; !ok {
		return fmt.Errorf("app.Config: invalid sink: %s", c.Sink)
	}

	switch c.Sink {
	case SinkAPI:
		if c.API.URL == "" && !c.API.Discover {
			return errors.New("app.Config: api url is required")
		}
		if c.API.Retries < 0 {
			return fmt.Errorf("app.Config: retries must not be negative: %d", c.API.Retries)
		}
		if err := c.API.Timeout.Validate(); err != nil {
			return fmt.Errorf("app.Config: invalid api timeout: %w", err)
		}
	case SinkSqlite:
		if c.Storage.Path == "" {
			return errors.New("app.Config: storage path is required")
		}
		if c.Storage.BatchSize < 0 {
			return fmt.Errorf("app.Config: batch size must not be negative: %d", c.Storage.BatchSize)
		}
	}

	if err := c.Simulation.TickInterval.Validate(); err != nil {
		return fmt.Errorf("app.Config: invalid tick interval: %w", err)
	}
	if err := c.Simulation.MissionDuration.Validate(); err != nil {
		return fmt.Errorf("app.Config: invalid mission duration: %w", err)
	}

	return nil
}

// SimConfig converts the simulation settings. Validation of the values is
// left to the simulator.
func (c *Config) SimConfig() sim.Config {
	s := &c.Simulation

	cfg := sim.Config{
		SimulationSpeed:    s.Speed,
		TickInterval:       time.Duration(s.TickInterval),
		ArrivalRadius:      s.ArrivalRadius,
		NoiseLevels:        sensor.DefaultNoiseLevels(),
		AnomalyProbability: s.AnomalyProbability,
		MaxTicks:           s.MaxTicks,
		MissionDuration:    time.Duration(s.MissionDuration),
		Seed:               s.Seed,
		Limits:             s.Limits,
	}
	if s.Noise != nil {
		cfg.NoiseLevels = *s.Noise
	}
	if s.StartTime != nil {
		cfg.StartTime = s.StartTime.UTC()
	}
	return cfg
}

// Route returns the waypoints to fly: inline waypoints, then the waypoints
// file, then the default route.
func (c *Config) Route() ([]physics.Waypoint, error) {
	if len(c.Waypoints) > 0 {
		return c.Waypoints, nil
	}
	if c.WaypointsFile != "" {
		return LoadWaypoints(c.WaypointsFile)
	}

	route := make([]physics.Waypoint, len(defaultRoute))
	for i, wp := range defaultRoute {
		alt := defaultRouteAltitude
		wp.Altitude = &alt
		route[i] = wp
	}
	return route, nil
}

// LoadWaypoints reads a list of waypoints from a JSON (.json) or YAML file
func LoadWaypoints(path string) ([]physics.Waypoint, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading waypoints file: %w", err)
	}

	var waypoints []physics.Waypoint
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(b, &waypoints)
	} else {
		err = yaml.Unmarshal(b, &waypoints)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding waypoints file %s: %w", path, err)
	}
	if len(waypoints) == 0 {
		return nil, fmt.Errorf("no waypoints in %s", path)
	}

	return waypoints, nil
}

// NewConfigFromCLI loads the configuration named by the -c flag, applies the
// environment and then the remaining flags, which take precedence.
func NewConfigFromCLI(args []string) (*Config, error) {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)

	var configPath, sink, seed, waypointsFile, apiURL, dbPath string
	var realtime, discover bool
	fs.StringVar(&configPath, "c", "", "Path to the configuration file")
	fs.StringVar(&sink, "sink", "", "Where records are delivered. [api, sqlite, stdout]")
	fs.StringVar(&seed, "seed", "", "Random seed, for reproducible flights")
	fs.StringVar(&waypointsFile, "waypoints", "", "Path to a YAML or JSON waypoints file")
	fs.StringVar(&apiURL, "api-url", "", "Base URL of the API, for the api sink")
	fs.BoolVar(&discover, "discover", false, "Find the API over mDNS, for the api sink")
	fs.StringVar(&dbPath, "db", "", "Path to the database file, for the sqlite sink")
	fs.BoolVar(&realtime, "realtime", false, "Deliver one record per tick interval of wall time")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	c, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.LookupEnv)

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sink":
			c.Sink = SinkType(strings.ToLower(sink))
		case "seed":
			c.Simulation.Seed, err = parseSeed(seed)
		case "waypoints":
			c.Waypoints, c.WaypointsFile = nil, waypointsFile
		case "api-url":
			c.API.URL = apiURL
		case "discover":
			c.API.Discover = discover
		case "db":
			c.Storage.Path = dbPath
		case "realtime":
			c.Realtime = realtime
		}
	})
	if err != nil {
		return nil, err
	}

	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// parseSeed parses a -seed flag value
func parseSeed(s string) (*uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", s, err)
	}
	return &v, nil
}
