package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/physics"
	"github.com/roman-kulish/drone-monitoring/internal/sensor"
)

const (
	DefaultTickInterval    = time.Second
	DefaultSimulationSpeed = 1.0
	DefaultArrivalRadius   = 5.0 // Meters

	// Derived tick ceiling: the cruise time of every leg, the time needed to
	// accelerate, brake and turn around at its waypoint and its final approach
	// are multiplied by ceilingFactor, then ceilingSlack ticks are added per
	// leg. Everything but the cruise time is stretched by the inertia factor.
	ceilingFactor = 4
	ceilingSlack  = 100
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

// Config is read-only for the lifetime of a flight. Zero values are replaced
// with defaults by New.
type Config struct {
	SimulationSpeed    float64            // Time scaling multiplier applied to TickInterval
	TickInterval       time.Duration      // Wall time represented by one tick before scaling
	ArrivalRadius      float64            // Meters
	NoiseLevels        sensor.NoiseLevels // Per channel noise amplitude
	AnomalyProbability float64            // Probability of an injected spike per reading, 0-1
	MaxTicks           int                // Ceiling on emitted ticks, zero derives one from the route
	MissionDuration    time.Duration      // Ceiling on simulated flight time, zero disables it
	Seed               *uint64            // Random seed, nil seeds from a random source
	Start              *physics.State     // Initial state, nil starts at rest on the first waypoint
	StartTime          time.Time          // Timestamp of the start state, zero means now
	Limits             *physics.Limits    // Flight envelope, nil uses physics.DefaultLimits
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() Config {
	limits := physics.DefaultLimits()

	return Config{
		SimulationSpeed: DefaultSimulationSpeed,
		TickInterval:    DefaultTickInterval,
		ArrivalRadius:   DefaultArrivalRadius,
		NoiseLevels:     sensor.DefaultNoiseLevels(),
		Limits:          &limits,
	}
}

// withDefaults returns a copy of c with zero values replaced
func (c Config) withDefaults() Config {
	if c.SimulationSpeed == 0 {
		c.SimulationSpeed = DefaultSimulationSpeed
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.ArrivalRadius == 0 {
		c.ArrivalRadius = DefaultArrivalRadius
	}
	if c.Limits == nil {
		limits := physics.DefaultLimits()
		c.Limits = &limits
	}
	return c
}

// step returns the simulated duration of one tick
func (c *Config) step() time.Duration {
	return time.Duration(float64(c.TickInterval) * c.SimulationSpeed)
}

// Validate reports the first problem found in the configuration
func (c *Config) Validate() error {
	switch {
	case !(c.SimulationSpeed > 0) || math.IsInf(c.SimulationSpeed, 0):
		return fmt.Errorf("%w: simulation speed must be positive: %v", ErrInvalidConfiguration, c.SimulationSpeed)
	case c.TickInterval <= 0:
		return fmt.Errorf("%w: tick interval must be positive: %v", ErrInvalidConfiguration, c.TickInterval)
	case c.step() <= 0:
		return fmt.Errorf("%w: scaled tick interval is too short: %v x %v", ErrInvalidConfiguration, c.TickInterval, c.SimulationSpeed)
	case !(c.ArrivalRadius > 0) || math.IsInf(c.ArrivalRadius, 0):
		return fmt.Errorf("%w: arrival radius must be positive: %v", ErrInvalidConfiguration, c.ArrivalRadius)
	case !(c.AnomalyProbability >= 0 && c.AnomalyProbability <= 1):
		return fmt.Errorf("%w: anomaly probability must be within [0, 1]: %v", ErrInvalidConfiguration, c.AnomalyProbability)
	case c.MaxTicks < 0:
		return fmt.Errorf("%w: max ticks must not be negative: %d", ErrInvalidConfiguration, c.MaxTicks)
	case c.MissionDuration < 0:
		return fmt.Errorf("%w: mission duration must not be negative: %v", ErrInvalidConfiguration, c.MissionDuration)
	}

	if err := c.NoiseLevels.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if c.Limits != nil {
		if err := c.Limits.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
		}
	}

	if c.Start != nil && !c.Start.Point().Valid() {
		return fmt.Errorf("%w: start position out of range: %v, %v", ErrInvalidConfiguration, c.Start.Latitude, c.Start.Longitude)
	}

	return nil
}

func validateWaypoints(waypoints []physics.Waypoint) error {
	if len(waypoints) == 0 {
		return fmt.Errorf("%w: no waypoints", ErrInvalidConfiguration)
	}

	for i, w := range waypoints {
		if !w.Point().Valid() {
			return fmt.Errorf("%w: waypoint %d out of range: %v, %v", ErrInvalidConfiguration, i, w.Latitude, w.Longitude)
		}
		if w.Altitude != nil && (math.IsNaN(*w.Altitude) || math.IsInf(*w.Altitude, 0)) {
			return fmt.Errorf("%w: waypoint %d altitude is not finite", ErrInvalidConfiguration, i)
		}
	}

	return nil
}
