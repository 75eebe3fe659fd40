// Package physics advances the kinematic state of a simulated drone toward
// a target waypoint over a fixed time step. Acceleration, braking and turn
// rate are limited, and an inertia factor damps every change so that speed
// and heading never jump discontinuously.
package physics

import (
	"errors"
	"fmt"
	"math"

	"github.com/roman-kulish/drone-monitoring/internal/geo"
)

// ErrInvalidParameter is returned when a per-call argument is out of range
var ErrInvalidParameter = errors.New("invalid parameter")

// Waypoint is a target position; Altitude is optional and the drone holds
// its current altitude when it is nil.
type Waypoint struct {
	Latitude  float64  `yaml:"lat" json:"lat"`
	Longitude float64  `yaml:"lon" json:"lon"`
	Altitude  *float64 `yaml:"alt,omitempty" json:"alt,omitempty"`
}

// Point returns the horizontal position of the waypoint
func (w Waypoint) Point() geo.Point {
	return geo.Point{Latitude: w.Latitude, Longitude: w.Longitude}
}

// State is the kinematic state of the drone at one instant
type State struct {
	Latitude      float64 `json:"latitude"`      // Degrees
	Longitude     float64 `json:"longitude"`     // Degrees
	Altitude      float64 `json:"altitude"`      // Meters
	Speed         float64 `json:"speed"`         // Horizontal ground speed in m/s
	Heading       float64 `json:"heading"`       // Degrees, 0 = north, 90 = east
	VerticalSpeed float64 `json:"verticalSpeed"` // Climb rate in m/s, negative when descending
	Acceleration  float64 `json:"acceleration"`  // Horizontal acceleration applied during the last step in m/s²
}

// Point returns the horizontal position of the state
func (s State) Point() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Limits describes the flight envelope of the drone model
type Limits struct {
	MaxSpeed        float64 `yaml:"maxSpeed" json:"maxSpeed"`               // m/s
	CruiseSpeed     float64 `yaml:"cruiseSpeed" json:"cruiseSpeed"`         // m/s, zero means MaxSpeed
	MaxAcceleration float64 `yaml:"maxAcceleration" json:"maxAcceleration"` // m/s²
	MaxDeceleration float64 `yaml:"maxDeceleration" json:"maxDeceleration"` // m/s²
	MaxTurnRate     float64 `yaml:"maxTurnRate" json:"maxTurnRate"`         // degrees per second
	InertiaFactor   float64 `yaml:"inertiaFactor" json:"inertiaFactor"`     // 0-1, higher resists change more
	MaxClimbRate    float64 `yaml:"maxClimbRate" json:"maxClimbRate"`       // m/s
}

// DefaultLimits returns the envelope of the reference quadcopter
func DefaultLimits() Limits {
	return Limits{
		MaxSpeed:        10.0,
		CruiseSpeed:     10.0,
		MaxAcceleration: 2.0,
		MaxDeceleration: 3.0,
		MaxTurnRate:     45.0,
		InertiaFactor:   0.8,
		MaxClimbRate:    3.0,
	}
}

// Validate checks the limits and returns ErrInvalidParameter when the
// envelope cannot be flown.
func (l *Limits) Validate() error {
	switch {
	case !positive(l.MaxSpeed):
		return fmt.Errorf("%w: max speed must be positive: %v", ErrInvalidParameter, l.MaxSpeed)
	case l.CruiseSpeed < 0 || l.CruiseSpeed > l.MaxSpeed:
		return fmt.Errorf("%w: cruise speed must be within [0, %v]: %v", ErrInvalidParameter, l.MaxSpeed, l.CruiseSpeed)
	case !positive(l.MaxAcceleration):
		return fmt.Errorf("%w: max acceleration must be positive: %v", ErrInvalidParameter, l.MaxAcceleration)
	case !positive(l.MaxDeceleration):
		return fmt.Errorf("%w: max deceleration must be positive: %v", ErrInvalidParameter, l.MaxDeceleration)
	case !positive(l.MaxTurnRate):
		return fmt.Errorf("%w: max turn rate must be positive: %v", ErrInvalidParameter, l.MaxTurnRate)
	case l.InertiaFactor < 0 || l.InertiaFactor >= 1:
		return fmt.Errorf("%w: inertia factor must be within [0, 1): %v", ErrInvalidParameter, l.InertiaFactor)
	case l.MaxClimbRate < 0:
		return fmt.Errorf("%w: max climb rate must not be negative: %v", ErrInvalidParameter, l.MaxClimbRate)
	}

	return nil
}

func (l *Limits) cruiseSpeed() float64 {
	if l.CruiseSpeed == 0 {
		return l.MaxSpeed
	}
	return l.CruiseSpeed
}

// Advance returns the state reached after dt seconds of flight toward the
// target. The input state is not modified.
//
// The returned state satisfies:
//   - 0 <= Speed <= limits.MaxSpeed
//   - |heading change| <= limits.MaxTurnRate * dt
//   - horizontal displacement <= limits.MaxSpeed * dt
func Advance(state State, target Waypoint, dt float64, limits Limits) (State, error) {
	if !positive(dt) || math.IsInf(dt, 0) {
		return state, fmt.Errorf("%w: time step must be positive: %v", ErrInvalidParameter, dt)
	}
	if err := limits.Validate(); err != nil {
		return state, err
	}

	next := state
	damping := 1.0 - limits.InertiaFactor

	distance := geo.Distance(state.Point(), target.Point())

	// Heading. Zero distance has no defined bearing, keep the current one.
	alignment := 1.0
	if distance > 0 {
		desired := geo.Bearing(state.Point(), target.Point())
		turn := geo.HeadingDelta(state.Heading, desired) * damping
		next.Heading = geo.NormalizeHeading(state.Heading + clamp(turn, limits.MaxTurnRate*dt))
		alignment = math.Cos(geo.DegToRad(geo.HeadingDelta(next.Heading, desired)))
	}

	// Speed. Brake inside the stopping distance, slow down while pointing
	// away from the target and never plan to cover more than the remaining
	// distance in one step.
	targetSpeed := limits.cruiseSpeed()
	if braking := state.Speed * state.Speed / (2 * limits.MaxDeceleration); braking > 0 && distance < braking {
		targetSpeed = state.Speed * (distance / braking)
	}
	targetSpeed = math.Min(targetSpeed, distance/dt) * math.Max(alignment, 0)

	diff := (targetSpeed - state.Speed) * damping
	if diff >= 0 {
		diff = math.Min(diff, limits.MaxAcceleration*dt)
	} else {
		diff = math.Max(diff, -limits.MaxDeceleration*dt)
	}

	next.Speed = math.Max(0, math.Min(state.Speed+diff, limits.MaxSpeed))
	next.Acceleration = (next.Speed - state.Speed) / dt

	// Position
	if step := math.Min(next.Speed*dt, distance); step > 0 {
		p := geo.Destination(state.Point(), next.Heading, step)
		next.Latitude, next.Longitude = p.Latitude, p.Longitude
	}

	// Altitude
	next.VerticalSpeed = 0
	if target.Altitude != nil && limits.MaxClimbRate > 0 {
		climb := clamp(*target.Altitude-state.Altitude, limits.MaxClimbRate*dt)
		next.Altitude = state.Altitude + climb
		next.VerticalSpeed = climb / dt
	}

	return next, nil
}

// clamp limits v to [-limit, limit]
func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(v, limit))
}

func positive(v float64) bool {
	return v > 0 && !math.IsNaN(v)
}
