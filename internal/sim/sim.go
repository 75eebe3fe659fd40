// Package sim flies a simulated drone along an ordered list of waypoints.
//
// A Flight is a lazy, finite iterator: every call to Next advances the
// kinematic state by one tick, synthesizes a sensor reading for the new
// position and hands the resulting record to the configured sink before
// returning. Nothing runs in the background and the flight cannot be
// restarted once it has completed or failed.
package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/geo"
	"github.com/roman-kulish/drone-monitoring/internal/physics"
	"github.com/roman-kulish/drone-monitoring/internal/sensor"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

var (
	// ErrSinkDelivery wraps the error returned by a sink
	ErrSinkDelivery = errors.New("sink delivery failed")

	// ErrCeilingReached is returned when a flight runs out of ticks or
	// mission time before reaching the last waypoint
	ErrCeilingReached = errors.New("flight ceiling reached")
)

// Phase of a flight
type Phase int

const (
	EnRoute Phase = iota
	Complete
)

// Progress is the position of a flight in its waypoint state machine
type Progress struct {
	Phase    Phase
	Waypoint int // Index of the waypoint being flown to, len(waypoints) once complete
}

func (p Progress) String() string {
	if p.Phase == Complete {
		return "Complete"
	}
	return fmt.Sprintf("EnRoute(%d)", p.Waypoint)
}

// Step is everything produced by a single tick
type Step struct {
	Tick     int           // 1-based tick number
	Waypoint int           // Index of the waypoint targeted during the tick
	Elapsed  time.Duration // Simulated time since the start of the flight
	Distance float64       // Cumulative horizontal distance flown in meters
	State    physics.State
	Reading  sensor.Reading
	Record   telemetry.Record
}

// Option configures a Flight
type Option func(f *Flight)

// WithLogger sets the logger for the flight
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flight) {
		f.logger = logger
	}
}

// WithSink sets the sink that receives the record of every tick. A nil sink
// is ignored.
func WithSink(sink telemetry.Sink) Option {
	return func(f *Flight) {
		if sink != nil {
			f.sink = sink
		}
	}
}

// Flight is a single pass over a waypoint list. It is not safe for
// concurrent use.
type Flight struct {
	waypoints []physics.Waypoint
	cfg       Config
	seed      uint64
	startTime time.Time
	step      time.Duration
	dt        float64 // step in seconds
	maxTicks  int

	generator *sensor.Generator
	sink      telemetry.Sink
	logger    *slog.Logger

	state     physics.State
	progress  Progress
	tick      int
	distance  float64
	anomalies int
	current   Step
	err       error
}

// New validates the waypoints and configuration and returns a flight
// positioned before its first tick. Waypoints already within the arrival
// radius of the start position are passed immediately, so a flight may be
// complete before it emits anything.
func New(waypoints []physics.Waypoint, cfg Config, options ...Option) (*Flight, error) {
	cfg = cfg.withDefaults()

	if err := validateWaypoints(waypoints); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := Flight{
		waypoints: append([]physics.Waypoint(nil), waypoints...),
		cfg:       cfg,
		step:      cfg.step(),
		startTime: cfg.StartTime,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	f.dt = f.step.Seconds()

	if f.startTime.IsZero() {
		f.startTime = time.Now().UTC()
	}

	if cfg.Seed != nil {
		f.seed = *cfg.Seed
	} else {
		f.seed = rand.Uint64()
	}

	f.generator = sensor.NewGenerator(
		rand.New(rand.NewPCG(f.seed, f.seed)),
		cfg.NoiseLevels,
		sensor.WithAnomalyProbability(cfg.AnomalyProbability),
	)

	if cfg.Start != nil {
		f.state = *cfg.Start
	} else {
		first := waypoints[0]
		f.state = physics.State{Latitude: first.Latitude, Longitude: first.Longitude}
		if first.Altitude != nil {
			f.state.Altitude = *first.Altitude
		}
	}

	for _, option := range options {
		option(&f)
	}

	f.maxTicks = cfg.MaxTicks
	if f.maxTicks == 0 {
		f.maxTicks = f.tickCeiling()
	}

	f.logger.Debug("flight created",
		slog.Int("waypoints", len(f.waypoints)),
		slog.Uint64("seed", f.seed),
		slog.Duration("step", f.step),
		slog.Int("maxTicks", f.maxTicks),
	)

	f.arrive()

	return &f, nil
}

// Next advances the flight by one tick. It returns false when the flight is
// complete, a ceiling was reached, the context was cancelled or the sink
// failed; Err tells these apart. The context is checked once per tick and a
// tick that has started always runs to completion.
func (f *Flight) Next(ctx context.Context) bool {
	if f.err != nil || f.progress.Phase == Complete {
		return false
	}

	if err := ctx.Err(); err != nil {
		f.err = err
		return false
	}

	if f.tick >= f.maxTicks {
		f.err = fmt.Errorf("%w: %d ticks flown, %s", ErrCeilingReached, f.tick, f.progress)
		return false
	}

	elapsed := time.Duration(f.tick+1) * f.step
	if f.cfg.MissionDuration > 0 && elapsed > f.cfg.MissionDuration {
		f.err = fmt.Errorf("%w: mission duration %v exceeded, %s", ErrCeilingReached, f.cfg.MissionDuration, f.progress)
		return false
	}

	next, err := physics.Advance(f.state, f.waypoints[f.progress.Waypoint], f.dt, *f.cfg.Limits)
	if err != nil {
		f.err = fmt.Errorf("advancing flight state: %w", err)
		return false
	}

	f.distance += geo.Distance(f.state.Point(), next.Point())
	f.state = next
	f.tick++

	reading := f.generator.Generate(sensor.Conditions{
		Timestamp: f.startTime.Add(elapsed),
		Elapsed:   elapsed,
		Position:  next.Point(),
		Altitude:  next.Altitude,
	})
	if reading.IsAnomaly {
		f.anomalies++
	}

	f.current = Step{
		Tick:     f.tick,
		Waypoint: f.progress.Waypoint,
		Elapsed:  elapsed,
		Distance: f.distance,
		State:    next,
		Reading:  reading,
		Record:   newRecord(next, reading),
	}

	if f.sink != nil {
		record := f.current.Record
		if err := f.sink.Deliver(ctx, &record); err != nil {
			f.err = fmt.Errorf("%w: tick %d: %w", ErrSinkDelivery, f.tick, err)
			return false
		}
	}

	f.arrive()

	return true
}

// Current returns the step produced by the last successful call to Next
func (f *Flight) Current() Step {
	return f.current
}

// Err returns the error that stopped the flight, nil when it completed
func (f *Flight) Err() error {
	return f.err
}

// Progress returns the current position in the waypoint state machine
func (f *Flight) Progress() Progress {
	return f.progress
}

// State returns the current kinematic state of the drone
func (f *Flight) State() physics.State {
	return f.state
}

// Seed returns the seed of the flight's random source, useful for replaying
// a flight that was started without one.
func (f *Flight) Seed() uint64 {
	return f.seed
}

// All returns an iterator over the remaining steps. A terminal error is
// yielded once, with a zero Step, after the last successful step.
func (f *Flight) All(ctx context.Context) iter.Seq2[Step, error] {
	return func(yield func(Step, error) bool) {
		for f.Next(ctx) {
			if !yield(f.Current(), nil) {
				return
			}
		}

		if err := f.Err(); err != nil {
			yield(Step{}, err)
		}
	}
}

// Summary describes a finished flight
type Summary struct {
	Seed             uint64
	Ticks            int
	Anomalies        int
	Distance         float64 // Meters
	Elapsed          time.Duration
	WaypointsReached int
	Completed        bool
}

// Summary returns the totals of the flight so far
func (f *Flight) Summary() Summary {
	return Summary{
		Seed:             f.seed,
		Ticks:            f.tick,
		Anomalies:        f.anomalies,
		Distance:         f.distance,
		Elapsed:          time.Duration(f.tick) * f.step,
		WaypointsReached: f.progress.Waypoint,
		Completed:        f.progress.Phase == Complete,
	}
}

// Run flies the waypoints to completion, delivering every record to sink.
// It returns the summary of whatever was flown together with the error that
// stopped the flight, if any.
func Run(ctx context.Context, waypoints []physics.Waypoint, cfg Config, sink telemetry.Sink, options ...Option) (Summary, error) {
	f, err := New(waypoints, cfg, append(options, WithSink(sink))...)
	if err != nil {
		return Summary{}, err
	}

	for f.Next(ctx) {
	}

	summary := f.Summary()

	if err = f.Err(); err != nil {
		f.logger.Error("flight stopped", slog.String("progress", f.progress.String()), slog.Any("error", err))
		return summary, err
	}

	f.logger.Info("flight completed",
		slog.Int("ticks", summary.Ticks),
		slog.Int("anomalies", summary.Anomalies),
		slog.Float64("distance", summary.Distance),
		slog.Duration("elapsed", summary.Elapsed),
	)

	return summary, nil
}

// arrive passes every waypoint within the arrival radius of the drone
func (f *Flight) arrive() {
	for f.progress.Waypoint < len(f.waypoints) {
		target := f.waypoints[f.progress.Waypoint]
		if geo.Distance(f.state.Point(), target.Point()) >= f.cfg.ArrivalRadius {
			return
		}

		f.logger.Debug("waypoint reached", slog.Int("waypoint", f.progress.Waypoint), slog.Int("tick", f.tick))
		f.progress.Waypoint++
	}

	f.progress.Phase = Complete
}

// tickCeiling derives a tick budget that any flyable route fits into
func (f *Flight) tickCeiling() int {
	limits := f.cfg.Limits

	cruise := limits.CruiseSpeed
	if cruise == 0 {
		cruise = limits.MaxSpeed
	}

	// Speed and heading close their error by (1 - inertia) of it per tick,
	// so every manoeuvre takes 1/(1 - inertia) times longer than the limits
	// alone allow.
	inertia := 1 / (1 - limits.InertiaFactor)

	// Seconds spent accelerating, braking and turning around at one waypoint
	manoeuvre := cruise/limits.MaxAcceleration + cruise/limits.MaxDeceleration + 180/limits.MaxTurnRate

	var ticks float64
	from := f.state.Point()
	for _, w := range f.waypoints {
		leg := geo.Distance(from, w.Point())
		from = w.Point()

		// The final approach shrinks the remaining distance geometrically, at
		// about half the damping rate per tick.
		approach := 2 * inertia * math.Log1p(leg/f.cfg.ArrivalRadius)

		ticks += ceilingFactor*(leg/(cruise*f.dt)+inertia*manoeuvre/f.dt+approach) + ceilingSlack*inertia
	}

	return int(math.Min(math.Ceil(ticks), math.MaxInt32))
}

func newRecord(s physics.State, r sensor.Reading) telemetry.Record {
	speed, course := s.Speed, s.Heading

	record := telemetry.Record{
		Timestamp:       r.Timestamp,
		Latitude:        s.Latitude,
		Longitude:       s.Longitude,
		Altitude:        r.Altitude,
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		AirQualityIndex: r.AirQualityIndex,
		GroundSpeed:     &speed,
		GroundCourse:    &course,
	}
	record.Classify()

	return record
}
