// Package sensor synthesizes environmental readings for the simulated
// drone. Every reading is a smooth base function of time and position plus
// bounded uniform noise drawn from an explicitly provided generator.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/geo"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

const (
	// Base temperature model, °C
	meanTemperature    = 22.0
	diurnalAmplitude   = 7.0
	spatialTemperature = 1.5
	warmestHour        = 15.0

	// Base humidity model, %
	meanHumidity        = 60.0
	humidityPerDegree   = -1.5
	humidityDrift       = 10.0
	humidityDriftPeriod = time.Hour

	// Base air quality model
	meanAirQuality        = 50.0
	airQualityDrift       = 30.0
	airQualityDriftPeriod = 30 * time.Minute
	spatialAirQuality     = 15.0

	// Spatial wavelength of the temperature and air quality fields, degrees
	spatialWavelength = 0.01
)

var ErrInvalidNoise = errors.New("invalid sensor noise level")

// NoiseLevels holds the per-channel noise amplitude. Each channel receives a
// uniform perturbation within [-amplitude, +amplitude].
type NoiseLevels struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	Humidity    float64 `yaml:"humidity" json:"humidity"`
	AirQuality  float64 `yaml:"air_quality" json:"air_quality"`
	Altitude    float64 `yaml:"altitude" json:"altitude"`
}

// DefaultNoiseLevels returns the amplitudes used when none are configured
func DefaultNoiseLevels() NoiseLevels {
	return NoiseLevels{
		Temperature: 0.5,
		Humidity:    2.0,
		AirQuality:  5.0,
		Altitude:    0.5,
	}
}

// Validate rejects negative or non-finite amplitudes
func (n *NoiseLevels) Validate() error {
	for name, v := range map[string]float64{
		"temperature": n.Temperature,
		"humidity":    n.Humidity,
		"air_quality": n.AirQuality,
		"altitude":    n.Altitude,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: %v", ErrInvalidNoise, name, v)
		}
	}
	return nil
}

// Reading is one synthesized environmental measurement
type Reading struct {
	Timestamp       time.Time
	Temperature     float64 // °C
	Humidity        float64 // %, within [0, 100]
	AirQualityIndex float64 // >= 0
	Altitude        float64 // Meters
	IsAnomaly       bool
}

// Conditions is the input of the reading model: where and when the drone is
type Conditions struct {
	Timestamp time.Time
	Elapsed   time.Duration // Simulated time since the start of the flight
	Position  geo.Point
	Altitude  float64
}

// Base returns the noise-free reading for the given conditions. The result
// stays within 13.5-30.5 °C, 0-100 % humidity and 5-95 AQI, so a base
// reading alone never crosses the anomaly thresholds.
func Base(c Conditions) Reading {
	hour := float64(c.Timestamp.UTC().Hour()) +
		float64(c.Timestamp.UTC().Minute())/60 +
		float64(c.Timestamp.UTC().Second())/3600

	diurnal := math.Cos(2 * math.Pi * (hour - warmestHour) / 24)
	spatial := math.Sin(2*math.Pi*c.Position.Latitude/spatialWavelength) *
		math.Cos(2*math.Pi*c.Position.Longitude/spatialWavelength)

	temperature := meanTemperature + diurnalAmplitude*diurnal + spatialTemperature*spatial

	humidity := meanHumidity +
		humidityPerDegree*(temperature-meanTemperature) +
		humidityDrift*math.Sin(2*math.Pi*c.Elapsed.Seconds()/humidityDriftPeriod.Seconds())

	aqi := meanAirQuality +
		airQualityDrift*math.Sin(2*math.Pi*c.Elapsed.Seconds()/airQualityDriftPeriod.Seconds()) +
		spatialAirQuality*spatial

	r := Reading{
		Timestamp:       c.Timestamp,
		Temperature:     temperature,
		Humidity:        clampRange(humidity, 0, 100),
		AirQualityIndex: math.Max(aqi, 0),
		Altitude:        c.Altitude,
	}
	r.IsAnomaly = telemetry.IsAnomaly(r.Temperature, r.AirQualityIndex)

	return r
}

// WithAnomalyProbability makes the generator inject a temperature or air
// quality spike into a reading with probability p.
func WithAnomalyProbability(p float64) func(*Generator) {
	return func(g *Generator) {
		g.anomalyProbability = p
	}
}

// Generator adds noise and injected anomalies to base readings. It is not
// safe for concurrent use; the underlying random source is owned by the
// generator for the lifetime of a flight.
type Generator struct {
	rand               *rand.Rand
	noise              NoiseLevels
	anomalyProbability float64
}

// NewGenerator creates a generator drawing from r
func NewGenerator(r *rand.Rand, noise NoiseLevels, options ...func(*Generator)) *Generator {
	g := Generator{
		rand:  r,
		noise: noise,
	}

	for _, option := range options {
		option(&g)
	}

	return &g
}

// Generate returns a reading for the given conditions. The generator draws
// the same number of random values on every call so that output for a seed
// does not depend on which channels are noisy.
func (g *Generator) Generate(c Conditions) Reading {
	r := Base(c)

	r.Temperature += g.perturb(g.noise.Temperature)
	r.Humidity = clampRange(r.Humidity+g.perturb(g.noise.Humidity), 0, 100)
	r.AirQualityIndex = math.Max(r.AirQualityIndex+g.perturb(g.noise.AirQuality), 0)
	r.Altitude += g.perturb(g.noise.Altitude)

	inject, channel, magnitude := g.rand.Float64(), g.rand.Float64(), g.rand.Float64()
	if inject < g.anomalyProbability {
		if channel < 0.5 {
			r.Temperature += 8 + magnitude*7 // +8..15 °C
		} else {
			r.AirQualityIndex += 100 + magnitude*100 // +100..200 AQI
		}
	}

	r.IsAnomaly = telemetry.IsAnomaly(r.Temperature, r.AirQualityIndex)

	return r
}

func (g *Generator) perturb(amplitude float64) float64 {
	u := g.rand.Float64()*2 - 1
	if amplitude == 0 {
		return 0
	}
	return u * amplitude
}

func clampRange(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
