package telemetry

import (
	"context"
	"time"
)

// Sink receives every record produced by a flight. Deliver is called
// synchronously, once per tick, and the flight does not proceed until it
// returns. A Sink owns its retry and buffering policy.
type Sink interface {
	Deliver(ctx context.Context, r *Record) error
}

// SinkFunc adapts an ordinary function to the Sink interface
type SinkFunc func(ctx context.Context, r *Record) error

func (f SinkFunc) Deliver(ctx context.Context, r *Record) error {
	return f(ctx, r)
}

// Record is the position and environmental reading of the drone at one tick
type Record struct {
	Timestamp       time.Time `json:"timestamp"`                  // Timestamp of the measurement
	Latitude        float64   `json:"latitude"`                   // GPS latitude in degrees
	Longitude       float64   `json:"longitude"`                  // GPS longitude in degrees
	Altitude        float64   `json:"altitude"`                   // Altitude in meters
	Temperature     float64   `json:"temperature"`                // Air temperature in °C
	Humidity        float64   `json:"humidity"`                   // Relative humidity in %
	AirQualityIndex float64   `json:"air_quality_index"`          // Air quality index
	IsAnomaly       bool      `json:"is_anomaly"`                 // Set by the anomaly rule
	GroundSpeed     *float64  `json:"ground_speed,omitempty"`     // Ground speed in m/s
	GroundCourse    *float64  `json:"ground_course,omitempty"`    // Ground course (heading) in degrees
	RuleVersion     int       `json:"anomaly_rule_version"`       // Version of the rule that set IsAnomaly
}

// Classify evaluates the anomaly rule on the record's final values and
// stamps the rule version.
func (r *Record) Classify() {
	r.IsAnomaly = IsAnomaly(r.Temperature, r.AirQualityIndex)
	r.RuleVersion = AnomalyRuleVersion
}
