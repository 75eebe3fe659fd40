package survey

import (
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

// Flight is a single survey flight. EndTime stays nil while the flight is
// still logging data.
type Flight struct {
	ID        int64      `json:"id"`         // Unique identifier for the flight
	StartTime time.Time  `json:"start_time"` // When the flight was started
	EndTime   *time.Time `json:"end_time"`   // When the flight was ended, nil while in progress
}

// Reading is a stored environmental measurement taken at a position
type Reading struct {
	ID              int64     `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	Temperature     float64   `json:"temperature"`          // °C
	Humidity        float64   `json:"humidity"`             // %
	AirQualityIndex float64   `json:"air_quality_index"`    // Air quality index
	IsAnomaly       bool      `json:"is_anomaly"`           // Result of the anomaly rule
	RuleVersion     int       `json:"anomaly_rule_version"` // Version of the anomaly rule that set IsAnomaly
}

// Position is a stored drone position with the readings taken there
type Position struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Altitude       float64   `json:"altitude"`
	GroundSpeed    *float64  `json:"ground_speed,omitempty"`  // m/s
	GroundCourse   *float64  `json:"ground_course,omitempty"` // Degrees
	SensorReadings []Reading `json:"sensor_readings"`
}

// FlightData is a flight with every position and reading logged during it,
// ordered by time.
type FlightData struct {
	Flight
	Positions []Position `json:"positions"`
}

// Coordinates of a reading
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// LatestReading is a reading together with where, and during which flight,
// it was taken.
type LatestReading struct {
	Reading
	FlightID int64       `json:"flight_id"`
	Position Coordinates `json:"position"`
}

// LogEntry identifies the rows created when a record is logged
type LogEntry struct {
	PositionID int64 `json:"position_id"`
	ReadingID  int64 `json:"reading_id"`
	IsAnomaly  bool  `json:"is_anomaly"`
}

// Sample is a logged record read back from storage
type Sample struct {
	FlightID   int64 `json:"flight_id"`
	PositionID int64 `json:"position_id"`
	ReadingID  int64 `json:"reading_id"`
	telemetry.Record
}
