package storage

import (
	"database/sql"
	"time"
)

type positionData struct {
	ID           int64
	FlightID     int64
	Timestamp    time.Time
	Latitude     float64
	Longitude    float64
	Altitude     float64
	GroundSpeed  sql.NullFloat64
	GroundCourse sql.NullFloat64
}

type readingData struct {
	ID              int64
	PositionID      int64
	Timestamp       time.Time
	Temperature     float64
	Humidity        float64
	AirQualityIndex float64
	IsAnomaly       bool
	RuleVersion     int
}

// nullableReadingData is a reading scanned from the outer side of a LEFT JOIN
type nullableReadingData struct {
	ID              sql.NullInt64
	Timestamp       sql.NullTime
	Temperature     sql.NullFloat64
	Humidity        sql.NullFloat64
	AirQualityIndex sql.NullFloat64
	IsAnomaly       sql.NullBool
	RuleVersion     sql.NullInt64
}
