package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

// rollbackWithError rolls back a transaction unless it was committed
func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// sqliteTime scans timestamps returned by aggregate functions. SQLite loses
// the declared column type for MIN() and MAX(), so the driver returns the
// stored text instead of a time.Time.
type sqliteTime struct {
	Time  time.Time
	Valid bool
}

func (t *sqliteTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil

	case time.Time:
		t.Time, t.Valid = v, true
		return nil

	case []byte:
		return t.parse(string(v))

	case string:
		return t.parse(v)
	}

	return fmt.Errorf("unsupported timestamp type %T", value)
}

func (t *sqliteTime) parse(s string) error {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time, t.Valid = ts, true
			return nil
		}
	}
	return fmt.Errorf("parsing timestamp %q", s)
}

func toPositionData(flightID int64, r *telemetry.Record) *positionData {
	return &positionData{
		FlightID:  flightID,
		Timestamp: r.Timestamp.UTC(),
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Altitude:  r.Altitude,
		GroundSpeed: sql.NullFloat64{
			Float64: toSQLNullType(r.GroundSpeed),
			Valid:   r.GroundSpeed != nil,
		},
		GroundCourse: sql.NullFloat64{
			Float64: toSQLNullType(r.GroundCourse),
			Valid:   r.GroundCourse != nil,
		},
	}
}

func toReadingData(positionID int64, r *telemetry.Record) *readingData {
	return &readingData{
		PositionID:      positionID,
		Timestamp:       r.Timestamp.UTC(),
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		AirQualityIndex: r.AirQualityIndex,
		IsAnomaly:       r.IsAnomaly,
		RuleVersion:     r.RuleVersion,
	}
}

func toSQLNullType(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func fromSQLNullType(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func (p *positionData) toPosition() survey.Position {
	return survey.Position{
		ID:             p.ID,
		Timestamp:      p.Timestamp,
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		Altitude:       p.Altitude,
		GroundSpeed:    fromSQLNullType(p.GroundSpeed),
		GroundCourse:   fromSQLNullType(p.GroundCourse),
		SensorReadings: []survey.Reading{},
	}
}

func (r *readingData) toReading() survey.Reading {
	return survey.Reading{
		ID:              r.ID,
		Timestamp:       r.Timestamp,
		Temperature:     r.Temperature,
		Humidity:        r.Humidity,
		AirQualityIndex: r.AirQualityIndex,
		IsAnomaly:       r.IsAnomaly,
		RuleVersion:     r.RuleVersion,
	}
}

// toReading returns false when the LEFT JOIN found no reading
func (r *nullableReadingData) toReading() (survey.Reading, bool) {
	if !r.ID.Valid {
		return survey.Reading{}, false
	}

	return survey.Reading{
		ID:              r.ID.Int64,
		Timestamp:       r.Timestamp.Time,
		Temperature:     r.Temperature.Float64,
		Humidity:        r.Humidity.Float64,
		AirQualityIndex: r.AirQualityIndex.Float64,
		IsAnomaly:       r.IsAnomaly.Bool,
		RuleVersion:     int(r.RuleVersion.Int64),
	}, true
}

func scanFlight(row interface{ Scan(...any) error }) (*survey.Flight, error) {
	var f survey.Flight
	var endTime sql.NullTime
	if err := row.Scan(&f.ID, &f.StartTime, &endTime); err != nil {
		return nil, err
	}
	if endTime.Valid {
		f.EndTime = &endTime.Time
	}
	return &f, nil
}
