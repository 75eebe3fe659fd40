package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
)

// SampleReader provides an iterator-based interface for reading the records
// of a flight with optional time and anomaly filtering.
type SampleReader interface {
	// Flight returns the flight this reader is accessing
	Flight() *survey.Flight

	// Next advances the iterator and returns true if there is another sample
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current sample in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *survey.Sample

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish between
	// end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	// After Close is called, the reader should not be used.
	Close() error
}

// ReaderOption configures a SampleReader with specific filtering criteria
type ReaderOption func(*SqliteSampleReader)

// WithStartTime excludes samples taken before t
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes samples taken after t
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
// This is a convenience function equivalent to applying both WithStartTime
// and WithEndTime.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}

// WithAnomaliesOnly excludes samples that are not flagged as anomalies
func WithAnomaliesOnly() ReaderOption {
	return func(r *SqliteSampleReader) {
		r.anomaliesOnly = true
	}
}

// SqliteSampleReader implements SampleReader for SQLite database backend
type SqliteSampleReader struct {
	db *sql.DB

	flightID int64
	flight   *survey.Flight

	startTime     *time.Time // Optional start of time range filter
	endTime       *time.Time // Optional end of time range filter
	anomaliesOnly bool

	current *survey.Sample
	rows    *sql.Rows
	err     error
}

var _ SampleReader = (*SqliteSampleReader)(nil)

// newSqliteSampleReader creates a new reader for the samples of a flight,
// applying optional filters.
func newSqliteSampleReader(ctx context.Context, db *sql.DB, flightID int64, opts ...ReaderOption) (*SqliteSampleReader, error) {
	sr := &SqliteSampleReader{
		db:       db,
		flightID: flightID,
	}
	for _, opt := range opts {
		opt(sr)
	}
	if err := sr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return sr, nil
}

func (sr *SqliteSampleReader) init(ctx context.Context) error {
	if sr.db == nil {
		return errors.New("database connection required")
	}
	if sr.flightID <= 0 {
		return fmt.Errorf("%w: flight %d", ErrNotFound, sr.flightID)
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading flight", fn: sr.loadFlight},
		{msg: "initializing filters", fn: sr.initFilters},
		{msg: "initializing query", fn: sr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (sr *SqliteSampleReader) loadFlight(ctx context.Context) (err error) {
	stmt, err := sr.db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	sr.flight, err = scanFlight(stmt.QueryRowContext(ctx, sr.flightID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: flight %d", ErrNotFound, sr.flightID)
	case err != nil:
		return fmt.Errorf("querying flight: %w", err)
	}
	return
}

// initFilters fills the time filters that were not set with the time span
// of the flight's positions
func (sr *SqliteSampleReader) initFilters(ctx context.Context) (err error) {
	if sr.startTime != nil && sr.endTime != nil {
		if sr.startTime.After(*sr.endTime) {
			return fmt.Errorf("start time %s is after end time %s", sr.startTime, sr.endTime)
		}
		return nil
	}

	stmt, err := sr.db.PrepareContext(ctx, selectFilterValuesSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var startTime, endTime sqliteTime
	if err = stmt.QueryRowContext(ctx, sr.flightID).Scan(&startTime, &endTime); err != nil {
		return fmt.Errorf("scanning filters data: %w", err)
	}

	// A flight without positions has no span, any range will do
	if !startTime.Valid || !endTime.Valid {
		startTime.Time, endTime.Time = sr.flight.StartTime, sr.flight.StartTime
	}

	if sr.startTime == nil {
		sr.startTime = &startTime.Time
	}
	if sr.endTime == nil {
		sr.endTime = &endTime.Time
	}

	if sr.startTime.After(*sr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", sr.startTime, sr.endTime)
	}
	return nil
}

func (sr *SqliteSampleReader) initQuery(ctx context.Context) (err error) {
	stmt, err := sr.db.PrepareContext(ctx, selectSamplesSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	sr.rows, err = stmt.QueryContext(ctx, sr.flightID, sr.startTime.UTC(), sr.endTime.UTC(), sr.anomaliesOnly)
	return
}

func (sr *SqliteSampleReader) scanSample() (*survey.Sample, error) {
	var pos positionData
	var reading readingData

	err := sr.rows.Scan(
		&pos.ID,
		&reading.ID,
		&reading.Timestamp,
		&pos.Latitude,
		&pos.Longitude,
		&pos.Altitude,
		&pos.GroundSpeed,
		&pos.GroundCourse,
		&reading.Temperature,
		&reading.Humidity,
		&reading.AirQualityIndex,
		&reading.IsAnomaly,
		&reading.RuleVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning sample: %w", err)
	}

	s := survey.Sample{
		FlightID:   sr.flightID,
		PositionID: pos.ID,
		ReadingID:  reading.ID,
	}
	s.Timestamp = reading.Timestamp
	s.Latitude = pos.Latitude
	s.Longitude = pos.Longitude
	s.Altitude = pos.Altitude
	s.GroundSpeed = fromSQLNullType(pos.GroundSpeed)
	s.GroundCourse = fromSQLNullType(pos.GroundCourse)
	s.Temperature = reading.Temperature
	s.Humidity = reading.Humidity
	s.AirQualityIndex = reading.AirQualityIndex
	s.IsAnomaly = reading.IsAnomaly
	s.RuleVersion = reading.RuleVersion

	return &s, nil
}

func (sr *SqliteSampleReader) Flight() *survey.Flight {
	return sr.flight
}

func (sr *SqliteSampleReader) Next(ctx context.Context) bool {
	if sr.err != nil || sr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		sr.err = ctx.Err()
		return false
	default:
	}

	if !sr.rows.Next() {
		sr.current = nil
		return false
	}

	sr.current, sr.err = sr.scanSample()
	return sr.err == nil
}

func (sr *SqliteSampleReader) Current() *survey.Sample {
	return sr.current
}

func (sr *SqliteSampleReader) Error() error {
	if sr.err != nil {
		return sr.err
	}
	if sr.rows != nil {
		return sr.rows.Err()
	}
	return nil
}

func (sr *SqliteSampleReader) Close() error {
	if sr.rows != nil {
		err := sr.rows.Close()
		sr.current = nil
		sr.rows = nil
		return err
	}
	return nil
}
