package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

// DefaultLatestReadings is the number of readings returned by LatestReadings
// when no positive limit is given
const DefaultLatestReadings = 10

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SqliteStore)(nil)

// NewSqliteStore returns a store backed by the SQLite database at dbPath.
// Connections are opened, and the schema initialized, on first use.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1) // SQLite allows a single writer

		if err = runSQLCommand(db, schemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The read-only connection cannot create the schema
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro&_busy_timeout=5000"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateFlight(ctx context.Context, startTime time.Time) (flight *survey.Flight, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	startTime = startTime.UTC()

	result, err := stmt.ExecContext(ctx, startTime)
	if err != nil {
		err = fmt.Errorf("inserting flight: %w", err)
		return
	}

	id, err := result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting flight ID: %w", err)
		return
	}

	return &survey.Flight{ID: id, StartTime: startTime}, nil
}

func (s *SqliteStore) EndFlight(ctx context.Context, flightID int64, endTime time.Time) (flight *survey.Flight, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, endFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, endTime.UTC(), flightID)
	if err != nil {
		err = fmt.Errorf("updating flight: %w", err)
		return
	}

	n, err := result.RowsAffected()
	if err != nil {
		err = fmt.Errorf("getting affected rows: %w", err)
		return
	}
	if n == 0 {
		err = fmt.Errorf("%w: flight %d", ErrNotFound, flightID)
		return
	}

	return s.Flight(ctx, flightID)
}

func (s *SqliteStore) Flight(ctx context.Context, flightID int64) (flight *survey.Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectFlightSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	flight, err = scanFlight(stmt.QueryRowContext(ctx, flightID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = fmt.Errorf("%w: flight %d", ErrNotFound, flightID)
	case err != nil:
		err = fmt.Errorf("scanning flight: %w", err)
	}
	return
}

func (s *SqliteStore) Flights(ctx context.Context) (flights []*survey.Flight, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectFlightsSQL)
	if err != nil {
		err = fmt.Errorf("querying flights: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	flights = make([]*survey.Flight, 0)
	for rows.Next() {
		var f *survey.Flight
		if f, err = scanFlight(rows); err != nil {
			err = fmt.Errorf("scanning flight: %w", err)
			return
		}
		flights = append(flights, f)
	}

	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating flights: %w", err)
	}
	return
}

func (s *SqliteStore) StoreRecord(ctx context.Context, flightID int64, r *telemetry.Record) (*survey.LogEntry, error) {
	entries, err := s.StoreRecords(ctx, flightID, []*telemetry.Record{r})
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

func (s *SqliteStore) StoreRecords(ctx context.Context, flightID int64, records []*telemetry.Record) (entries []*survey.LogEntry, err error) {
	if len(records) == 0 {
		return nil, nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("beginning transaction: %w", err)
		return
	}
	defer rollbackWithError(tx, &err)

	var exists bool
	if err = tx.QueryRowContext(ctx, flightExistsSQL, flightID).Scan(&exists); err != nil {
		err = fmt.Errorf("checking flight: %w", err)
		return
	}
	if !exists {
		err = fmt.Errorf("%w: flight %d", ErrNotFound, flightID)
		return
	}

	positionStmt, err := tx.PrepareContext(ctx, insertPositionSQL)
	if err != nil {
		err = fmt.Errorf("preparing position statement: %w", err)
		return
	}
	defer closeWithError(positionStmt, &err)

	readingStmt, err := tx.PrepareContext(ctx, insertReadingSQL)
	if err != nil {
		err = fmt.Errorf("preparing reading statement: %w", err)
		return
	}
	defer closeWithError(readingStmt, &err)

	entries = make([]*survey.LogEntry, 0, len(records))
	for i, r := range records {
		record := *r
		record.Classify()

		entry, insertErr := insertRecord(ctx, positionStmt, readingStmt, flightID, &record)
		if insertErr != nil {
			err = fmt.Errorf("record %d: %w", i, insertErr)
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("committing transaction: %w", err)
		return nil, err
	}
	return entries, nil
}

func insertRecord(ctx context.Context, positionStmt, readingStmt *sql.Stmt, flightID int64, record *telemetry.Record) (*survey.LogEntry, error) {
	pos := toPositionData(flightID, record)
	result, err := positionStmt.ExecContext(
		ctx,
		pos.FlightID,
		pos.Timestamp,
		pos.Latitude,
		pos.Longitude,
		pos.Altitude,
		pos.GroundSpeed,
		pos.GroundCourse,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting position: %w", err)
	}

	if pos.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("getting position ID: %w", err)
	}

	reading := toReadingData(pos.ID, record)
	result, err = readingStmt.ExecContext(
		ctx,
		reading.PositionID,
		reading.Timestamp,
		reading.Temperature,
		reading.Humidity,
		reading.AirQualityIndex,
		reading.IsAnomaly,
		reading.RuleVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting reading: %w", err)
	}

	if reading.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("getting reading ID: %w", err)
	}

	return &survey.LogEntry{
		PositionID: pos.ID,
		ReadingID:  reading.ID,
		IsAnomaly:  reading.IsAnomaly,
	}, nil
}

func (s *SqliteStore) FlightData(ctx context.Context, flightID int64) (data *survey.FlightData, err error) {
	flight, err := s.Flight(ctx, flightID)
	if err != nil {
		return
	}

	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectFlightDataSQL, flightID)
	if err != nil {
		err = fmt.Errorf("querying flight data: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	data = &survey.FlightData{
		Flight:    *flight,
		Positions: make([]survey.Position, 0),
	}

	for rows.Next() {
		var pos positionData
		var reading nullableReadingData

		err = rows.Scan(
			&pos.ID,
			&pos.Timestamp,
			&pos.Latitude,
			&pos.Longitude,
			&pos.Altitude,
			&pos.GroundSpeed,
			&pos.GroundCourse,
			&reading.ID,
			&reading.Timestamp,
			&reading.Temperature,
			&reading.Humidity,
			&reading.AirQualityIndex,
			&reading.IsAnomaly,
			&reading.RuleVersion,
		)
		if err != nil {
			err = fmt.Errorf("scanning flight data: %w", err)
			return
		}

		// Rows of one position are adjacent
		if n := len(data.Positions); n == 0 || data.Positions[n-1].ID != pos.ID {
			data.Positions = append(data.Positions, pos.toPosition())
		}

		if r, ok := reading.toReading(); ok {
			last := &data.Positions[len(data.Positions)-1]
			last.SensorReadings = append(last.SensorReadings, r)
		}
	}

	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating flight data: %w", err)
	}
	return
}

func (s *SqliteStore) LatestReadings(ctx context.Context, limit int) (readings []*survey.LatestReading, err error) {
	if limit <= 0 {
		limit = DefaultLatestReadings
	}

	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectLatestReadingsSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		err = fmt.Errorf("querying readings: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	readings = make([]*survey.LatestReading, 0, limit)
	for rows.Next() {
		var rd readingData
		var lr survey.LatestReading

		err = rows.Scan(
			&rd.ID,
			&rd.Timestamp,
			&rd.Temperature,
			&rd.Humidity,
			&rd.AirQualityIndex,
			&rd.IsAnomaly,
			&rd.RuleVersion,
			&lr.FlightID,
			&lr.Position.Latitude,
			&lr.Position.Longitude,
			&lr.Position.Altitude,
		)
		if err != nil {
			err = fmt.Errorf("scanning reading: %w", err)
			return
		}

		lr.Reading = rd.toReading()
		readings = append(readings, &lr)
	}

	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating readings: %w", err)
	}
	return
}

// ReadSamples creates a new SampleReader that provides access to the records
// logged during a flight, ordered by time. The reader streams rows from the
// database, so flights of any length can be read without loading them into
// memory.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - flightID: Unique identifier of the flight to read from
//   - opts: Optional configuration parameters for the reader (WithStartTime,
//     WithEndTime, WithTimeRange, WithAnomaliesOnly)
//
// The returned reader must be closed after use to release database
// resources. Each reader instance should only be used from a single
// goroutine.
//
// Returns ErrNotFound if the flight doesn't exist.
func (s *SqliteStore) ReadSamples(ctx context.Context, flightID int64, opts ...ReaderOption) (*SqliteSampleReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteSampleReader(ctx, db, flightID, opts...)
}

// Sink returns a sink that logs every delivered record to the given flight
func (s *SqliteStore) Sink(flightID int64) telemetry.Sink {
	return telemetry.SinkFunc(func(ctx context.Context, r *telemetry.Record) error {
		_, err := s.StoreRecord(ctx, flightID, r)
		return err
	})
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
