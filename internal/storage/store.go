package storage

import (
	"context"
	"errors"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

// ErrNotFound is returned when a flight does not exist
var ErrNotFound = errors.New("not found")

// Store provides an interface for managing drone survey data. It handles
// flights, drone positions and sensor readings in a thread-safe manner.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateFlight starts a new flight.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - startTime: When the flight started
	//
	// Returns:
	//   - flight: The created flight with its unique identifier
	//   - error: If creation fails or context is cancelled
	CreateFlight(ctx context.Context, startTime time.Time) (*survey.Flight, error)

	// EndFlight sets the end time of a flight. Ending a flight twice moves
	// its end time.
	//
	// Returns:
	//   - flight: The updated flight
	//   - error: ErrNotFound if the flight does not exist
	EndFlight(ctx context.Context, flightID int64, endTime time.Time) (*survey.Flight, error)

	// Flight retrieves a flight by its ID.
	//
	// Returns:
	//   - flight: The flight
	//   - error: ErrNotFound if the flight does not exist
	Flight(ctx context.Context, flightID int64) (*survey.Flight, error)

	// Flights returns all flights ordered by start time in ascending order
	Flights(ctx context.Context) ([]*survey.Flight, error)

	// StoreRecord logs a position and the reading taken there. The anomaly
	// flag is recomputed with the shared anomaly rule before the record is
	// stored, whatever the caller has set. Both rows are written in a single
	// transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - flightID: ID of the flight the record belongs to
	//   - r: The record to store
	//
	// Returns:
	//   - entry: IDs of the created rows and the anomaly flag
	//   - error: ErrNotFound if the flight does not exist
	StoreRecord(ctx context.Context, flightID int64, r *telemetry.Record) (*survey.LogEntry, error)

	// StoreRecords logs a batch of records within a single transaction,
	// either all of them are stored or none is. Entries are returned in the
	// order of the records.
	StoreRecords(ctx context.Context, flightID int64, records []*telemetry.Record) ([]*survey.LogEntry, error)

	// FlightData returns a flight with all of its positions and readings.
	//
	// Returns:
	//   - data: The flight, positions ordered by time
	//   - error: ErrNotFound if the flight does not exist
	FlightData(ctx context.Context, flightID int64) (*survey.FlightData, error)

	// LatestReadings returns up to limit readings across all flights, the
	// most recent first.
	LatestReadings(ctx context.Context, limit int) ([]*survey.LatestReading, error)

	// ReadSamples opens a reader over the records logged during a flight.
	// The returned reader must be closed after use.
	ReadSamples(ctx context.Context, flightID int64, opts ...ReaderOption) (*SqliteSampleReader, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
