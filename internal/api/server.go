package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

// Store is the part of storage.Store the API serves from
type Store interface {
	CreateFlight(ctx context.Context, startTime time.Time) (*survey.Flight, error)
	EndFlight(ctx context.Context, flightID int64, endTime time.Time) (*survey.Flight, error)
	Flights(ctx context.Context) ([]*survey.Flight, error)
	StoreRecord(ctx context.Context, flightID int64, r *telemetry.Record) (*survey.LogEntry, error)
	FlightData(ctx context.Context, flightID int64) (*survey.FlightData, error)
	LatestReadings(ctx context.Context, limit int) ([]*survey.LatestReading, error)
}

// Cache keeps the most recent samples of each flight. A miss is reported as
// an error.
type Cache interface {
	Put(ctx context.Context, s *survey.Sample) error
	Latest(ctx context.Context, flightID int64) (*survey.Sample, error)
	History(ctx context.Context, flightID int64, n int) ([]*survey.Sample, error)
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHub publishes flight events and logged records to a live feed
func WithHub(hub *Hub) func(s *Server) {
	return func(s *Server) {
		s.hub = hub
	}
}

// WithCache keeps the latest sample of every flight in a cache
func WithCache(cache Cache) func(s *Server) {
	return func(s *Server) {
		s.cache = cache
	}
}

// withClock overrides the time source used for defaulted timestamps
func withClock(now func() time.Time) func(s *Server) {
	return func(s *Server) {
		s.now = now
	}
}

// Server is the ingestion and retrieval API
type Server struct {
	store  Store
	hub    *Hub
	cache  Cache
	logger *slog.Logger
	now    func() time.Time
}

// New creates an API server over the store
func New(store Store, options ...func(s *Server)) *Server {
	s := Server{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
		now:    time.Now,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Handler returns the routed and wrapped handler of the API
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /api/flights/start", s.handleStartFlight)
	mux.HandleFunc("POST /api/flights/{id}/log_data", s.handleLogData)
	mux.HandleFunc("POST /api/flights/{id}/end", s.handleEndFlight)
	mux.HandleFunc("GET /api/flights", s.handleFlights)
	mux.HandleFunc("GET /api/flights/{id}/data", s.handleFlightData)
	mux.HandleFunc("GET /api/flights/{id}/latest", s.handleFlightLatest)
	mux.HandleFunc("GET /api/flights/{id}/history", s.handleFlightHistory)
	mux.HandleFunc("GET /api/sensor_readings/latest", s.handleLatestReadings)

	if s.hub != nil {
		mux.Handle("GET /api/stream", s.hub)
	}

	return Chain(mux,
		Recovery(s.logger),
		Logging(s.logger),
		Cors(),
	)
}

// publish sends a message to the live feed if there is one
func (s *Server) publish(m Message) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(m); err != nil {
		s.logger.Warn("publishing live feed message", slog.String("type", m.Type), slog.Any("error", err))
	}
}
