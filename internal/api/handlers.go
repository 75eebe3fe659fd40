package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/storage"
	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

const (
	maxBodySize       = 1 << 20
	maxLatestReadings = 1000
	defaultHistory    = 100
	errFlightNotFound = "Flight not found"
)

// timestamp accepts RFC 3339 as well as ISO 8601 without a zone, which is
// taken as UTC
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	for _, layout := range timestampLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

type startFlightRequest struct {
	StartTime *timestamp `json:"start_time"`
}

type logDataRequest struct {
	Timestamp       *timestamp `json:"timestamp"`
	Latitude        *float64   `json:"latitude"`
	Longitude       *float64   `json:"longitude"`
	Altitude        *float64   `json:"altitude"`
	Temperature     *float64   `json:"temperature"`
	Humidity        *float64   `json:"humidity"`
	AirQualityIndex *float64   `json:"air_quality_index"`
	GroundSpeed     *float64   `json:"ground_speed"`
	GroundCourse    *float64   `json:"ground_course"`
}

// record validates the request and converts it to a record. A missing
// timestamp defaults to now.
func (req *logDataRequest) record(now time.Time) (*telemetry.Record, error) {
	required := []struct {
		name  string
		value *float64
	}{
		{"latitude", req.Latitude},
		{"longitude", req.Longitude},
		{"altitude", req.Altitude},
		{"temperature", req.Temperature},
		{"humidity", req.Humidity},
		{"air_quality_index", req.AirQualityIndex},
	}
	for _, f := range required {
		if f.value == nil {
			return nil, fmt.Errorf("missing field: %s", f.name)
		}
		if math.IsNaN(*f.value) || math.IsInf(*f.value, 0) {
			return nil, fmt.Errorf("invalid field: %s", f.name)
		}
	}
	if *req.Latitude < -90 || *req.Latitude > 90 {
		return nil, fmt.Errorf("latitude %g out of range", *req.Latitude)
	}
	if *req.Longitude < -180 || *req.Longitude > 180 {
		return nil, fmt.Errorf("longitude %g out of range", *req.Longitude)
	}

	r := telemetry.Record{
		Timestamp:       now.UTC(),
		Latitude:        *req.Latitude,
		Longitude:       *req.Longitude,
		Altitude:        *req.Altitude,
		Temperature:     *req.Temperature,
		Humidity:        *req.Humidity,
		AirQualityIndex: *req.AirQualityIndex,
		GroundSpeed:     req.GroundSpeed,
		GroundCourse:    req.GroundCourse,
	}
	if req.Timestamp != nil {
		r.Timestamp = req.Timestamp.UTC()
	}
	return &r, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Drone Monitoring API is running."})
}

func (s *Server) handleStartFlight(w http.ResponseWriter, r *http.Request) {
	var req startFlightRequest
	if err := decodeOptionalBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	startTime := s.now().UTC()
	if req.StartTime != nil {
		startTime = req.StartTime.UTC()
	}

	flight, err := s.store.CreateFlight(r.Context(), startTime)
	if err != nil {
		s.storeError(w, "creating flight", err)
		return
	}

	s.logger.Info("flight started", slog.Int64("flightID", flight.ID), slog.Time("startTime", flight.StartTime))
	s.publish(Message{Type: MessageFlightStarted, Timestamp: s.now().UTC(), FlightID: flight.ID, Data: flight})

	respondWithJSON(w, http.StatusCreated, map[string]any{
		"flight_id":  flight.ID,
		"start_time": flight.StartTime,
	})
}

func (s *Server) handleLogData(w http.ResponseWriter, r *http.Request) {
	flightID, ok := pathFlightID(w, r)
	if !ok {
		return
	}

	var req logDataRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := req.record(s.now())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.store.StoreRecord(r.Context(), flightID, record)
	if err != nil {
		s.storeError(w, "logging data", err)
		return
	}

	// The store classifies its own copy
	record.IsAnomaly = entry.IsAnomaly
	record.RuleVersion = telemetry.AnomalyRuleVersion

	if entry.IsAnomaly {
		s.logger.Warn("anomaly logged", slog.Int64("flightID", flightID), slog.Float64("temperature", record.Temperature), slog.Float64("airQualityIndex", record.AirQualityIndex))
	}

	if s.cache != nil {
		sample := survey.Sample{FlightID: flightID, PositionID: entry.PositionID, ReadingID: entry.ReadingID, Record: *record}
		if err = s.cache.Put(r.Context(), &sample); err != nil {
			s.logger.Warn("caching sample", slog.Int64("flightID", flightID), slog.Any("error", err))
		}
	}

	s.publish(Message{Type: MessageRecord, Timestamp: s.now().UTC(), FlightID: flightID, Data: RecordData{LogEntry: *entry, Record: record}})

	respondWithJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleEndFlight(w http.ResponseWriter, r *http.Request) {
	flightID, ok := pathFlightID(w, r)
	if !ok {
		return
	}

	flight, err := s.store.EndFlight(r.Context(), flightID, s.now().UTC())
	if err != nil {
		s.storeError(w, "ending flight", err)
		return
	}

	s.logger.Info("flight ended", slog.Int64("flightID", flight.ID), slog.Any("endTime", flight.EndTime))
	s.publish(Message{Type: MessageFlightEnded, Timestamp: s.now().UTC(), FlightID: flight.ID, Data: flight})

	respondWithJSON(w, http.StatusOK, map[string]any{
		"flight_id": flight.ID,
		"end_time":  flight.EndTime,
	})
}

func (s *Server) handleFlights(w http.ResponseWriter, r *http.Request) {
	flights, err := s.store.Flights(r.Context())
	if err != nil {
		s.storeError(w, "listing flights", err)
		return
	}
	if flights == nil {
		flights = []*survey.Flight{}
	}
	respondWithJSON(w, http.StatusOK, flights)
}

func (s *Server) handleFlightData(w http.ResponseWriter, r *http.Request) {
	flightID, ok := pathFlightID(w, r)
	if !ok {
		return
	}

	data, err := s.store.FlightData(r.Context(), flightID)
	if err != nil {
		s.storeError(w, "reading flight data", err)
		return
	}
	if data.Positions == nil {
		data.Positions = []survey.Position{}
	}
	respondWithJSON(w, http.StatusOK, data)
}

// handleFlightLatest serves the most recent sample of a flight, from the
// cache when possible
func (s *Server) handleFlightLatest(w http.ResponseWriter, r *http.Request) {
	flightID, ok := pathFlightID(w, r)
	if !ok {
		return
	}

	if s.cache != nil {
		sample, err := s.cache.Latest(r.Context(), flightID)
		if err == nil {
			respondWithJSON(w, http.StatusOK, sample)
			return
		}
		s.logger.Debug("cache lookup", slog.Int64("flightID", flightID), slog.Any("error", err))
	}

	data, err := s.store.FlightData(r.Context(), flightID)
	if err != nil {
		s.storeError(w, "reading flight data", err)
		return
	}

	sample := latestSample(data)
	if sample == nil {
		respondWithError(w, http.StatusNotFound, "No data logged for flight")
		return
	}
	respondWithJSON(w, http.StatusOK, sample)
}

// handleFlightHistory serves the most recent samples of a flight, oldest
// first. The cache answers while it holds the flight, the store otherwise.
func (s *Server) handleFlightHistory(w http.ResponseWriter, r *http.Request) {
	flightID, ok := pathFlightID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r, defaultHistory)
	if !ok {
		return
	}

	if s.cache != nil {
		samples, err := s.cache.History(r.Context(), flightID, limit)
		if err == nil && len(samples) > 0 {
			respondWithJSON(w, http.StatusOK, samples)
			return
		}
		s.logger.Debug("cache history lookup", slog.Int64("flightID", flightID), slog.Any("error", err))
	}

	data, err := s.store.FlightData(r.Context(), flightID)
	if err != nil {
		s.storeError(w, "reading flight data", err)
		return
	}

	samples := flightSamples(data)
	if len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	respondWithJSON(w, http.StatusOK, samples)
}

func (s *Server) handleLatestReadings(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, storage.DefaultLatestReadings)
	if !ok {
		return
	}

	readings, err := s.store.LatestReadings(r.Context(), limit)
	if err != nil {
		s.storeError(w, "reading latest readings", err)
		return
	}
	if readings == nil {
		readings = []*survey.LatestReading{}
	}
	respondWithJSON(w, http.StatusOK, readings)
}

// queryLimit parses the optional limit query parameter, capped at
// maxLatestReadings
func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxLatestReadings), true
}

// storeError maps a store error to a response
func (s *Server) storeError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, errFlightNotFound)
		return
	}
	s.logger.Error(msg, slog.Any("error", err))
	respondWithError(w, http.StatusInternalServerError, "Internal server error")
}

// latestSample returns the last reading of a flight with its position
func latestSample(data *survey.FlightData) *survey.Sample {
	samples := flightSamples(data)
	if len(samples) == 0 {
		return nil
	}
	return samples[len(samples)-1]
}

// flightSamples flattens the readings of a flight with their positions, in
// logging order
func flightSamples(data *survey.FlightData) []*survey.Sample {
	samples := []*survey.Sample{}
	for _, p := range data.Positions {
		for _, reading := range p.SensorReadings {
			samples = append(samples, &survey.Sample{
				FlightID:   data.ID,
				PositionID: p.ID,
				ReadingID:  reading.ID,
				Record: telemetry.Record{
					Timestamp:       reading.Timestamp,
					Latitude:        p.Latitude,
					Longitude:       p.Longitude,
					Altitude:        p.Altitude,
					Temperature:     reading.Temperature,
					Humidity:        reading.Humidity,
					AirQualityIndex: reading.AirQualityIndex,
					IsAnomaly:       reading.IsAnomaly,
					GroundSpeed:     p.GroundSpeed,
					GroundCourse:    p.GroundCourse,
					RuleVersion:     reading.RuleVersion,
				},
			})
		}
	}
	return samples
}

// pathFlightID parses the flight ID path value. Anything but a positive
// integer cannot name a flight.
func pathFlightID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusNotFound, errFlightNotFound)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decodeOptionalBody is decodeBody for requests whose body may be empty
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) error {
	err := decodeBody(w, r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	p, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(p)
}

func respondWithError(w http.ResponseWriter, status int, msg string) {
	respondWithJSON(w, status, map[string]string{"error": msg})
}
