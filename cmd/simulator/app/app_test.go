package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/api"
	"github.com/roman-kulish/drone-monitoring/internal/physics"
	"github.com/roman-kulish/drone-monitoring/internal/storage"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(sink SinkType) *Config {
	seed := uint64(1)
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	c := NewConfig()
	c.Sink = sink
	c.Simulation.Seed = &seed
	c.Simulation.StartTime = &start
	c.Waypoints = []physics.Waypoint{
		{Latitude: 51.5, Longitude: -0.12},
		{Latitude: 51.5005, Longitude: -0.12},
	}
	return c
}

func TestRun_Stdout(t *testing.T) {
	var out bytes.Buffer
	if err := Run(context.Background(), testConfig(SinkStdout), &out, discard); err != nil {
		t.Fatalf("running simulation: %v", err)
	}

	var records []telemetry.Record
	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var r telemetry.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("decoding line %q: %v", scanner.Text(), err)
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		t.Fatalf("expected records")
	}
	for i := 1; i < len(records); i++ {
		if !records[i].Timestamp.After(records[i-1].Timestamp) {
			t.Fatalf("record %d: timestamps must increase", i)
		}
	}
	if records[0].RuleVersion != telemetry.AnomalyRuleVersion {
		t.Errorf("unexpected rule version %d", records[0].RuleVersion)
	}
}

func TestRun_Sqlite(t *testing.T) {
	c := testConfig(SinkSqlite)
	c.Storage.Path = filepath.Join(t.TempDir(), "drone.db")

	if err := Run(context.Background(), c, io.Discard, discard); err != nil {
		t.Fatalf("running simulation: %v", err)
	}

	store := storage.NewSqliteStore(c.Storage.Path)
	defer store.Close()

	flights, err := store.Flights(context.Background())
	if err != nil {
		t.Fatalf("listing flights: %v", err)
	}
	if len(flights) != 1 || flights[0].EndTime == nil {
		t.Fatalf("expected one ended flight, got %+v", flights)
	}
	if !flights[0].StartTime.Equal(*c.Simulation.StartTime) || !flights[0].EndTime.After(flights[0].StartTime) {
		t.Errorf("unexpected flight times %+v", flights[0])
	}

	data, err := store.FlightData(context.Background(), flights[0].ID)
	if err != nil {
		t.Fatalf("reading flight data: %v", err)
	}
	if len(data.Positions) == 0 {
		t.Errorf("expected positions")
	}
}

func TestRun_SqliteBatched(t *testing.T) {
	c := testConfig(SinkSqlite)
	c.Storage.Path = filepath.Join(t.TempDir(), "drone.db")
	c.Storage.BatchSize = 7

	var out bytes.Buffer
	if err := Run(context.Background(), testConfig(SinkStdout), &out, discard); err != nil {
		t.Fatalf("running simulation: %v", err)
	}
	if err := Run(context.Background(), c, io.Discard, discard); err != nil {
		t.Fatalf("running simulation: %v", err)
	}

	store := storage.NewSqliteStore(c.Storage.Path)
	defer store.Close()

	flights, err := store.Flights(context.Background())
	if err != nil || len(flights) != 1 {
		t.Fatalf("expected one flight, got %v (%v)", flights, err)
	}
	data, err := store.FlightData(context.Background(), flights[0].ID)
	if err != nil {
		t.Fatalf("reading flight data: %v", err)
	}

	// Every record reaches the database, including the last partial batch
	if want := bytes.Count(out.Bytes(), []byte("\n")); len(data.Positions) != want {
		t.Errorf("expected %d positions, got %d", want, len(data.Positions))
	}
}

func TestRun_API(t *testing.T) {
	store := storage.NewSqliteStore(filepath.Join(t.TempDir(), "drone.db"))
	defer store.Close()

	ts := httptest.NewServer(api.New(store).Handler())
	defer ts.Close()

	c := testConfig(SinkAPI)
	c.API.URL = ts.URL

	if err := Run(context.Background(), c, io.Discard, discard); err != nil {
		t.Fatalf("running simulation: %v", err)
	}

	flights, err := store.Flights(context.Background())
	if err != nil {
		t.Fatalf("listing flights: %v", err)
	}
	if len(flights) != 1 || flights[0].EndTime == nil {
		t.Fatalf("expected one ended flight, got %+v", flights)
	}
}

func TestRun_InvalidRoute(t *testing.T) {
	c := testConfig(SinkStdout)
	c.Waypoints = []physics.Waypoint{{Latitude: 91, Longitude: 0}}

	var out bytes.Buffer
	if err := Run(context.Background(), c, &out, discard); err == nil {
		t.Fatalf("expected an error")
	}
	if out.Len() != 0 {
		t.Errorf("no record may be written for an invalid route")
	}
}

func TestPaced(t *testing.T) {
	var delivered []time.Time
	sink := paced(telemetry.SinkFunc(func(context.Context, *telemetry.Record) error {
		delivered = append(delivered, time.Now())
		return nil
	}), 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := sink.Deliver(context.Background(), &telemetry.Record{}); err != nil {
			t.Fatalf("delivering: %v", err)
		}
	}

	if elapsed := delivered[2].Sub(delivered[0]); elapsed < 40*time.Millisecond {
		t.Errorf("deliveries were not paced, %v elapsed", elapsed)
	}

	slow := paced(telemetry.SinkFunc(func(context.Context, *telemetry.Record) error { return nil }), time.Hour)
	if err := slow.Deliver(context.Background(), &telemetry.Record{}); err != nil {
		t.Fatalf("the first delivery is not delayed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := slow.Deliver(ctx, &telemetry.Record{}); err == nil {
		t.Errorf("expected a cancellation error")
	}
}
