package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/storage"
	"github.com/roman-kulish/drone-monitoring/internal/survey"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, options ...func(s *Server)) *httptest.Server {
	t.Helper()

	store := storage.NewSqliteStore(filepath.Join(t.TempDir(), "drone.db"))
	t.Cleanup(func() {
		_ = store.Close()
	})

	options = append([]func(s *Server){withClock(func() time.Time { return testNow })}, options...)
	ts := httptest.NewServer(New(store, options...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string, v any) int {
	t.Helper()

	var req *http.Request
	var err error
	if body == "" {
		req, err = http.NewRequest(method, url, nil)
	} else {
		req, err = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if v != nil {
		if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func startFlight(t *testing.T, ts *httptest.Server) int64 {
	t.Helper()

	var resp struct {
		FlightID  int64     `json:"flight_id"`
		StartTime time.Time `json:"start_time"`
	}
	if status := do(t, http.MethodPost, ts.URL+"/api/flights/start", "", &resp); status != http.StatusCreated {
		t.Fatalf("starting flight: status %d", status)
	}
	if resp.FlightID <= 0 || !resp.StartTime.Equal(testNow) {
		t.Fatalf("unexpected start response %+v", resp)
	}
	return resp.FlightID
}

const logBody = `{
	"timestamp": "2024-06-01T12:00:05",
	"latitude": 51.5074,
	"longitude": -0.1278,
	"altitude": 100,
	"temperature": 22.5,
	"humidity": 55,
	"air_quality_index": 40
}`

func TestServer_Index(t *testing.T) {
	ts := newTestServer(t)

	var resp map[string]string
	if status := do(t, http.MethodGet, ts.URL+"/", "", &resp); status != http.StatusOK {
		t.Fatalf("unexpected status %d", status)
	}
	if resp["message"] != "Drone Monitoring API is running." {
		t.Errorf("unexpected message %q", resp["message"])
	}
}

func TestServer_FlightLifecycle(t *testing.T) {
	ts := newTestServer(t)
	id := startFlight(t, ts)
	base := ts.URL + "/api/flights/"

	var entry survey.LogEntry
	if status := do(t, http.MethodPost, base+itoa(id)+"/log_data", logBody, &entry); status != http.StatusCreated {
		t.Fatalf("logging data: status %d", status)
	}
	if entry.PositionID <= 0 || entry.ReadingID <= 0 || entry.IsAnomaly {
		t.Errorf("unexpected log entry %+v", entry)
	}

	hot := strings.Replace(logBody, `"temperature": 22.5`, `"temperature": 36`, 1)
	if status := do(t, http.MethodPost, base+itoa(id)+"/log_data", hot, &entry); status != http.StatusCreated {
		t.Fatalf("logging data: status %d", status)
	}
	if !entry.IsAnomaly {
		t.Errorf("expected an anomaly")
	}

	var ended struct {
		FlightID int64     `json:"flight_id"`
		EndTime  time.Time `json:"end_time"`
	}
	if status := do(t, http.MethodPost, base+itoa(id)+"/end", "", &ended); status != http.StatusOK {
		t.Fatalf("ending flight: status %d", status)
	}
	if ended.FlightID != id || !ended.EndTime.Equal(testNow) {
		t.Errorf("unexpected end response %+v", ended)
	}

	var flights []survey.Flight
	if status := do(t, http.MethodGet, ts.URL+"/api/flights", "", &flights); status != http.StatusOK {
		t.Fatalf("listing flights: status %d", status)
	}
	if len(flights) != 1 || flights[0].ID != id || flights[0].EndTime == nil {
		t.Errorf("unexpected flights %+v", flights)
	}

	var data survey.FlightData
	if status := do(t, http.MethodGet, base+itoa(id)+"/data", "", &data); status != http.StatusOK {
		t.Fatalf("reading flight data: status %d", status)
	}
	if len(data.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(data.Positions))
	}
	p := data.Positions[0]
	if p.Latitude != 51.5074 || len(p.SensorReadings) != 1 {
		t.Errorf("unexpected position %+v", p)
	}
	if want := testNow.Add(5 * time.Second); !p.Timestamp.Equal(want) {
		t.Errorf("naive timestamp read as %v, want %v", p.Timestamp, want)
	}

	var latest []survey.LatestReading
	if status := do(t, http.MethodGet, ts.URL+"/api/sensor_readings/latest?limit=1", "", &latest); status != http.StatusOK {
		t.Fatalf("reading latest: status %d", status)
	}
	if len(latest) != 1 || latest[0].FlightID != id || latest[0].Position.Latitude != 51.5074 {
		t.Errorf("unexpected latest readings %+v", latest)
	}

	var sample survey.Sample
	if status := do(t, http.MethodGet, base+itoa(id)+"/latest", "", &sample); status != http.StatusOK {
		t.Fatalf("reading flight latest: status %d", status)
	}
	if sample.FlightID != id || sample.ReadingID <= 0 {
		t.Errorf("unexpected sample %+v", sample)
	}
}

func TestServer_DefaultTimestamp(t *testing.T) {
	ts := newTestServer(t)
	id := startFlight(t, ts)

	body := strings.Replace(logBody, `"timestamp": "2024-06-01T12:00:05",`, "", 1)
	if status := do(t, http.MethodPost, ts.URL+"/api/flights/"+itoa(id)+"/log_data", body, nil); status != http.StatusCreated {
		t.Fatalf("logging data: status %d", status)
	}

	var data survey.FlightData
	do(t, http.MethodGet, ts.URL+"/api/flights/"+itoa(id)+"/data", "", &data)
	if len(data.Positions) != 1 || !data.Positions[0].Timestamp.Equal(testNow) {
		t.Errorf("expected the record to be stamped with the current time, got %+v", data.Positions)
	}
}

func TestServer_Errors(t *testing.T) {
	ts := newTestServer(t)
	id := startFlight(t, ts)
	flight := ts.URL + "/api/flights/" + itoa(id)

	tests := []struct {
		name   string
		method string
		url    string
		body   string
		status int
	}{
		{"log to unknown flight", http.MethodPost, ts.URL + "/api/flights/999/log_data", logBody, http.StatusNotFound},
		{"end unknown flight", http.MethodPost, ts.URL + "/api/flights/999/end", "", http.StatusNotFound},
		{"data of unknown flight", http.MethodGet, ts.URL + "/api/flights/999/data", "", http.StatusNotFound},
		{"non numeric flight", http.MethodGet, ts.URL + "/api/flights/abc/data", "", http.StatusNotFound},
		{"no data logged", http.MethodGet, flight + "/latest", "", http.StatusNotFound},
		{"malformed body", http.MethodPost, flight + "/log_data", `{"latitude":`, http.StatusBadRequest},
		{"empty body", http.MethodPost, flight + "/log_data", "", http.StatusBadRequest},
		{"missing field", http.MethodPost, flight + "/log_data", `{"latitude": 1, "longitude": 2}`, http.StatusBadRequest},
		{"invalid timestamp", http.MethodPost, flight + "/log_data", strings.Replace(logBody, "2024-06-01T12:00:05", "yesterday", 1), http.StatusBadRequest},
		{"latitude out of range", http.MethodPost, flight + "/log_data", strings.Replace(logBody, "51.5074", "95", 1), http.StatusBadRequest},
		{"invalid limit", http.MethodGet, ts.URL + "/api/sensor_readings/latest?limit=-1", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp map[string]string
			if status := do(t, tt.method, tt.url, tt.body, &resp); status != tt.status {
				t.Errorf("got status %d, want %d", status, tt.status)
			}
			if resp["error"] == "" {
				t.Errorf("expected an error message")
			}
		})
	}
}

func TestServer_Cors(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/flights/start", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("unexpected allowed origin %q", got)
	}
}

type memoryCache struct {
	mu      sync.Mutex
	samples map[int64]survey.Sample
	history map[int64][]*survey.Sample
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		samples: make(map[int64]survey.Sample),
		history: make(map[int64][]*survey.Sample),
	}
}

func (c *memoryCache) Put(_ context.Context, s *survey.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[s.FlightID] = *s
	cp := *s
	c.history[s.FlightID] = append(c.history[s.FlightID], &cp)
	return nil
}

func (c *memoryCache) History(_ context.Context, flightID int64, n int) ([]*survey.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history[flightID]
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return h, nil
}

func (c *memoryCache) Latest(_ context.Context, flightID int64) (*survey.Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.samples[flightID]; ok {
		return &s, nil
	}
	return nil, errors.New("miss")
}

func TestServer_Cache(t *testing.T) {
	cache := newMemoryCache()
	ts := newTestServer(t, WithCache(cache))
	id := startFlight(t, ts)

	var entry survey.LogEntry
	if status := do(t, http.MethodPost, ts.URL+"/api/flights/"+itoa(id)+"/log_data", logBody, &entry); status != http.StatusCreated {
		t.Fatalf("logging data: status %d", status)
	}

	cached, err := cache.Latest(context.Background(), id)
	if err != nil {
		t.Fatalf("expected the sample to be cached")
	}
	if cached.ReadingID != entry.ReadingID || cached.Temperature != 22.5 || cached.RuleVersion == 0 {
		t.Errorf("unexpected cached sample %+v", cached)
	}

	// Served from the cache, not the store
	cached.Temperature = -1
	_ = cache.Put(context.Background(), cached)

	var sample survey.Sample
	if status := do(t, http.MethodGet, ts.URL+"/api/flights/"+itoa(id)+"/latest", "", &sample); status != http.StatusOK {
		t.Fatalf("reading flight latest: status %d", status)
	}
	if sample.Temperature != -1 {
		t.Errorf("expected the cached sample, got %+v", sample)
	}
}

func TestServer_FlightHistory(t *testing.T) {
	temperatures := []string{"20", "21", "22"}

	logFlight := func(t *testing.T, ts *httptest.Server) int64 {
		id := startFlight(t, ts)
		for _, temp := range temperatures {
			body := strings.Replace(logBody, `"temperature": 22.5`, `"temperature": `+temp, 1)
			if status := do(t, http.MethodPost, ts.URL+"/api/flights/"+itoa(id)+"/log_data", body, nil); status != http.StatusCreated {
				t.Fatalf("logging data: status %d", status)
			}
		}
		return id
	}

	t.Run("store", func(t *testing.T) {
		ts := newTestServer(t)
		id := logFlight(t, ts)
		url := ts.URL + "/api/flights/" + itoa(id) + "/history"

		var samples []survey.Sample
		if status := do(t, http.MethodGet, url+"?limit=2", "", &samples); status != http.StatusOK {
			t.Fatalf("reading history: status %d", status)
		}
		if len(samples) != 2 || samples[0].Temperature != 21 || samples[1].Temperature != 22 {
			t.Errorf("unexpected history %+v", samples)
		}
		if samples[0].FlightID != id || samples[0].ReadingID >= samples[1].ReadingID {
			t.Errorf("unexpected history %+v", samples)
		}

		if status := do(t, http.MethodGet, url+"?limit=0", "", nil); status != http.StatusBadRequest {
			t.Errorf("unexpected status %d for a zero limit", status)
		}
		if status := do(t, http.MethodGet, ts.URL+"/api/flights/999/history", "", nil); status != http.StatusNotFound {
			t.Errorf("unexpected status %d for an unknown flight", status)
		}

		empty := startFlight(t, ts)
		samples = nil
		if status := do(t, http.MethodGet, ts.URL+"/api/flights/"+itoa(empty)+"/history", "", &samples); status != http.StatusOK {
			t.Fatalf("reading history: status %d", status)
		}
		if samples == nil || len(samples) != 0 {
			t.Errorf("expected an empty list, got %+v", samples)
		}
	})

	t.Run("cache", func(t *testing.T) {
		cache := newMemoryCache()
		ts := newTestServer(t, WithCache(cache))
		id := logFlight(t, ts)

		// Served from the cache, not the store
		cache.history[id][2].Temperature = -1

		var samples []survey.Sample
		if status := do(t, http.MethodGet, ts.URL+"/api/flights/"+itoa(id)+"/history", "", &samples); status != http.StatusOK {
			t.Fatalf("reading history: status %d", status)
		}
		if len(samples) != 3 || samples[0].Temperature != 20 || samples[2].Temperature != -1 {
			t.Errorf("expected the cached history, got %+v", samples)
		}
	})
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
