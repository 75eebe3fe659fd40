// Package client talks to the drone monitoring API. Its Sink delivers the
// records of a simulated flight to a running server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roman-kulish/drone-monitoring/internal/survey"
	"github.com/roman-kulish/drone-monitoring/internal/telemetry"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultBackoff = 500 * time.Millisecond
)

// ErrNotFound is returned when the API does not know the flight
var ErrNotFound = errors.New("flight not found")

// StatusError is an unexpected API response
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// temporary reports whether retrying the request may succeed
func (e *StatusError) temporary() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) func(c *Client) {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) func(c *Client) {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetries retries failed requests up to n times, waiting backoff, then
// twice as long, between attempts. Client errors are never retried.
func WithRetries(n int, backoff time.Duration) func(c *Client) {
	return func(c *Client) {
		c.retries = max(n, 0)
		c.backoff = backoff
	}
}

// Client of the drone monitoring API
type Client struct {
	baseURL string
	http    *http.Client
	retries int
	backoff time.Duration

	logger *slog.Logger
}

// New creates a client for the API at baseURL
func New(baseURL string, options ...func(c *Client)) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing API URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q", baseURL)
	}

	c := Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		backoff: DefaultBackoff,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&c)
	}

	return &c, nil
}

// StartFlight starts a new flight at startTime
func (c *Client) StartFlight(ctx context.Context, startTime time.Time) (*survey.Flight, error) {
	var resp struct {
		FlightID  int64     `json:"flight_id"`
		StartTime time.Time `json:"start_time"`
	}

	req := map[string]string{"start_time": startTime.UTC().Format(time.RFC3339Nano)}
	if err := c.post(ctx, "/api/flights/start", req, http.StatusCreated, &resp); err != nil {
		return nil, fmt.Errorf("starting flight: %w", err)
	}

	c.logger.Info("flight started", slog.Int64("flightID", resp.FlightID))
	return &survey.Flight{ID: resp.FlightID, StartTime: resp.StartTime}, nil
}

// EndFlight ends a flight at the server's current time
func (c *Client) EndFlight(ctx context.Context, flightID int64) (*survey.Flight, error) {
	var resp struct {
		FlightID int64      `json:"flight_id"`
		EndTime  *time.Time `json:"end_time"`
	}

	if err := c.post(ctx, flightPath(flightID, "end"), nil, http.StatusOK, &resp); err != nil {
		return nil, fmt.Errorf("ending flight %d: %w", flightID, err)
	}

	c.logger.Info("flight ended", slog.Int64("flightID", resp.FlightID))
	return &survey.Flight{ID: resp.FlightID, EndTime: resp.EndTime}, nil
}

// LogData logs a record of a flight
func (c *Client) LogData(ctx context.Context, flightID int64, r *telemetry.Record) (*survey.LogEntry, error) {
	var entry survey.LogEntry
	if err := c.post(ctx, flightPath(flightID, "log_data"), r, http.StatusCreated, &entry); err != nil {
		return nil, fmt.Errorf("logging data of flight %d: %w", flightID, err)
	}

	if entry.IsAnomaly {
		c.logger.Warn("anomaly detected", slog.Int64("flightID", flightID), slog.Int64("readingID", entry.ReadingID))
	}
	return &entry, nil
}

// Sink returns a sink logging every record of a flight
func (c *Client) Sink(flightID int64) telemetry.Sink {
	return telemetry.SinkFunc(func(ctx context.Context, r *telemetry.Record) error {
		_, err := c.LogData(ctx, flightID, r)
		return err
	})
}

func (c *Client) post(ctx context.Context, path string, body any, want int, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	backoff := c.backoff
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, path, payload, want, out)
		if err == nil || attempt >= c.retries || !retryable(err) {
			return err
		}

		c.logger.Warn("request failed, retrying", slog.String("path", path), slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff), slog.Any("error", err))

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (c *Client) do(ctx context.Context, path string, payload []byte, want int, out any) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing response body: %w", cerr)
		}
	}()

	if resp.StatusCode != want {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)

		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Error)
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error}
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNotFound) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.temporary()
	}

	// Transport errors; a response that could not be decoded was still
	// processed by the server
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func flightPath(flightID int64, action string) string {
	return "/api/flights/" + strconv.FormatInt(flightID, 10) + "/" + action
}
