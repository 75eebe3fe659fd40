package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	serverapp "github.com/roman-kulish/drone-monitoring/cmd/server/app"
	simapp "github.com/roman-kulish/drone-monitoring/cmd/simulator/app"
)

const defaultWaitInterval = 250 * time.Millisecond

// WithWaitTimeout sets how long to wait for the API to answer before the
// flights are started
func WithWaitTimeout(timeout time.Duration) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.waitTimeout = timeout
	}
}

// WithExit stops the API once every flight is over
func WithExit(exit bool) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.exit = exit
	}
}

// Orchestrator runs the API and flies the simulated flights against it. The
// API is started first, flights start together once it answers.
type Orchestrator struct {
	server  *serverapp.Config
	flights []*simapp.Config

	logger *slog.Logger

	waitTimeout  time.Duration
	waitInterval time.Duration
	exit         bool

	mu   sync.Mutex
	errs []error

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewOrchestrator(server *serverapp.Config, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		server:       server,
		logger:       logger,
		waitTimeout:  DefaultWaitTimeout,
		waitInterval: defaultWaitInterval,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

// AddFlight registers a simulated flight. Its records are posted to the API
// started by the orchestrator.
func (o *Orchestrator) AddFlight(config *simapp.Config) error {
	c := *config
	c.Sink = simapp.SinkAPI
	c.API.Discover = false
	if err := c.Validate(); err != nil {
		return fmt.Errorf("flight %d: %w", len(o.flights)+1, err)
	}

	o.flights = append(o.flights, &c)
	return nil
}

// Run serves the API on listener and flies the registered flights. Without
// the exit option the API keeps serving until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context, listener net.Listener) error {
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	served := make(chan error, 1)
	go func() {
		served <- serverapp.Serve(serverCtx, listener, o.server, o.logger)
	}()

	url := "http://" + listener.Addr().String()
	if err := o.waitForServer(ctx, url); err != nil {
		stopServer()
		return errors.Join(err, <-served)
	}
	o.logger.Info("API is ready", slog.String("url", url), slog.Int("flights", len(o.flights)))

	o.runFlights(ctx, url)

	if o.exit {
		stopServer()
	}

	err := <-served
	return errors.Join(append(o.errs, err)...)
}

func (o *Orchestrator) runFlights(ctx context.Context, url string) {
	if len(o.flights) == 0 {
		return
	}

	ctx, o.cancel = context.WithCancel(ctx)
	defer o.cancel()

	startGate := make(chan struct{})
	for i, flight := range o.flights {
		flight.API.URL = url

		o.wg.Add(1)
		go o.beginFlight(ctx, i+1, flight, startGate)
	}

	close(startGate) // Start the flights

	o.wg.Wait()
}

func (o *Orchestrator) beginFlight(ctx context.Context, n int, config *simapp.Config, startGate chan struct{}) {
	defer o.wg.Done()

	<-startGate

	logger := o.logger.With(slog.Int("flight", n))
	if err := simapp.Run(ctx, config, io.Discard, logger); err != nil {
		logger.Error("flight failed", slog.Any("error", err))

		o.mu.Lock()
		o.errs = append(o.errs, fmt.Errorf("flight %d: %w", n, err))
		o.mu.Unlock()

		o.cancel() // signal to other goroutines about fatal
	}
}

// waitForServer polls the API until it answers or the wait timeout passes
func (o *Orchestrator) waitForServer(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, o.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(o.waitInterval)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/", nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", url, ctx.Err())
		case <-ticker.C:
		}
	}
}
