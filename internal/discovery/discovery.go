// Package discovery announces the API on the local network over mDNS and
// finds it from the simulator.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/grandcat/zeroconf"
)

const (
	ServiceType   = "_dronemon._tcp"
	ServiceDomain = "local."
	TxtVersion    = "version=1"
)

// ErrNotFound is returned when no API answers before the context is done
var ErrNotFound = errors.New("no drone monitoring API found")

// WithLogger sets the logger for the announcer
func WithLogger(logger *slog.Logger) func(a *Announcer) {
	return func(a *Announcer) {
		a.logger = logger
	}
}

// WithInstance overrides the instance name, which defaults to the host name
func WithInstance(name string) func(a *Announcer) {
	return func(a *Announcer) {
		a.instance = name
	}
}

// Announcer registers the API as an mDNS service
type Announcer struct {
	port     int
	instance string
	server   *zeroconf.Server
	mu       sync.Mutex

	logger *slog.Logger
}

// NewAnnouncer creates an announcer for an API listening on port
func NewAnnouncer(port int, options ...func(a *Announcer)) *Announcer {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "drone-monitoring"
	}

	a := Announcer{
		port:     port,
		instance: hostname + "-dronemon",
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&a)
	}

	return &a
}

// Start registers the service, it is a no-op when already started
func (a *Announcer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}
	if a.port <= 0 || a.port > 65535 {
		return fmt.Errorf("invalid port %d", a.port)
	}

	txt := []string{TxtVersion}
	if ip, err := localIP(); err == nil {
		txt = append(txt, "ip="+ip)
	}

	server, err := zeroconf.Register(a.instance, ServiceType, ServiceDomain, a.port, txt, nil)
	if err != nil {
		return fmt.Errorf("registering mDNS service: %w", err)
	}
	a.server = server

	a.logger.Info("announcing API", slog.String("instance", a.instance), slog.String("service", ServiceType), slog.Int("port", a.port))
	return nil
}

// Stop unregisters the service
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil

	a.logger.Info("stopped announcing API")
}

// Lookup browses for an announced API and returns its base URL. The caller
// bounds the search with the context.
func Lookup(ctx context.Context) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("creating mDNS resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err = resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return "", fmt.Errorf("browsing for %s: %w", ServiceType, err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ErrNotFound
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if u := entryURL(entry); u != "" {
				return u, nil
			}
		}
	}
}

// entryURL returns the base URL of a resolved service, preferring IPv4
func entryURL(entry *zeroconf.ServiceEntry) string {
	if entry == nil || entry.Port <= 0 {
		return ""
	}

	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return ""
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(entry.Port))
}

// localIP returns the first non-loopback IPv4 address of the host
func localIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String(), nil
		}
	}
	return "", errors.New("no non-loopback IPv4 address")
}
