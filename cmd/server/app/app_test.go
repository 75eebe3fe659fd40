package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"
)

func TestServe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}

	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "drone.db")

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		errs <- Serve(ctx, listener, config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	url := "http://" + listener.Addr().String()

	resp, err := http.Post(url+"/api/flights/start", "application/json", nil)
	if err != nil {
		cancel()
		t.Fatalf("starting flight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err = <-errs:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("server did not stop")
	}
}

func TestNewConfigFromCLI(t *testing.T) {
	env := map[string]string{
		EnvDBPath:    "/data/env.db",
		EnvRedisAddr: "redis:6379",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	c, err := NewConfigFromCLI([]string{"-addr", "127.0.0.1:8080", "-mdns"}, lookup)
	if err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	if c.Addr != "127.0.0.1:8080" || !c.Announce || !c.LiveFeed {
		t.Errorf("unexpected config %+v", c)
	}
	if c.DBPath != "/data/env.db" || c.Redis.Addr != "redis:6379" {
		t.Errorf("environment not applied: %+v", c)
	}

	// Flags take precedence over the environment
	if c, err = NewConfigFromCLI([]string{"-db", "flag.db"}, lookup); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	if c.DBPath != "flag.db" {
		t.Errorf("unexpected db path %q", c.DBPath)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := map[string]func(c *Config){
		"db path":   func(c *Config) { c.DBPath = "" },
		"log level": func(c *Config) { c.LogLevel = "loud" },
		"address":   func(c *Config) { c.Addr = "localhost" },
		"port":      func(c *Config) { c.Addr = ":http-alt" },
		"redis db":  func(c *Config) { c.Redis.DB = -1 },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := NewConfig()
			mutate(c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected an error")
			}
		})
	}

	if port, err := NewConfig().Port(); err != nil || port != 5000 {
		t.Errorf("unexpected default port %d (%v)", port, err)
	}
}
