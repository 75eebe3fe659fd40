package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialFeed(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/api/stream", nil)
	if err != nil {
		t.Fatalf("dialing live feed: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, p, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}

	var m map[string]any
	if err = json.Unmarshal(p, &m); err != nil {
		t.Fatalf("decoding message %s: %v", p, err)
	}
	return m
}

func TestHub_LiveFeed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	ts := newTestServer(t, WithHub(hub))
	conn := dialFeed(t, ts.URL)

	welcome := readMessage(t, conn)
	if welcome["type"] != MessageWelcome {
		t.Fatalf("expected a welcome message, got %v", welcome)
	}
	info, _ := welcome["data"].(map[string]any)
	if info["client_id"] == "" || info["client_id"] == nil {
		t.Errorf("expected a client ID, got %v", welcome["data"])
	}
	connectedAt, _ := info["connected_at"].(string)
	if at, err := time.Parse(time.RFC3339Nano, connectedAt); err != nil || time.Since(at) > time.Minute {
		t.Errorf("unexpected connection time %q (%v)", connectedAt, err)
	}
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("expected 1 client, got %d", n)
	}

	id := startFlight(t, ts)
	started := readMessage(t, conn)
	if started["type"] != MessageFlightStarted || started["flight_id"] != float64(id) {
		t.Errorf("unexpected message %v", started)
	}

	if status := do(t, http.MethodPost, ts.URL+"/api/flights/"+itoa(id)+"/log_data", logBody, nil); status != http.StatusCreated {
		t.Fatalf("logging data: status %d", status)
	}
	record := readMessage(t, conn)
	if record["type"] != MessageRecord {
		t.Fatalf("expected a record message, got %v", record)
	}
	data, _ := record["data"].(map[string]any)
	if data["reading_id"] == nil || data["record"] == nil {
		t.Errorf("unexpected record payload %v", data)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","id":"42"}`)); err != nil {
		t.Fatalf("sending ping: %v", err)
	}
	pong := readMessage(t, conn)
	if pong["type"] != MessagePong {
		t.Fatalf("expected a pong, got %v", pong)
	}
	if data, _ := pong["data"].(map[string]any); data["id"] != "42" {
		t.Errorf("unexpected pong payload %v", pong["data"])
	}
}

func TestHub_ShutdownDisconnectsClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	ts := newTestServer(t, WithHub(hub))
	conn := dialFeed(t, ts.URL)
	readMessage(t, conn)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("hub did not stop")
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Errorf("expected the connection to be closed")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Errorf("expected no clients, got %d", n)
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	hub := NewHub()

	for i := 0; i < broadcastBufferSize; i++ {
		if err := hub.Publish(Message{Type: MessageRecord}); err != nil {
			t.Fatalf("publishing message %d: %v", i, err)
		}
	}
	if err := hub.Publish(Message{Type: MessageRecord}); err == nil {
		t.Errorf("expected a full buffer error")
	}
}
