package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mealrota/mealrota/internal/bus"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func startServer(t *testing.T, b *bus.Bus, status StatusFunc) *Server {
	t.Helper()
	s := New(0, status, testLogger())
	if err := s.Start(b); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	time.Sleep(50 * time.Millisecond)
	return s
}

func TestStatusEndpoint(t *testing.T) {
	status := func(ctx context.Context) (Status, error) {
		return Status{Online: true, PendingChanges: 4, DeadLetters: 1}, nil
	}
	s := startServer(t, nil, status)

	resp, err := http.Get("http://" + s.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var got Status
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if !got.Online || got.PendingChanges != 4 || got.DeadLetters != 1 {
		t.Errorf("status = %+v", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := startServer(t, nil, nil)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode health: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

func TestWebSocket_ReceivesBusEvents(t *testing.T) {
	b := bus.New(testLogger())
	s := startServer(t, b, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Let the server register the client before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", s.ClientCount())
	}

	b.Publish(bus.EventSyncCompleted, map[string]any{"synced": 2})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev.Event != bus.EventSyncCompleted {
		t.Errorf("event = %q, want %q", ev.Event, bus.EventSyncCompleted)
	}
	if ev.Timestamp.IsZero() {
		t.Error("event timestamp not set")
	}
}
