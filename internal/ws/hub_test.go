package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/devicealert/internal/alerts"
	wsHub "github.com/obsidianstack/devicealert/internal/ws"
)

// --- helpers ----------------------------------------------------------------

func startHub(t *testing.T) (wsURL string, hub *wsHub.Hub, cancel func()) {
	t.Helper()

	hub = wsHub.New()
	ctx, cancelFn := context.WithCancel(context.Background())

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	go hub.Run(ctx)

	t.Cleanup(func() {
		cancelFn()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, cancelFn
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitCount(t *testing.T, hub *wsHub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Count: got %d, want %d", hub.Count(), want)
}

func readMessage(t *testing.T, conn *websocket.Conn) wsHub.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var m wsHub.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

func record(device, title string) alerts.Record {
	return alerts.Record{
		ID:        "r-" + title,
		DeviceID:  device,
		Trigger:   "tick",
		Kind:      alerts.KindOffline,
		Title:     title,
		Delivered: true,
		At:        time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

// --- tests ------------------------------------------------------------------

func TestHub_ObserveBroadcastsAlert(t *testing.T) {
	url, hub, _ := startHub(t)
	conn := dial(t, url)
	waitCount(t, hub, 1)

	hub.Observe(record("dev-1", "Device Offline"))

	m := readMessage(t, conn)
	if m.Event != "alert" {
		t.Errorf("event: got %q, want alert", m.Event)
	}
	if m.Data.DeviceID != "dev-1" || m.Data.Title != "Device Offline" {
		t.Errorf("data: got %+v", m.Data)
	}
}

func TestHub_AllClientsReceive(t *testing.T) {
	url, hub, _ := startHub(t)
	conns := []*websocket.Conn{dial(t, url), dial(t, url), dial(t, url)}
	waitCount(t, hub, 3)

	hub.Observe(record("dev-1", "x"))

	for i, c := range conns {
		if m := readMessage(t, c); m.Data.ID != "r-x" {
			t.Errorf("client %d: id %q", i, m.Data.ID)
		}
	}
}

func TestHub_DeviceFilter(t *testing.T) {
	url, hub, _ := startHub(t)
	conn := dial(t, url+"?device=dev-2")
	waitCount(t, hub, 1)

	hub.Observe(record("dev-1", "skipped"))
	hub.Observe(record("dev-2", "kept"))

	if m := readMessage(t, conn); m.Data.Title != "kept" {
		t.Errorf("title: got %q, want kept", m.Data.Title)
	}
}

func TestHub_CountDecreasesOnDisconnect(t *testing.T) {
	url, hub, _ := startHub(t)
	conn := dial(t, url)
	waitCount(t, hub, 1)

	conn.Close()
	waitCount(t, hub, 0)
}

func TestHub_CancelClosesConnections(t *testing.T) {
	url, hub, cancel := startHub(t)
	dial(t, url)
	waitCount(t, hub, 1)

	cancel()
	waitCount(t, hub, 0)
}

func TestHub_ObserveWithoutClients(t *testing.T) {
	hub := wsHub.New()
	hub.Observe(record("dev-1", "nobody"))
	if hub.Count() != 0 {
		t.Errorf("Count: got %d", hub.Count())
	}
}

func TestHub_NonWebSocketRequest_Returns400(t *testing.T) {
	hub := wsHub.New()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
