package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/devicealert/internal/alerts"
)

// serverConn returns the server side of a live WebSocket connection. No
// pumps run on it, so clients built from it never drain their buffers.
func serverConn(t *testing.T) *websocket.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	peer, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	select {
	case conn := <-conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server never upgraded")
		return nil
	}
}

func stalled(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, 1)}
}

func TestObserve_DropsStalledClient(t *testing.T) {
	h := New()
	if !h.register(stalled(serverConn(t))) {
		t.Fatal("register refused")
	}

	rec := alerts.Record{DeviceID: "dev-1"}
	h.Observe(rec) // fills the buffer
	h.Observe(rec) // overflows it

	if n := h.Count(); n != 0 {
		t.Errorf("Count: got %d, want 0", n)
	}
}

func TestObserve_ConcurrentWithDisconnects(t *testing.T) {
	h := New()
	conn := serverConn(t)
	rec := alerts.Record{DeviceID: "dev-1"}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				h.Observe(rec)
			}
		}()
	}

	// Clients come and go while records are being broadcast. The ones left
	// registered stall and get dropped by Observe.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			c := stalled(conn)
			h.register(c)
			if j%2 == 0 {
				h.unregister(c)
			}
		}
	}()

	wg.Wait()
	h.closeAll()
	h.Observe(rec)

	if n := h.Count(); n != 0 {
		t.Errorf("Count after closeAll: got %d", n)
	}
}
