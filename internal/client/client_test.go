package client

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/devicealert/pkg/types"
)

// flakyServer fails the first failures calls with code, then succeeds.
type flakyServer struct {
	mu       sync.Mutex
	failures int
	code     codes.Code
	calls    int
	keys     []string
}

func (s *flakyServer) record(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		s.keys = append(s.keys, md.Get("x-api-key")...)
	}
	if s.calls <= s.failures {
		return status.Error(s.code, "nope")
	}
	return nil
}

func (s *flakyServer) PublishMessage(ctx context.Context, ev *types.MessageEvent) (*types.EventResult, error) {
	if err := s.record(ctx); err != nil {
		return nil, err
	}
	return &types.EventResult{DeviceID: ev.DeviceID, Trigger: types.TriggerMessage, Sent: 1}, nil
}

func (s *flakyServer) Tick(ctx context.Context, req *types.TickRequest) (*types.EventResult, error) {
	if err := s.record(ctx); err != nil {
		return nil, err
	}
	return &types.EventResult{DeviceID: req.DeviceID, Trigger: types.TriggerTick, Skipped: 1}, nil
}

func (s *flakyServer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func startServer(t *testing.T, srv *flakyServer) string {
	t.Helper()
	gs := grpc.NewServer()
	types.RegisterEventServiceServer(gs, srv)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go gs.Serve(lis) //nolint:errcheck
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func dial(t *testing.T, opts Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), opts)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPublishMessage_Succeeds(t *testing.T) {
	srv := &flakyServer{}
	c := dial(t, Options{Endpoint: startServer(t, srv), APIKey: "k1"})

	res, err := c.PublishMessage(context.Background(), types.MessageEvent{DeviceID: "d1", ChannelName: "c", Data: "x"})
	if err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}
	if res.DeviceID != "d1" || res.Sent != 1 {
		t.Errorf("result: %+v", res)
	}
	if len(srv.keys) != 1 || srv.keys[0] != "k1" {
		t.Errorf("api key metadata: %v", srv.keys)
	}
}

func TestTick_RetriesTransientErrors(t *testing.T) {
	srv := &flakyServer{failures: 2, code: codes.Unavailable}
	c := dial(t, Options{Endpoint: startServer(t, srv), Retries: 3, Backoff: time.Millisecond})

	res, err := c.Tick(context.Background(), "d2")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Skipped != 1 {
		t.Errorf("result: %+v", res)
	}
	if n := srv.callCount(); n != 3 {
		t.Errorf("calls: got %d, want 3", n)
	}
}

func TestTick_GivesUpAfterRetries(t *testing.T) {
	srv := &flakyServer{failures: 10, code: codes.Unavailable}
	c := dial(t, Options{Endpoint: startServer(t, srv), Retries: 1, Backoff: time.Millisecond})

	_, err := c.Tick(context.Background(), "d2")
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("err: got %v, want Unavailable", err)
	}
	if n := srv.callCount(); n != 2 {
		t.Errorf("calls: got %d, want 2", n)
	}
}

func TestPublishMessage_PermanentErrorNotRetried(t *testing.T) {
	srv := &flakyServer{failures: 1, code: codes.Unauthenticated}
	c := dial(t, Options{Endpoint: startServer(t, srv), Retries: 5, Backoff: time.Millisecond})

	_, err := c.PublishMessage(context.Background(), types.MessageEvent{DeviceID: "d", ChannelName: "c"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("err: got %v", err)
	}
	if n := srv.callCount(); n != 1 {
		t.Errorf("calls: got %d, want 1", n)
	}
}

func TestIsPermanentError(t *testing.T) {
	cases := map[codes.Code]bool{
		codes.InvalidArgument:  true,
		codes.Unauthenticated:  true,
		codes.PermissionDenied: true,
		codes.Unavailable:      false,
		codes.DeadlineExceeded: false,
	}
	for code, want := range cases {
		if got := isPermanentError(status.Error(code, "x")); got != want {
			t.Errorf("%v: got %v, want %v", code, got, want)
		}
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	b := newBackoff(time.Second)
	for i := 0; i < 10; i++ {
		d := b.next()
		if d < 0 || d > backoffMax+backoffMax/4 {
			t.Fatalf("step %d: %v out of range", i, d)
		}
	}
	if b.current != backoffMax {
		t.Errorf("current: got %v, want cap %v", b.current, backoffMax)
	}
}

func TestDial_Validation(t *testing.T) {
	if _, err := Dial(context.Background(), Options{}); err == nil {
		t.Error("missing endpoint: expected error")
	}

	bad := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(bad, []byte("not a cert"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Dial(context.Background(), Options{Endpoint: "localhost:1", TLS: true, CAFile: bad}); err == nil {
		t.Error("invalid CA: expected error")
	}
}
