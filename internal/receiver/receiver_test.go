package receiver_test

import (
	"context"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/devicealert/internal/alerts"
	"github.com/obsidianstack/devicealert/internal/auth"
	"github.com/obsidianstack/devicealert/internal/receiver"
	"github.com/obsidianstack/devicealert/pkg/types"
)

// recordingEngine captures the calls it receives.
type recordingEngine struct {
	mu       sync.Mutex
	messages []types.MessageEvent
	ticks    []string
}

func (e *recordingEngine) HandleMessage(_ context.Context, ev types.MessageEvent) alerts.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, ev)
	return alerts.Report{DeviceID: ev.DeviceID, Trigger: types.TriggerMessage, Sent: 1}
}

func (e *recordingEngine) HandleTick(_ context.Context, id string) alerts.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ticks = append(e.ticks, id)
	return alerts.Report{DeviceID: id, Trigger: types.TriggerTick, Skipped: 2}
}

// startServer starts a gRPC server with the given interceptor on a random
// port and returns a connected client.
func startServer(t *testing.T, interceptor grpc.UnaryServerInterceptor) (*types.EventServiceClient, *recordingEngine) {
	t.Helper()

	eng := &recordingEngine{}
	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	types.RegisterEventServiceServer(srv, receiver.New(eng))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go srv.Serve(lis) //nolint:errcheck

	t.Cleanup(func() {
		srv.Stop()
		lis.Close()
	})

	conn, err := grpc.Dial(lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	) //nolint:staticcheck
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return types.NewEventServiceClient(conn), eng
}

// allowAll is a no-op interceptor that passes every call through.
func allowAll(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	return handler(ctx, req)
}

func TestPublishMessage_ForwardsEvent(t *testing.T) {
	client, eng := startServer(t, allowAll)

	res, err := client.PublishMessage(context.Background(), &types.MessageEvent{
		DeviceID:    "dev-1",
		ChannelName: "events",
		Data:        map[string]any{"x": 1},
	})
	if err != nil {
		t.Fatalf("PublishMessage: %v", err)
	}
	if res.Sent != 1 || res.DeviceID != "dev-1" || res.Trigger != types.TriggerMessage {
		t.Errorf("result: got %+v", res)
	}

	if len(eng.messages) != 1 {
		t.Fatalf("engine messages: got %d, want 1", len(eng.messages))
	}
	data, ok := eng.messages[0].Data.(map[string]any)
	if !ok || data["x"] != float64(1) {
		t.Errorf("data: got %#v", eng.messages[0].Data)
	}
}

func TestPublishMessage_MissingChannel_InvalidArgument(t *testing.T) {
	client, eng := startServer(t, allowAll)
	_, err := client.PublishMessage(context.Background(), &types.MessageEvent{DeviceID: "dev-1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code: got %v, want InvalidArgument", status.Code(err))
	}
	if len(eng.messages) != 0 {
		t.Error("invalid event reached the engine")
	}
}

func TestTick_ForwardsDevice(t *testing.T) {
	client, eng := startServer(t, allowAll)
	res, err := client.Tick(context.Background(), &types.TickRequest{DeviceID: "dev-7"})
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res.Skipped != 2 || len(eng.ticks) != 1 || eng.ticks[0] != "dev-7" {
		t.Errorf("result %+v, ticks %v", res, eng.ticks)
	}
}

func TestTick_MissingDevice_InvalidArgument(t *testing.T) {
	client, _ := startServer(t, allowAll)
	_, err := client.Tick(context.Background(), &types.TickRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code: got %v, want InvalidArgument", status.Code(err))
	}
}

func TestAuth_RejectsWrongKey(t *testing.T) {
	client, eng := startServer(t, auth.New("apikey", "x-api-key", "secret").UnaryInterceptor())

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "wrong")
	_, err := client.Tick(ctx, &types.TickRequest{DeviceID: "dev-1"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code: got %v, want Unauthenticated", status.Code(err))
	}

	ctx = metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "secret")
	if _, err := client.Tick(ctx, &types.TickRequest{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("Tick with key: %v", err)
	}
	if len(eng.ticks) != 1 {
		t.Errorf("ticks: got %d, want 1", len(eng.ticks))
	}
}
