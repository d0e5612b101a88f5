package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"

	"google.golang.org/grpc"

	"github.com/obsidianstack/devicealert/pkg/types"
)

type echoServer struct {
	last *types.MessageEvent
}

func (s *echoServer) PublishMessage(_ context.Context, ev *types.MessageEvent) (*types.EventResult, error) {
	s.last = ev
	return &types.EventResult{DeviceID: ev.DeviceID, Trigger: types.TriggerMessage, Sent: 1}, nil
}

func (s *echoServer) Tick(_ context.Context, req *types.TickRequest) (*types.EventResult, error) {
	return &types.EventResult{DeviceID: req.DeviceID, Trigger: types.TriggerTick, Failed: 1}, nil
}

func serve(t *testing.T, srv types.EventServiceServer) string {
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

func TestRun_Message(t *testing.T) {
	srv := &echoServer{}
	addr := serve(t, srv)

	var out, errOut bytes.Buffer
	code := run([]string{"-endpoint", addr, "message", "-device", "d1", "-channel", "alarms", "-data", `{"t":1}`}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit: got %d (%s)", code, errOut.String())
	}

	var res types.EventResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output: %v (%s)", err, out.String())
	}
	if res.DeviceID != "d1" || res.Sent != 1 {
		t.Errorf("result: %+v", res)
	}
	if srv.last == nil || srv.last.ChannelName != "alarms" {
		t.Fatalf("server saw: %+v", srv.last)
	}
	if m, ok := srv.last.Data.(map[string]any); !ok || m["t"] != 1.0 {
		t.Errorf("data: %#v", srv.last.Data)
	}
}

func TestRun_TickFailureExitCode(t *testing.T) {
	addr := serve(t, &echoServer{})
	var out, errOut bytes.Buffer
	if code := run([]string{"-endpoint", addr, "tick", "-device", "d1"}, &out, &errOut); code != 1 {
		t.Errorf("exit: got %d, want 1 when a delivery failed", code)
	}
	if !strings.Contains(out.String(), `"trigger": "tick"`) {
		t.Errorf("output: %s", out.String())
	}
}

func TestRun_UsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"bogus"},
		{"tick"},
		{"message", "-device", "d1"},
	}
	for _, args := range cases {
		var out, errOut bytes.Buffer
		if code := run(args, &out, &errOut); code != 2 {
			t.Errorf("%v: exit got %d, want 2", args, code)
		}
	}
}

func TestPayload(t *testing.T) {
	if payload("") != nil {
		t.Error("empty should be nil")
	}
	if payload("hello") != "hello" {
		t.Error("raw string passthrough")
	}
	if payload("[1,2]").([]any)[1] != 2.0 {
		t.Error("json array")
	}
}
