// Package receiver implements the gRPC EventService. Channel-message events
// and manual ticks arrive here and are handed to the alert engine;
// authentication is enforced by the server interceptor before a handler runs.
package receiver

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/obsidianstack/devicealert/internal/alerts"
	"github.com/obsidianstack/devicealert/pkg/types"
)

// Engine is the part of the alert engine the receiver drives.
type Engine interface {
	HandleMessage(ctx context.Context, ev types.MessageEvent) alerts.Report
	HandleTick(ctx context.Context, deviceID string) alerts.Report
}

// Receiver implements types.EventServiceServer.
type Receiver struct {
	engine Engine
}

// New creates a Receiver that forwards events to engine.
func New(engine Engine) *Receiver {
	return &Receiver{engine: engine}
}

// PublishMessage evaluates the channel alert for one message.
func (r *Receiver) PublishMessage(ctx context.Context, ev *types.MessageEvent) (*types.EventResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rep := r.engine.HandleMessage(ctx, *ev)
	slog.Debug("receiver: message handled",
		"device", ev.DeviceID,
		"channel", ev.ChannelName,
		"sent", rep.Sent,
		"failed", rep.Failed,
	)
	res := rep.Result()
	return &res, nil
}

// Tick runs the scheduled checks for one device immediately.
func (r *Receiver) Tick(ctx context.Context, req *types.TickRequest) (*types.EventResult, error) {
	if req.DeviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}

	rep := r.engine.HandleTick(ctx, req.DeviceID)
	slog.Debug("receiver: tick handled",
		"device", req.DeviceID,
		"sent", rep.Sent,
		"skipped", rep.Skipped,
	)
	res := rep.Result()
	return &res, nil
}
