package types

import (
	"context"

	"google.golang.org/grpc"
)

// EventService names.
const (
	EventServiceName     = "devicealert.v1.EventService"
	MethodPublishMessage = "/devicealert.v1.EventService/PublishMessage"
	MethodTick           = "/devicealert.v1.EventService/Tick"
)

// EventServiceServer is the server API for the EventService.
type EventServiceServer interface {
	PublishMessage(context.Context, *MessageEvent) (*EventResult, error)
	Tick(context.Context, *TickRequest) (*EventResult, error)
}

// RegisterEventServiceServer registers srv on s.
func RegisterEventServiceServer(s grpc.ServiceRegistrar, srv EventServiceServer) {
	s.RegisterService(&EventServiceDesc, srv)
}

// EventServiceDesc describes the EventService for grpc.Server.
var EventServiceDesc = grpc.ServiceDesc{
	ServiceName: EventServiceName,
	HandlerType: (*EventServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PublishMessage", Handler: publishMessageHandler},
		{MethodName: "Tick", Handler: tickHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "devicealert/v1/events.json",
}

func publishMessageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(MessageEvent)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventServiceServer).PublishMessage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPublishMessage}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventServiceServer).PublishMessage(ctx, req.(*MessageEvent))
	}
	return interceptor(ctx, in, info, handler)
}

func tickHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TickRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventServiceServer).Tick(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodTick}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventServiceServer).Tick(ctx, req.(*TickRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// EventServiceClient calls the EventService using the JSON codec.
type EventServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewEventServiceClient wraps a client connection.
func NewEventServiceClient(cc grpc.ClientConnInterface) *EventServiceClient {
	return &EventServiceClient{cc: cc}
}

// PublishMessage submits a channel-message event.
func (c *EventServiceClient) PublishMessage(ctx context.Context, in *MessageEvent, opts ...grpc.CallOption) (*EventResult, error) {
	out := new(EventResult)
	if err := c.cc.Invoke(ctx, MethodPublishMessage, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Tick requests a scheduled evaluation of one device.
func (c *EventServiceClient) Tick(ctx context.Context, in *TickRequest, opts ...grpc.CallOption) (*EventResult, error) {
	out := new(EventResult)
	if err := c.cc.Invoke(ctx, MethodTick, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
