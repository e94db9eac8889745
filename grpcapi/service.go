// Package grpcapi serves the assistant over gRPC. The service is described
// by hand and carried with a JSON codec; the standard health service runs
// alongside it.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"

	"github.com/dailyux/eldercare-go/adapter/codec"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dailycare.v1.Assistant"

const (
	chatMethod       = "/" + ServiceName + "/Chat"
	chatStreamMethod = "/" + ServiceName + "/ChatStream"
)

// ChatRequest starts a turn. An empty SessionID opens a new session.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

// ChatReply is the answer to a unary Chat call.
type ChatReply struct {
	RequestID string            `json:"request_id"`
	SessionID string            `json:"session_id"`
	Message   codec.MessageData `json:"message"`
}

// AssistantServer is the server API for the Assistant service.
type AssistantServer interface {
	Chat(context.Context, *ChatRequest) (*ChatReply, error)
	ChatStream(*ChatRequest, ChatStreamServer) error
}

// ChatStreamServer sends the envelopes of a streamed turn.
type ChatStreamServer interface {
	Send(*codec.Envelope) error
	grpc.ServerStream
}

type chatStreamServer struct {
	grpc.ServerStream
}

func (x *chatStreamServer) Send(env *codec.Envelope) error {
	return x.ServerStream.SendMsg(env)
}

func chatHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ChatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AssistantServer).Chat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: chatMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AssistantServer).Chat(ctx, req.(*ChatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func chatStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(ChatRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AssistantServer).ChatStream(in, &chatStreamServer{stream})
}

// ServiceDesc describes the Assistant service to grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Chat", Handler: chatHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ChatStream", Handler: chatStreamHandler, ServerStreams: true},
	},
	Metadata: "dailycare/v1/assistant",
}

// RegisterAssistantServer registers srv with s.
func RegisterAssistantServer(s grpc.ServiceRegistrar, srv AssistantServer) {
	s.RegisterService(&ServiceDesc, srv)
}
