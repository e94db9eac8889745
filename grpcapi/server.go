package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/dailyux/eldercare-go/adapter/codec"
	"github.com/dailyux/eldercare-go/assistant"
	"github.com/dailyux/eldercare-go/safety"
)

// DefaultAddr is the gRPC listen address.
const DefaultAddr = ":9501"

// Server implements AssistantServer over an assistant.Service.
type Server struct {
	assistant *assistant.Service
	grpc      *grpc.Server
	health    *health.Server
	logger    *slog.Logger
}

var _ AssistantServer = (*Server)(nil)

// NewServer creates a gRPC server with the Assistant and health services
// registered.
func NewServer(svc *assistant.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		assistant: svc,
		grpc:      grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler())),
		health:    health.NewServer(),
		logger:    logger,
	}
	RegisterAssistantServer(s.grpc, s)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	state := healthpb.HealthCheckResponse_SERVING
	if svc == nil || !svc.Available() {
		state = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", state)
	s.health.SetServingStatus(ServiceName, state)
	return s
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("grpc server listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("grpc server stopped")
	if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Chat runs one turn.
func (s *Server) Chat(ctx context.Context, req *ChatRequest) (*ChatReply, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	sessionID := s.session(req)
	reply, err := s.assistant.Chat(ctx, sessionID, req.Content)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ChatReply{
		RequestID: uuid.New().String(),
		SessionID: sessionID,
		Message:   codec.EncodeMessage(reply),
	}, nil
}

// ChatStream runs one turn and streams its event envelopes, ending with a
// stream_end envelope.
func (s *Server) ChatStream(req *ChatRequest, stream ChatStreamServer) error {
	if err := s.check(req); err != nil {
		return err
	}
	ctx := stream.Context()
	sessionID := s.session(req)
	requestID := uuid.New().String()

	messages, errs := s.assistant.ChatStream(ctx, sessionID, req.Content)
	for msg := range messages {
		event := msg.MetadataString("event")
		if event == "" {
			event = "message"
		}
		env := codec.CreateEventEnvelope(requestID, event, map[string]interface{}{
			"session_id": sessionID,
			"message":    codec.EncodeMessage(msg),
		})
		if err := stream.Send(env); err != nil {
			for range messages {
			}
			return err
		}
	}
	if err := <-errs; err != nil {
		return toStatus(err)
	}
	return stream.Send(codec.CreateStreamEndEnvelope(requestID))
}

func (s *Server) check(req *ChatRequest) error {
	if s.assistant == nil || !s.assistant.Available() {
		return status.Error(codes.Unavailable, assistant.UnavailableMessage)
	}
	if req == nil {
		return status.Error(codes.InvalidArgument, "request is required")
	}
	return nil
}

func (s *Server) session(req *ChatRequest) string {
	if req.SessionID != "" {
		return req.SessionID
	}
	return s.assistant.NewSession()
}

// toStatus maps service errors to gRPC status errors.
func toStatus(err error) error {
	switch {
	case errors.Is(err, assistant.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, assistant.ErrEmptyMessage), errors.Is(err, safety.ErrRejected):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
