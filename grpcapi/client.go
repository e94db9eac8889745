package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dailyux/eldercare-go/adapter/codec"
)

// Client calls a remote Assistant service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a plaintext client for target. Assistant calls use the JSON
// codec; other services on the connection keep protobuf.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Conn returns the underlying connection.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Chat runs one turn remotely.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatReply, error) {
	out := new(ChatReply)
	if err := c.conn.Invoke(ctx, chatMethod, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// ChatStream runs one turn remotely and calls fn for every envelope up to
// and including stream_end.
func (c *Client) ChatStream(ctx context.Context, req *ChatRequest, fn func(*codec.Envelope) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], chatStreamMethod, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		env := new(codec.Envelope)
		if err := stream.RecvMsg(env); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(env); err != nil {
			return err
		}
	}
}
