// Package ctl is the control-plane client used by inboxctl.
package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/matheus3301/inbox/internal/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client wraps the gRPC connection to the daemon.
type Client struct {
	conn *grpc.ClientConn
}

// New dials the daemon's Unix domain socket.
func New(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary control method. req may be nil.
func (c *Client) Call(ctx context.Context, method string, req map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Watch streams events under namespace to fn until ctx ends, the stream
// closes or fn returns an error.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(map[string]any) error) error {
	desc := &api.ControlService_ServiceDesc.Streams[0]
	cs, err := c.conn.NewStream(ctx, desc, api.FullMethod(api.MethodWatchEvents))
	if err != nil {
		return err
	}
	stream := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: cs}

	req, err := structpb.NewStruct(map[string]any{"namespace": namespace})
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
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(evt.AsMap()); err != nil {
			return err
		}
	}
}
