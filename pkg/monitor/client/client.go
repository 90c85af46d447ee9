package client

import (
	"context"
	"net/url"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/helvethink/dora-exporter/pkg/monitor"
)

// Client talks to the monitoring server of a running exporter.
type Client struct {
	conn grpc.ClientConnInterface
}

// Target turns the internal monitoring listener address into a gRPC target.
func Target(endpoint *url.URL) string {
	if endpoint.Scheme == "unix" {
		return "unix://" + endpoint.Path
	}

	return endpoint.Host
}

// NewClient creates a new gRPC client for the monitoring server.
func NewClient(endpoint *url.URL) (*Client, error) {
	log.WithField("endpoint", endpoint.String()).Debug("establishing gRPC connection to the server..")

	conn, err := grpc.NewClient(
		Target(endpoint),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}

	return NewClientFromConn(conn), nil
}

// NewClientFromConn wraps an existing connection.
func NewClientFromConn(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// GetConfig returns the configuration of the exporter, secrets masked.
func (c *Client) GetConfig(ctx context.Context) (string, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, monitor.MethodGetConfig, &emptypb.Empty{}, out); err != nil {
		return "", err
	}

	return out.GetFields()[monitor.ConfigContentFieldName].GetStringValue(), nil
}

// TelemetryStream receives the telemetry snapshots sent by the server.
type TelemetryStream struct {
	stream grpc.ClientStream
}

// Recv blocks until the next snapshot.
func (s *TelemetryStream) Recv() (monitor.Telemetry, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return monitor.Telemetry{}, err
	}

	return monitor.TelemetryFromStruct(m)
}

// GetTelemetry subscribes to the telemetry snapshots of the exporter.
func (c *Client) GetTelemetry(ctx context.Context) (*TelemetryStream, error) {
	stream, err := c.conn.NewStream(ctx, &monitor.ServiceDesc.Streams[0], monitor.MethodGetTelemetry)
	if err != nil {
		return nil, err
	}

	if err = stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}

	if err = stream.CloseSend(); err != nil {
		return nil, err
	}

	return &TelemetryStream{stream: stream}, nil
}
