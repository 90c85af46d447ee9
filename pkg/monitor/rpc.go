package monitor

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Fully qualified gRPC names of the monitoring service.
const (
	ServiceName            = "dora.monitor.Monitor"
	MethodGetConfig        = "/" + ServiceName + "/GetConfig"
	MethodGetTelemetry     = "/" + ServiceName + "/GetTelemetry"
	ConfigContentFieldName = "content"
)

// MonitorServer is the server API of the monitoring service. Messages are protobuf well known types.
type MonitorServer interface {
	// GetConfig returns the running configuration, secrets masked, under the "content" field.
	GetConfig(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)

	// GetTelemetry streams a Telemetry snapshot every second.
	GetTelemetry(in *emptypb.Empty, stream TelemetryStream) error
}

// TelemetryStream is the server side of the GetTelemetry stream.
type TelemetryStream interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type telemetryStream struct {
	grpc.ServerStream
}

func (s *telemetryStream) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

// ServiceDesc describes the monitoring service to gRPC.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetConfig",
			Handler:    getConfigHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetTelemetry",
			Handler:       getTelemetryHandler,
			ServerStreams: true,
		},
	},
	Metadata: "monitor.proto",
}

// RegisterMonitorServer registers srv on s.
func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func getConfigHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(MonitorServer).GetConfig(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: MethodGetConfig,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(MonitorServer).GetConfig(ctx, req.(*emptypb.Empty))
	}

	return interceptor(ctx, in, info, handler)
}

func getTelemetryHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(MonitorServer).GetTelemetry(in, &telemetryStream{stream})
}
