// Package api implements the daemon's gRPC control service. The service is
// registered by hand and every request and response is a
// google.protobuf.Struct, so clients need no generated stubs.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "inbox.v1.ControlService"

// Method names.
const (
	MethodGetStatus            = "GetStatus"
	MethodConnect              = "Connect"
	MethodDisconnect           = "Disconnect"
	MethodLogin                = "Login"
	MethodSendMessage          = "SendMessage"
	MethodListMessages         = "ListMessages"
	MethodListConversations    = "ListConversations"
	MethodSearchMessages       = "SearchMessages"
	MethodGetUnreadCount       = "GetUnreadCount"
	MethodGetLimits            = "GetLimits"
	MethodMarkConversationRead = "MarkConversationRead"
	MethodListNotifications    = "ListNotifications"
	MethodMarkNotificationRead = "MarkNotificationRead"
	MethodWatchEvents          = "WatchEvents"
)

// FullMethod returns the gRPC path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ControlService_WatchEventsServer is the server side of the event stream.
type ControlService_WatchEventsServer = grpc.ServerStreamingServer[structpb.Struct]

// ControlServiceServer is the server API for the control service.
type ControlServiceServer interface {
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Connect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListConversations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUnreadCount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLimits(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkConversationRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNotifications(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkNotificationRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, ControlService_WatchEventsServer) error
}

// Control bundles the per-area services into one ControlServiceServer.
type Control struct {
	*SessionService
	*MessageService
	*NotificationService
	*EventService
}

var _ ControlServiceServer = (*Control)(nil)

// Register adds the control service to s.
func Register(s grpc.ServiceRegistrar, srv ControlServiceServer) {
	s.RegisterService(&ControlService_ServiceDesc, srv)
}

type unaryCall func(ControlServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ControlServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ControlServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServiceServer).WatchEvents(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ControlService_ServiceDesc describes the control service for registration
// and for client streams.
var ControlService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodGetStatus, ControlServiceServer.GetStatus),
		unary(MethodConnect, ControlServiceServer.Connect),
		unary(MethodDisconnect, ControlServiceServer.Disconnect),
		unary(MethodLogin, ControlServiceServer.Login),
		unary(MethodSendMessage, ControlServiceServer.SendMessage),
		unary(MethodListMessages, ControlServiceServer.ListMessages),
		unary(MethodListConversations, ControlServiceServer.ListConversations),
		unary(MethodSearchMessages, ControlServiceServer.SearchMessages),
		unary(MethodGetUnreadCount, ControlServiceServer.GetUnreadCount),
		unary(MethodGetLimits, ControlServiceServer.GetLimits),
		unary(MethodMarkConversationRead, ControlServiceServer.MarkConversationRead),
		unary(MethodListNotifications, ControlServiceServer.ListNotifications),
		unary(MethodMarkNotificationRead, ControlServiceServer.MarkNotificationRead),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodWatchEvents,
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "inbox/v1/control.proto",
}
