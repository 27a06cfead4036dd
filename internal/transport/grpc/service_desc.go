package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Requests and responses are
// google.protobuf.Struct documents so clients need no generated stubs.
const ServiceName = "nailsdash.appointments.v1.AppointmentService"

type AppointmentServiceServer interface {
	CheckConflict(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RescheduleAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TransitionAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AvailableSlots(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StoreStats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAppointment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCustomerAppointments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTechnicianAppointments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListStoreAppointments(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(AppointmentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodHandler(name string, call unaryMethod) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AppointmentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AppointmentServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var AppointmentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AppointmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckConflict", Handler: methodHandler("CheckConflict", AppointmentServiceServer.CheckConflict)},
		{MethodName: "CreateAppointment", Handler: methodHandler("CreateAppointment", AppointmentServiceServer.CreateAppointment)},
		{MethodName: "RescheduleAppointment", Handler: methodHandler("RescheduleAppointment", AppointmentServiceServer.RescheduleAppointment)},
		{MethodName: "TransitionAppointment", Handler: methodHandler("TransitionAppointment", AppointmentServiceServer.TransitionAppointment)},
		{MethodName: "AvailableSlots", Handler: methodHandler("AvailableSlots", AppointmentServiceServer.AvailableSlots)},
		{MethodName: "StoreStats", Handler: methodHandler("StoreStats", AppointmentServiceServer.StoreStats)},
		{MethodName: "GetAppointment", Handler: methodHandler("GetAppointment", AppointmentServiceServer.GetAppointment)},
		{MethodName: "ListCustomerAppointments", Handler: methodHandler("ListCustomerAppointments", AppointmentServiceServer.ListCustomerAppointments)},
		{MethodName: "ListTechnicianAppointments", Handler: methodHandler("ListTechnicianAppointments", AppointmentServiceServer.ListTechnicianAppointments)},
		{MethodName: "ListStoreAppointments", Handler: methodHandler("ListStoreAppointments", AppointmentServiceServer.ListStoreAppointments)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nailsdash/appointments/v1/appointments.proto",
}

func RegisterAppointmentServiceServer(s grpc.ServiceRegistrar, srv AppointmentServiceServer) {
	s.RegisterService(&AppointmentServiceDesc, srv)
}
