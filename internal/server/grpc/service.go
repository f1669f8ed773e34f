package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "vitaltags.owner.OwnerService"

const (
	MethodCreateProfile    = "CreateProfile"
	MethodSealTierC        = "SealTierC"
	MethodAddTerm          = "AddTerm"
	MethodUpdateTerm       = "UpdateTerm"
	MethodRemoveTerm       = "RemoveTerm"
	MethodListTerms        = "ListTerms"
	MethodReinstate        = "Reinstate"
	MethodAuditTrail       = "AuditTrail"
	MethodExportData       = "ExportData"
	MethodSendAccessDigest = "SendAccessDigest"
	MethodPing             = "Ping"
)

// FullMethod returns the gRPC path of an OwnerService method.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// OwnerServiceServer is the owner API. Every message is a
// google.protobuf.Struct carrying a JSON object.
type OwnerServiceServer interface {
	CreateProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SealTierC(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddTerm(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateTerm(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveTerm(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTerms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reinstate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AuditTrail(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExportData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendAccessDigest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(OwnerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OwnerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OwnerServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var OwnerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OwnerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodCreateProfile, OwnerServiceServer.CreateProfile),
		unary(MethodSealTierC, OwnerServiceServer.SealTierC),
		unary(MethodAddTerm, OwnerServiceServer.AddTerm),
		unary(MethodUpdateTerm, OwnerServiceServer.UpdateTerm),
		unary(MethodRemoveTerm, OwnerServiceServer.RemoveTerm),
		unary(MethodListTerms, OwnerServiceServer.ListTerms),
		unary(MethodReinstate, OwnerServiceServer.Reinstate),
		unary(MethodAuditTrail, OwnerServiceServer.AuditTrail),
		unary(MethodExportData, OwnerServiceServer.ExportData),
		unary(MethodSendAccessDigest, OwnerServiceServer.SendAccessDigest),
		unary(MethodPing, OwnerServiceServer.Ping),
	},
	Metadata: "vitaltags/owner/owner.proto",
}

func RegisterOwnerServiceServer(s grpc.ServiceRegistrar, srv OwnerServiceServer) {
	s.RegisterService(&OwnerServiceDesc, srv)
}
