package grpc

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"signal-quota-service/internal/core/ports"
	"signal-quota-service/internal/core/service"
	"signal-quota-service/internal/updates"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "signals.v1.SignalService"

// Full method names.
const (
	UpdateSignalsMethod = "/" + serviceName + "/UpdateSignals"
	GetSignalsMethod    = "/" + serviceName + "/GetSignals"
	DeleteOwnerMethod   = "/" + serviceName + "/DeleteOwner"
)

// SignalServiceServer is the server API for signals.v1.SignalService.
// Messages are protobuf well-known types so the service needs no generated code.
type SignalServiceServer interface {
	UpdateSignals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSignals(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteOwner(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// ServiceDesc describes signals.v1.SignalService for grpc.Server.RegisterService.
var ServiceDesc = gogrpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SignalServiceServer)(nil),
	Methods: []gogrpc.MethodDesc{
		{MethodName: "UpdateSignals", Handler: unaryHandler(UpdateSignalsMethod, SignalServiceServer.UpdateSignals)},
		{MethodName: "GetSignals", Handler: unaryHandler(GetSignalsMethod, SignalServiceServer.GetSignals)},
		{MethodName: "DeleteOwner", Handler: unaryHandler(DeleteOwnerMethod, SignalServiceServer.DeleteOwner)},
	},
	Streams: []gogrpc.StreamDesc{},
}

func unaryHandler[Resp any](fullMethod string, call func(SignalServiceServer, context.Context, *structpb.Struct) (Resp, error)) func(any, context.Context, func(any) error, gogrpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := call(srv.(SignalServiceServer), ctx, req.(*structpb.Struct))
			return resp, err
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, handler)
	}
}

// Adapter implements SignalServiceServer on top of the signal service.
type Adapter struct {
	service ports.SignalService
}

var _ SignalServiceServer = (*Adapter)(nil)

// New creates a new gRPC adapter.
func New(service ports.SignalService) *Adapter {
	return &Adapter{service: service}
}

// Register attaches the adapter to a gRPC server.
func Register(s gogrpc.ServiceRegistrar, a *Adapter) {
	s.RegisterService(&ServiceDesc, a)
}

// UpdateSignals applies {owner, package, updates} and reports the owner's state.
func (s *Adapter) UpdateSignals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	owner := req.GetFields()["owner"].GetStringValue()
	pkg := req.GetFields()["package"].GetStringValue()

	var raw []byte
	if u := req.GetFields()["updates"].GetStructValue(); u != nil {
		b, err := protojson.Marshal(u)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "encode updates: %v", err)
		}
		raw = b
	}

	res, err := s.service.ProcessUpdates(ctx, owner, pkg, raw)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"kept":        res.Kept,
		"evicted":     res.Evicted,
		"total_bytes": res.TotalBytes,
	})
}

// GetSignals returns the owner's stored signals.
func (s *Adapter) GetSignals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	xs, err := s.service.Signals(ctx, req.GetFields()["owner"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	list := make([]any, 0, len(xs))
	for _, x := range xs {
		list = append(list, map[string]any{
			"id":            x.ID,
			"key":           base64.StdEncoding.EncodeToString(x.Key),
			"value":         base64.StdEncoding.EncodeToString(x.Value),
			"creation_time": x.CreationTime.UTC().Format(time.RFC3339Nano),
			"package":       x.Package,
		})
	}
	return structpb.NewStruct(map[string]any{"signals": list})
}

// DeleteOwner drops every signal for an owner.
func (s *Adapter) DeleteOwner(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.service.DeleteOwner(ctx, req.GetFields()["owner"].GetStringValue()); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidOwner),
		errors.Is(err, updates.ErrMalformedUpdate),
		errors.Is(err, updates.ErrUnknownCommand),
		errors.Is(err, updates.ErrKeyCollision):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrNotLeader):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
