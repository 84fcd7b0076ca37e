package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name. Messages are
// google.protobuf.Struct values shaped like the REST bodies.
const ServiceName = "changesetd.v1.ChangesetService"

const (
	MethodGet    = "/" + ServiceName + "/Get"
	MethodList   = "/" + ServiceName + "/List"
	MethodUpdate = "/" + ServiceName + "/Update"
	MethodDelete = "/" + ServiceName + "/Delete"
)

// ChangesetServiceServer is the server API of ServiceName.
type ChangesetServiceServer interface {
	Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	List(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv ChangesetServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryCall) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ChangesetServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ChangesetServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ChangesetServiceDesc describes ServiceName for grpc.Server.RegisterService.
var ChangesetServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChangesetServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler(MethodGet, ChangesetServiceServer.Get)},
		{MethodName: "List", Handler: unaryHandler(MethodList, ChangesetServiceServer.List)},
		{MethodName: "Update", Handler: unaryHandler(MethodUpdate, ChangesetServiceServer.Update)},
		{MethodName: "Delete", Handler: unaryHandler(MethodDelete, ChangesetServiceServer.Delete)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "changesetd/v1/changesets.proto",
}

// Client calls ServiceName over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGet, in, opts...)
}

func (c *Client) List(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodList, in, opts...)
}

func (c *Client) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodUpdate, in, opts...)
}

func (c *Client) Delete(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodDelete, in, opts...)
}
