package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	gatewayServiceName = "viewsync.Gateway"
	deliverMethod      = "/viewsync.Gateway/Deliver"
)

// Envelope is one gateway message on the wire
type Envelope struct {
	Type    uint8  `msgpack:"type"`
	Payload []byte `msgpack:"payload"`
}

// DeliverResponse acknowledges receipt; it says nothing about processing
type DeliverResponse struct {
	Accepted bool `msgpack:"accepted"`
}

// DeliveryServer is the server API for the gateway service
type DeliveryServer interface {
	Deliver(ctx context.Context, req *Envelope) (*DeliverResponse, error)
}

// DeliveryClient is the client API for the gateway service
type DeliveryClient interface {
	Deliver(ctx context.Context, req *Envelope, opts ...grpc.CallOption) (*DeliverResponse, error)
}

type deliveryClient struct {
	cc grpc.ClientConnInterface
}

// NewDeliveryClient wraps a connection with the gateway service client
func NewDeliveryClient(cc grpc.ClientConnInterface) DeliveryClient {
	return &deliveryClient{cc: cc}
}

func (c *deliveryClient) Deliver(ctx context.Context, req *Envelope, opts ...grpc.CallOption) (*DeliverResponse, error) {
	out := new(DeliverResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, deliverMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DeliveryServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DeliveryServer).Deliver(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// DeliveryServiceDesc describes the gateway service for grpc.Server registration
var DeliveryServiceDesc = grpc.ServiceDesc{
	ServiceName: gatewayServiceName,
	HandlerType: (*DeliveryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "viewsync/gateway",
}

// RegisterDeliveryServer registers srv on s
func RegisterDeliveryServer(s grpc.ServiceRegistrar, srv DeliveryServer) {
	s.RegisterService(&DeliveryServiceDesc, srv)
}
