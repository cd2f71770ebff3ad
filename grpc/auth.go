package grpc

import (
	"context"

	"github.com/maxpert/viewsync/cfg"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// ClusterSecretHeader is the metadata key for the cluster secret
	ClusterSecretHeader = "x-viewsync-cluster-secret"

	// OriginHeader carries the sender's advertise address
	OriginHeader = "x-viewsync-origin"

	// ChannelHeader tells the receiver which channel a message travelled on
	ChannelHeader = "x-viewsync-channel"
)

// UnaryServerInterceptor returns a server interceptor that validates the cluster secret
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := validateClusterSecret(ctx); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// validateClusterSecret checks if the request contains a valid cluster secret
func validateClusterSecret(ctx context.Context) error {
	if !cfg.IsClusterAuthEnabled() {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}

	secrets := md.Get(ClusterSecretHeader)
	if len(secrets) == 0 {
		return status.Error(codes.Unauthenticated, "missing cluster secret")
	}

	if secrets[0] != cfg.GetClusterSecret() {
		return status.Error(codes.Unauthenticated, "invalid cluster secret")
	}

	return nil
}

// UnaryClientInterceptor returns a client interceptor that adds the cluster secret
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = appendClusterSecret(ctx)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// appendClusterSecret adds the cluster secret to outgoing context
func appendClusterSecret(ctx context.Context) context.Context {
	if !cfg.IsClusterAuthEnabled() {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, ClusterSecretHeader, cfg.GetClusterSecret())
}

// UnaryClientInterceptorWithSecret returns a client interceptor that uses a specific secret
func UnaryClientInterceptorWithSecret(secret string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if secret != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, ClusterSecretHeader, secret)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// OriginClientInterceptor stamps every outgoing call with the local advertise address
func OriginClientInterceptor(origin string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, OriginHeader, origin)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// originFromContext extracts the sender address attached by OriginClientInterceptor
func originFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.InvalidArgument, "missing metadata")
	}

	origins := md.Get(OriginHeader)
	if len(origins) == 0 || origins[0] == "" {
		return "", status.Error(codes.InvalidArgument, "missing origin")
	}

	return origins[0], nil
}
