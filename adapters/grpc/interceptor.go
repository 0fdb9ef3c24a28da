// Package servlygrpc provides gRPC client interceptors that attach the
// service's access token to outgoing calls and retry once after a refresh
// when the server answers Unauthenticated.
//
// Concurrency: all exported functions are safe for concurrent use.
package servlygrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenProvider supplies access tokens for outgoing calls. A *servly.Service
// satisfies it.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	ForceRefresh(ctx context.Context) error
}

// Option configures the interceptors.
type Option func(*options)

type options struct {
	metadataKey string
	prefix      string
	retry       bool
}

// WithMetadataKey overrides the metadata key carrying the token, default
// "authorization".
func WithMetadataKey(key string) Option {
	return func(o *options) { o.metadataKey = key }
}

// WithPrefix overrides the value prefix, default "Bearer ".
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithoutRetry disables the refresh-and-retry on Unauthenticated.
func WithoutRetry() Option {
	return func(o *options) { o.retry = false }
}

func buildOptions(opts []Option) options {
	o := options{metadataKey: "authorization", prefix: "Bearer ", retry: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) attach(ctx context.Context, p TokenProvider) (context.Context, error) {
	token, err := p.AccessToken(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "acquire access token: %v", err)
	}
	if token == "" {
		return ctx, nil
	}
	return metadata.AppendToOutgoingContext(ctx, o.metadataKey, o.prefix+token), nil
}

// UnaryClientInterceptor returns an interceptor that injects the token into
// outgoing metadata. An Unauthenticated reply triggers one ForceRefresh and
// one retry with the new token.
func UnaryClientInterceptor(p TokenProvider, opts ...Option) grpc.UnaryClientInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption,
	) error {
		callCtx, err := o.attach(ctx, p)
		if err != nil {
			return err
		}
		err = invoker(callCtx, method, req, reply, cc, callOpts...)
		if !o.retry || status.Code(err) != codes.Unauthenticated {
			return err
		}
		if rerr := p.ForceRefresh(ctx); rerr != nil {
			return err
		}
		callCtx, aerr := o.attach(ctx, p)
		if aerr != nil {
			return aerr
		}
		return invoker(callCtx, method, req, reply, cc, callOpts...)
	}
}

// StreamClientInterceptor returns an interceptor that injects the token into
// outgoing metadata. Streams are not replayed after a refresh; callers
// reopen the stream themselves.
func StreamClientInterceptor(p TokenProvider, opts ...Option) grpc.StreamClientInterceptor {
	o := buildOptions(opts)
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		callOpts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		callCtx, err := o.attach(ctx, p)
		if err != nil {
			return nil, err
		}
		return streamer(callCtx, desc, cc, method, callOpts...)
	}
}
