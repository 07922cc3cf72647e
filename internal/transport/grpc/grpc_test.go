package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestRecoveryInterceptor(t *testing.T) {
	ic := NewRecoveryUnaryServerInterceptor(zap.NewNop())
	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/lodge/Panic"},
		func(context.Context, any) (any, error) { panic("boom") })
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestLoggingInterceptorLogsClientTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ic := NewLoggingUnaryServerInterceptor(zap.New(core))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	))
	_, err := ic(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/lodge/Get"},
		func(context.Context, any) (any, error) { return nil, status.Error(codes.NotFound, "reservation x") })
	assert.Equal(t, codes.NotFound, status.Code(err))

	entries := logs.FilterMessage("grpc request rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
	assert.Equal(t, "NotFound", fields["code"])
}

func TestLoggingInterceptorSkipsHealthChecks(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ic := NewLoggingUnaryServerInterceptor(zap.New(core))

	_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(context.Context, any) (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Zero(t, logs.Len())

	_, err = ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/lodge/Search"},
		func(context.Context, any) (any, error) { return nil, nil })
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	_, traced := logs.All()[0].ContextMap()["trace_id"]
	assert.False(t, traced)
}

func TestHealthReporter(t *testing.T) {
	srv := health.NewServer()
	h := NewHealthReporter(srv, 0, zap.NewNop())

	var dbErr error
	h.Add("postgres", PingFunc(func(context.Context) error { return dbErr }))

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, h.Check(context.Background()))

	dbErr = errors.New("connection refused")
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, h.Check(context.Background()))

	resp, err := srv.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)
}
