package grpc

import (
	"context"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var traceContext = propagation.TraceContext{}

var quietMethods = map[string]struct{}{
	"/grpc.health.v1.Health/Check": {},
	"/grpc.health.v1.Health/Watch": {},
	"/grpc.health.v1.Health/List":  {},
}

// metadataCarrier отдаёт входящие метаданные gRPC пропагатору otel.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if vals := metadata.MD(c).Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// traceID берёт trace id из контекста или из заголовка traceparent клиента.
func traceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	sc := trace.SpanContextFromContext(traceContext.Extract(ctx, metadataCarrier(md)))
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// NewLoggingUnaryServerInterceptor пишет метод, длительность, код ответа и trace id.
func NewLoggingUnaryServerInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if _, ok := quietMethods[info.FullMethod]; ok && err == nil {
			return resp, nil
		}
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("code", status.Code(err).String()),
		}
		if id := traceID(ctx); id != "" {
			fields = append(fields, zap.String("trace_id", id))
		}
		switch status.Code(err) {
		case codes.OK:
			log.Info("grpc request", fields...)
		case codes.Internal, codes.Unknown, codes.Unavailable:
			log.Error("grpc request failed", append(fields, zap.Error(err))...)
		default:
			log.Warn("grpc request rejected", append(fields, zap.Error(err))...)
		}
		return resp, err
	}
}

func NewRecoveryUnaryServerInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic in grpc handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
