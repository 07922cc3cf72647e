package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger это любая зависимость, без которой сервис не может обслуживать запросы.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthReporter периодически проверяет зависимости и выставляет статус health-сервера.
type HealthReporter struct {
	srv      *health.Server
	deps     map[string]Pinger
	interval time.Duration
	log      *zap.Logger
}

func NewHealthReporter(srv *health.Server, interval time.Duration, log *zap.Logger) *HealthReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthReporter{srv: srv, deps: make(map[string]Pinger), interval: interval, log: log}
}

func (h *HealthReporter) Add(name string, p Pinger) {
	h.deps[name] = p
}

// Check выполняет один проход и возвращает итоговый статус.
func (h *HealthReporter) Check(ctx context.Context) grpc_health_v1.HealthCheckResponse_ServingStatus {
	st := grpc_health_v1.HealthCheckResponse_SERVING
	for name, p := range h.deps {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			h.log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	h.srv.SetServingStatus("", st)
	return st
}

func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.Check(ctx)
	for {
		select {
		case <-ticker.C:
			h.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}
