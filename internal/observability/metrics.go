package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/johnson-oragui/diosa-messaging-backend/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	authLoginCounter     metric.Int64Counter
	authRefreshCounter   metric.Int64Counter
	authLogoutCounter    metric.Int64Counter
	authGateCounter      metric.Int64Counter
	wsConnectionsCounter metric.Int64Counter
	wsConnectionsActive  metric.Int64UpDownCounter
	presenceTransitions  metric.Int64Counter
	relayPublishCounter  metric.Int64Counter
	repoOperationCounter metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("diosa-messaging-backend")
	m := &AppMetrics{}
	if m.authLoginCounter, err = meter.Int64Counter("auth.login.attempts"); err != nil {
		return nil, err
	}
	if m.authRefreshCounter, err = meter.Int64Counter("auth.refresh.attempts"); err != nil {
		return nil, err
	}
	if m.authLogoutCounter, err = meter.Int64Counter("auth.logout.attempts"); err != nil {
		return nil, err
	}
	if m.authGateCounter, err = meter.Int64Counter("auth.gate.decisions"); err != nil {
		return nil, err
	}
	if m.wsConnectionsCounter, err = meter.Int64Counter("ws.connections.total"); err != nil {
		return nil, err
	}
	if m.wsConnectionsActive, err = meter.Int64UpDownCounter("ws.connections.active"); err != nil {
		return nil, err
	}
	if m.presenceTransitions, err = meter.Int64Counter("presence.transitions"); err != nil {
		return nil, err
	}
	if m.relayPublishCounter, err = meter.Int64Counter("relay.publishes"); err != nil {
		return nil, err
	}
	if m.repoOperationCounter, err = meter.Int64Counter("repository.operations"); err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = m
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordAuthLogin(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLoginCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthRefresh(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authRefreshCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordAuthLogout(status string) {
	m := current()
	if m == nil {
		return
	}
	m.authLogoutCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordAuthGate tags the internal reason a token was accepted or rejected.
// Clients see one uniform 401; the reason only ever surfaces here and in logs.
func RecordAuthGate(outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.authGateCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordWSConnect() {
	m := current()
	if m == nil {
		return
	}
	m.wsConnectionsCounter.Add(context.Background(), 1)
	m.wsConnectionsActive.Add(context.Background(), 1)
}

func RecordWSDisconnect() {
	m := current()
	if m == nil {
		return
	}
	m.wsConnectionsActive.Add(context.Background(), -1)
}

func RecordPresenceTransition(direction string) {
	m := current()
	if m == nil {
		return
	}
	m.presenceTransitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("direction", direction)))
}

func RecordRelayPublish(channelKind, status string) {
	m := current()
	if m == nil {
		return
	}
	m.relayPublishCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("channel_kind", channelKind),
		attribute.String("status", status),
	))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, status string) {
	m := current()
	if m == nil {
		return
	}
	m.repoOperationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}
