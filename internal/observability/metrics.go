package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/licenselock/licenselock/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type appMetricsSet struct {
	loginCounter       metric.Int64Counter
	entitlementCounter metric.Int64Counter
	bindingCounter     metric.Int64Counter
	rateLimitCounter   metric.Int64Counter
	abuseSignalCounter metric.Int64Counter
	autoBlockCounter   metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *appMetricsSet
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

	meter := mp.Meter("licenselock")
	set := &appMetricsSet{}
	if set.loginCounter, err = meter.Int64Counter("auth.login.attempts"); err != nil {
		return nil, err
	}
	if set.entitlementCounter, err = meter.Int64Counter("license.entitlement.checks"); err != nil {
		return nil, err
	}
	if set.bindingCounter, err = meter.Int64Counter("hardware.binding.decisions"); err != nil {
		return nil, err
	}
	if set.rateLimitCounter, err = meter.Int64Counter("ratelimit.decisions"); err != nil {
		return nil, err
	}
	if set.abuseSignalCounter, err = meter.Int64Counter("abuse.signals"); err != nil {
		return nil, err
	}
	if set.autoBlockCounter, err = meter.Int64Counter("abuse.auto_blocks"); err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = set
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func currentMetrics() *appMetricsSet {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

func RecordLoginAttempt(ctx context.Context, status string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.loginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func RecordEntitlementCheck(ctx context.Context, outcome string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.entitlementCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func RecordBindingDecision(ctx context.Context, outcome, actor string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.bindingCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("actor", actor),
	))
}

func RecordRateLimitDecision(ctx context.Context, action, outcome, backend string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
		attribute.String("backend", backend),
	))
}

func RecordAbuseSignal(ctx context.Context, kind string) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.abuseSignalCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func RecordAutoBlock(ctx context.Context) {
	m := currentMetrics()
	if m == nil {
		return
	}
	m.autoBlockCounter.Add(ctx, 1)
}
