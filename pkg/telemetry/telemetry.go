// Package telemetry provides a standardized, one-stop-shop for setting up
// OpenTelemetry for the GojoTX project, including the instrument set used
// by the transaction engine.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config holds all the configuration for the telemetry system.
type Config struct {
	// Enabled toggles the entire telemetry system on or off.
	Enabled bool `yaml:"enabled"`
	// ServiceName is the name of the service that will appear in metrics.
	ServiceName string `yaml:"service_name"`
	// PrometheusPort is the port on which to expose the /metrics endpoint.
	PrometheusPort int `yaml:"prometheus_port"`
}

// Telemetry represents the active telemetry components.
type Telemetry struct {
	MeterProvider *sdkmetric.MeterProvider
	Meter         metric.Meter
}

// ShutdownFunc is a function that gracefully shuts down the telemetry providers.
type ShutdownFunc func(ctx context.Context) error

// New initializes the OpenTelemetry SDK with a Prometheus exporter for
// metrics. It returns the active components and a shutdown function.
func New(config Config) (*Telemetry, ShutdownFunc, error) {
	if !config.Enabled {
		// If telemetry is disabled, return a no-op meter.
		return &Telemetry{
			MeterProvider: nil,
			Meter:         noop.NewMeterProvider().Meter(""),
		}, func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	// Expose the Prometheus metrics endpoint.
	go func() {
		addr := fmt.Sprintf(":%d", config.PrometheusPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			otel.Handle(fmt.Errorf("prometheus http server failed: %w", err))
		}
	}()

	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(config.ServiceName)

	tel := &Telemetry{
		MeterProvider: meterProvider,
		Meter:         meter,
	}

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return meterProvider.Shutdown(ctx)
	}

	return tel, shutdown, nil
}

// EngineMetrics is the instrument set recorded by the commit engine and
// the adaptive controller.
type EngineMetrics struct {
	TxnsBegun        metric.Int64Counter
	TxnsCommitted    metric.Int64Counter
	TxnsAborted      metric.Int64Counter
	TxnsFailed       metric.Int64Counter
	MessagesSent     metric.Int64Counter
	MessagesReceived metric.Int64Counter
	Elections        metric.Int64Counter
	AlgorithmSwaps   metric.Int64Counter
	CommitLatency    metric.Float64Histogram
}

// NewEngineMetrics registers the engine's instruments on the given meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	if m.TxnsBegun, err = meter.Int64Counter("gojotx.txns.begun",
		metric.WithDescription("Distributed transactions begun")); err != nil {
		return nil, err
	}
	if m.TxnsCommitted, err = meter.Int64Counter("gojotx.txns.committed",
		metric.WithDescription("Distributed transactions committed")); err != nil {
		return nil, err
	}
	if m.TxnsAborted, err = meter.Int64Counter("gojotx.txns.aborted",
		metric.WithDescription("Distributed transactions aborted")); err != nil {
		return nil, err
	}
	if m.TxnsFailed, err = meter.Int64Counter("gojotx.txns.failed",
		metric.WithDescription("Distributed transactions failed during commit")); err != nil {
		return nil, err
	}
	if m.MessagesSent, err = meter.Int64Counter("gojotx.messages.sent",
		metric.WithDescription("Coordination messages sent to peers")); err != nil {
		return nil, err
	}
	if m.MessagesReceived, err = meter.Int64Counter("gojotx.messages.received",
		metric.WithDescription("Coordination messages received from peers")); err != nil {
		return nil, err
	}
	if m.Elections, err = meter.Int64Counter("gojotx.elections.initiated",
		metric.WithDescription("Coordinator elections initiated by this node")); err != nil {
		return nil, err
	}
	if m.AlgorithmSwaps, err = meter.Int64Counter("gojotx.adaptive.swaps",
		metric.WithDescription("Concurrency-control algorithm switches applied")); err != nil {
		return nil, err
	}
	if m.CommitLatency, err = meter.Float64Histogram("gojotx.commit.latency",
		metric.WithDescription("End-to-end distributed commit latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	return m, nil
}

// NoopEngineMetrics returns an instrument set backed by a no-op meter,
// for tests and for nodes running with telemetry disabled.
func NoopEngineMetrics() *EngineMetrics {
	m, _ := NewEngineMetrics(noop.NewMeterProvider().Meter(""))
	return m
}
