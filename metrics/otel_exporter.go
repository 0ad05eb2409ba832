package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	collector     Collector

	// OTel meters and instruments
	meter              metric.Meter
	queueDepthGauge    metric.Int64ObservableGauge
	deliveryCountGauge metric.Int64ObservableGauge
	circuitGauge       metric.Int64ObservableGauge
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	// Create Prometheus exporter
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	// Create meter provider
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(meterProvider)

	// Create meter with service info
	meter := meterProvider.Meter(
		"finbooks-resilience",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		collector:     collector,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates and registers all OpenTelemetry metric instruments
func (oe *OTelExporter) registerInstruments() error {
	var err error

	// Queue depth gauge (per job name)
	oe.queueDepthGauge, err = oe.meter.Int64ObservableGauge(
		"jobs.queue.depth",
		metric.WithDescription("Number of pending jobs per job name"),
		metric.WithUnit("{jobs}"),
		metric.WithInt64Callback(oe.observeQueueDepths),
	)
	if err != nil {
		return fmt.Errorf("creating queue depth gauge: %w", err)
	}

	// Delivery count gauge (per status)
	oe.deliveryCountGauge, err = oe.meter.Int64ObservableGauge(
		"webhook.delivery.count",
		metric.WithDescription("Number of webhook deliveries by status"),
		metric.WithUnit("{deliveries}"),
		metric.WithInt64Callback(oe.observeDeliveryCounts),
	)
	if err != nil {
		return fmt.Errorf("creating delivery count gauge: %w", err)
	}

	// Circuit breaker gauge (failure count per circuit, state as attribute)
	oe.circuitGauge, err = oe.meter.Int64ObservableGauge(
		"circuitbreaker.failures",
		metric.WithDescription("Recent failure count per circuit breaker"),
		metric.WithUnit("{failures}"),
		metric.WithInt64Callback(oe.observeCircuits),
	)
	if err != nil {
		return fmt.Errorf("creating circuit breaker gauge: %w", err)
	}

	return nil
}

// observeQueueDepths is a callback that reports pending jobs per name
func (oe *OTelExporter) observeQueueDepths(ctx context.Context, observer metric.Int64Observer) error {
	depths, err := oe.collector.GetQueueDepths(ctx)
	if err != nil {
		return err
	}

	for name, depth := range depths {
		observer.Observe(depth, metric.WithAttributes(
			attribute.String("job.name", name),
		))
	}

	return nil
}

// observeDeliveryCounts is a callback that reports delivery counts by status
func (oe *OTelExporter) observeDeliveryCounts(ctx context.Context, observer metric.Int64Observer) error {
	counts, err := oe.collector.GetDeliveryCounts(ctx)
	if err != nil {
		return err
	}

	for status, count := range counts {
		observer.Observe(count, metric.WithAttributes(
			attribute.String("delivery.status", status),
		))
	}

	return nil
}

// observeCircuits is a callback that reports per-circuit failure counts
func (oe *OTelExporter) observeCircuits(ctx context.Context, observer metric.Int64Observer) error {
	for _, circuit := range oe.collector.GetCircuits() {
		observer.Observe(int64(circuit.Failures), metric.WithAttributes(
			attribute.String("circuit.id", circuit.ID),
			attribute.String("circuit.state", circuit.State),
		))
	}

	return nil
}

// ServeHTTP serves Prometheus-formatted metrics on the given HTTP handler
func (oe *OTelExporter) ServeHTTP() http.Handler {
	return promhttp.Handler()
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}
