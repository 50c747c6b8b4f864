package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelExporter provides OpenTelemetry metrics export following OTel standards
type OTelExporter struct {
	meterProvider *sdkmetric.MeterProvider
	registry      *prometheus.Registry
	collector     Collector

	// OTel meters and instruments
	meter            metric.Meter
	statusCountGauge metric.Int64ObservableGauge
	deliveriesGauge  metric.Int64ObservableGauge
	throughputGauge  metric.Int64ObservableGauge
	feedGauge        metric.Int64ObservableGauge
	registration     metric.Registration
}

// NewOTelExporter creates a new OpenTelemetry metrics exporter with Prometheus format
func NewOTelExporter(collector Collector) (*OTelExporter, error) {
	registry := prometheus.NewRegistry()

	// Create Prometheus exporter
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
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
		"webhook-relay",
		metric.WithInstrumentationVersion("1.0.0"),
	)

	oe := &OTelExporter{
		meterProvider: meterProvider,
		registry:      registry,
		collector:     collector,
		meter:         meter,
	}

	// Register metrics instruments
	if err := oe.registerInstruments(); err != nil {
		return nil, fmt.Errorf("registering instruments: %w", err)
	}

	return oe, nil
}

// registerInstruments creates the gauges and one callback that observes them all from a single collection
func (oe *OTelExporter) registerInstruments() error {
	var err error

	oe.statusCountGauge, err = oe.meter.Int64ObservableGauge(
		"relay.events.count",
		metric.WithDescription("Number of events by status"),
		metric.WithUnit("{events}"),
	)
	if err != nil {
		return fmt.Errorf("creating status count gauge: %w", err)
	}

	oe.deliveriesGauge, err = oe.meter.Int64ObservableGauge(
		"relay.requests.count",
		metric.WithDescription("Number of delivery requests by destination and status"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return fmt.Errorf("creating deliveries gauge: %w", err)
	}

	oe.throughputGauge, err = oe.meter.Int64ObservableGauge(
		"relay.throughput",
		metric.WithDescription("Number of requests completed over time window"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return fmt.Errorf("creating throughput gauge: %w", err)
	}

	oe.feedGauge, err = oe.meter.Int64ObservableGauge(
		"relay.feed.state",
		metric.WithDescription("Poll loop and push channel state"),
	)
	if err != nil {
		return fmt.Errorf("creating feed gauge: %w", err)
	}

	oe.registration, err = oe.meter.RegisterCallback(oe.observe,
		oe.statusCountGauge, oe.deliveriesGauge, oe.throughputGauge, oe.feedGauge)
	if err != nil {
		return fmt.Errorf("registering callback: %w", err)
	}
	return nil
}

// observe is the callback that reports every gauge
func (oe *OTelExporter) observe(ctx context.Context, o metric.Observer) error {
	m, err := oe.collector.Collect(ctx)
	if err != nil {
		return err
	}

	for status, count := range m.StatusCounts {
		o.ObserveInt64(oe.statusCountGauge, count, metric.WithAttributes(
			attribute.String("event.status", status),
		))
	}

	for dest, counts := range m.Deliveries {
		for status, n := range map[string]int64{"pending": counts.Pending, "completed": counts.Completed, "failed": counts.Failed} {
			o.ObserveInt64(oe.deliveriesGauge, n, metric.WithAttributes(
				attribute.String("destination.name", dest),
				attribute.String("request.status", status),
			))
		}
	}

	o.ObserveInt64(oe.throughputGauge, m.Throughput.LastMinute, metric.WithAttributes(
		attribute.String("time.window", "1m"),
	))
	o.ObserveInt64(oe.throughputGauge, m.Throughput.LastFiveMinutes, metric.WithAttributes(
		attribute.String("time.window", "5m"),
	))
	o.ObserveInt64(oe.throughputGauge, m.Throughput.LastFifteenMinutes, metric.WithAttributes(
		attribute.String("time.window", "15m"),
	))

	feeds := map[string]int64{
		"polling":            boolInt(m.Feeds.Polling),
		"poll_paused":        boolInt(m.Feeds.PollPaused),
		"consecutive_errors": m.Feeds.ConsecutiveErrors,
		"push_connected":     boolInt(m.Feeds.PushConnected),
		"reconnect_attempts": m.Feeds.ReconnectAttempts,
		"in_flight":          m.Feeds.InFlight,
	}
	for name, v := range feeds {
		o.ObserveInt64(oe.feedGauge, v, metric.WithAttributes(attribute.String("feed.field", name)))
	}
	return nil
}

// Handler serves Prometheus-formatted metrics
func (oe *OTelExporter) Handler() http.Handler {
	return promhttp.HandlerFor(oe.registry, promhttp.HandlerOpts{})
}

// Shutdown gracefully shuts down the meter provider
func (oe *OTelExporter) Shutdown(ctx context.Context) error {
	if oe.registration != nil {
		if err := oe.registration.Unregister(); err != nil {
			return fmt.Errorf("unregistering callback: %w", err)
		}
	}
	if oe.meterProvider != nil {
		return oe.meterProvider.Shutdown(ctx)
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
