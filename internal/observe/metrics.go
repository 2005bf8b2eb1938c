// Package observe provides observability primitives for CuePilot:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware tying them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so metrics can be scraped
// from the standard /metrics endpoint. Tests should use [NewMetrics] with
// their own [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all CuePilot metrics.
const meterName = "github.com/cuepilot/cuepilot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AlignDuration tracks per-word alignment latency, the core budget of
	// the matching engine.
	AlignDuration metric.Float64Histogram

	// Matches counts accepted matches. Use with attribute
	// attribute.String("kind", "exact"|"fuzzy").
	Matches metric.Int64Counter

	// NoMatches counts spoken words that cleared no threshold and were
	// dropped.
	NoMatches metric.Int64Counter

	// ActiveSessions tracks the number of live prompter sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// the per-word alignment budget — sub-millisecond is the expected case.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.AlignDuration, err = m.Float64Histogram("cuepilot.align.duration",
		metric.WithDescription("Latency of a single spoken-word alignment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Matches, err = m.Int64Counter("cuepilot.align.matches",
		metric.WithDescription("Accepted word matches by kind (exact or fuzzy)."),
	); err != nil {
		return nil, err
	}
	if met.NoMatches, err = m.Int64Counter("cuepilot.align.no_matches",
		metric.WithDescription("Spoken words dropped because no candidate cleared the threshold."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cuepilot.active_sessions",
		metric.WithDescription("Number of live prompter sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("cuepilot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RegisterCacheSizeGauge exposes the similarity cache entry count as an
// observable gauge. sizeFn is called at collection time and must be safe for
// concurrent use.
func (m *Metrics) RegisterCacheSizeGauge(sizeFn func() int64) error {
	_, err := m.meter.Int64ObservableGauge("cuepilot.similarity.cache_entries",
		metric.WithDescription("Current number of memoized similarity scores."),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(sizeFn())
			return nil
		}),
	)
	return err
}

// ObserveAlignment records one alignment call's duration in seconds.
func (m *Metrics) ObserveAlignment(ctx context.Context, seconds float64) {
	m.AlignDuration.Record(ctx, seconds)
}

// RecordMatch increments the match counter with the kind attribute.
func (m *Metrics) RecordMatch(ctx context.Context, exact bool) {
	kind := "fuzzy"
	if exact {
		kind = "exact"
	}
	m.Matches.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordNoMatch increments the dropped-word counter.
func (m *Metrics) RecordNoMatch(ctx context.Context) {
	m.NoMatches.Add(ctx, 1)
}

// SessionStarted increments the live-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// SessionEnded decrements the live-session gauge.
func (m *Metrics) SessionEnded(ctx context.Context) {
	m.ActiveSessions.Add(ctx, -1)
}
