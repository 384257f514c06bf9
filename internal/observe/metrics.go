// Package observe provides application-wide observability primitives for
// cluekeeper: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all cluekeeper metrics.
const meterName = "github.com/MrWong99/cluekeeper"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks instruct-model generation latency. Use with attribute:
	//   attribute.String("turn", "primary"|"explain")
	LLMDuration metric.Float64Histogram

	// ModelLoadDuration tracks how long loading a resident model takes. Use
	// with attribute:
	//   attribute.String("kind", "instruct"|"speech")
	ModelLoadDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ModelSwaps counts resident model switches. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	ModelSwaps metric.Int64Counter

	// Discoveries counts newly disclosed catalog entries. Use with attribute:
	//   attribute.String("kind", "metrics"|"targets"|"modifiers")
	Discoveries metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ModelLoadFailures counts failed model loads. Use with attribute:
	//   attribute.String("kind", ...)
	ModelLoadFailures metric.Int64Counter

	// Apologies counts requests answered with the fallback apology. Use with
	// attribute:
	//   attribute.String("flow", "hint"|"discover")
	Apologies metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live discovery sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Local
// generation and model loads run into tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("cluekeeper.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("cluekeeper.llm.duration",
		metric.WithDescription("Latency of instruct-model generation by turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("cluekeeper.model.load.duration",
		metric.WithDescription("Latency of loading a resident model by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("cluekeeper.provider.requests",
		metric.WithDescription("Total provider requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ModelSwaps, err = m.Int64Counter("cluekeeper.model.swaps",
		metric.WithDescription("Total resident model switches by source and target state."),
	); err != nil {
		return nil, err
	}
	if met.Discoveries, err = m.Int64Counter("cluekeeper.discoveries",
		metric.WithDescription("Total newly disclosed catalog entries by kind."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("cluekeeper.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadFailures, err = m.Int64Counter("cluekeeper.model.load.failures",
		metric.WithDescription("Total failed resident model loads by kind."),
	); err != nil {
		return nil, err
	}
	if met.Apologies, err = m.Int64Counter("cluekeeper.apologies",
		metric.WithDescription("Total requests answered with the fallback apology by flow."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cluekeeper.active_sessions",
		metric.WithDescription("Number of live discovery sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cluekeeper.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordModelSwap records a resident model switch.
func (m *Metrics) RecordModelSwap(ctx context.Context, from, to string) {
	m.ModelSwaps.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordModelLoad records the outcome of a single model load attempt.
func (m *Metrics) RecordModelLoad(ctx context.Context, kind string, seconds float64, err error) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.ModelLoadDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.ModelLoadFailures.Add(ctx, 1, attrs)
	}
}

// RecordDiscoveries adds n newly disclosed entries of the given kind.
func (m *Metrics) RecordDiscoveries(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.Discoveries.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordApology records a request answered with the fallback apology.
func (m *Metrics) RecordApology(ctx context.Context, flow string) {
	m.Apologies.Add(ctx, 1,
		metric.WithAttributes(attribute.String("flow", flow)),
	)
}
