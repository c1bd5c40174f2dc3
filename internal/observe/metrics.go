// Package observe provides observability primitives for voxbridge:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed via
// a Prometheus exporter bridge set up by [InitProvider], so the standard
// /metrics scrape endpoint keeps working. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxbridge metrics.
const meterName = "github.com/voxbridge/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the relay.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks how long voice sessions stay open.
	SessionDuration metric.Float64Histogram

	// MemoryRequestDuration tracks memory store request latency. Use with
	// attributes: attribute.String("op", ...), attribute.String("status", ...)
	MemoryRequestDuration metric.Float64Histogram

	// ToolDispatchDuration tracks end-to-end tool call dispatch latency,
	// from the function-call event to the submitted result.
	ToolDispatchDuration metric.Float64Histogram

	// AudioFrames counts relayed audio frames. Use with attribute:
	//   attribute.String("direction", "inbound"|"outbound")
	AudioFrames metric.Int64Counter

	// BargeIns counts playback flushes triggered by detected user speech.
	BargeIns metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// UpstreamErrors counts fatal upstream session errors.
	UpstreamErrors metric.Int64Counter

	// DroppedMessages counts browser messages discarded due to malformed
	// payloads. Use with attribute: attribute.String("reason", ...)
	DroppedMessages metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers the much longer lifetimes of whole voice sessions.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("voxbridge.session.duration",
		metric.WithDescription("Lifetime of voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MemoryRequestDuration, err = m.Float64Histogram("voxbridge.memory.request.duration",
		metric.WithDescription("Latency of memory store requests by op and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDispatchDuration, err = m.Float64Histogram("voxbridge.tool.dispatch.duration",
		metric.WithDescription("Latency from function-call event to submitted tool result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AudioFrames, err = m.Int64Counter("voxbridge.audio.frames",
		metric.WithDescription("Total relayed audio frames by direction."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("voxbridge.barge_ins",
		metric.WithDescription("Total playback flushes caused by user barge-in."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("voxbridge.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamErrors, err = m.Int64Counter("voxbridge.upstream.errors",
		metric.WithDescription("Total fatal upstream session errors."),
	); err != nil {
		return nil, err
	}
	if met.DroppedMessages, err = m.Int64Counter("voxbridge.dropped_messages",
		metric.WithDescription("Total browser messages dropped by reason."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxbridge.http.request.duration",
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

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordAudioFrame records one relayed audio frame for the given direction
// ("inbound" or "outbound").
func (m *Metrics) RecordAudioFrame(ctx context.Context, direction string) {
	m.AudioFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("direction", direction)),
	)
}

// RecordMemoryRequest records one memory store request observation.
func (m *Metrics) RecordMemoryRequest(ctx context.Context, op, status string, d time.Duration) {
	m.MemoryRequestDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordDroppedMessage records one discarded browser message.
func (m *Metrics) RecordDroppedMessage(ctx context.Context, reason string) {
	m.DroppedMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
