package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the single instrumentation scope for this module's spans
// and metrics. The only span started under it is the LLM gateway's
// "llm.Chat"; the pipeline stages and dispatchers start no spans.
const TracerName = "github.com/opsagent/signalops"

// Tracer returns the package-wide tracer. Safe to call before any SDK is
// registered: the global otel tracer provider defaults to a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Meter returns the package-wide meter for counters/gauges. No component
// in this module calls it, so no metrics are recorded; no HTTP exposition
// endpoint is registered here.
func Meter() metric.Meter {
	return otel.Meter(TracerName)
}
