// Package telemetry exposes the pipeline's meters and tracer. Only the
// OpenTelemetry API is used here; the hosting process decides which SDK and
// exporter (if any) back the global providers.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/dwsmith1983/tidemark"

var (
	// RunsStarted counts pipeline runs by dataset.
	RunsStarted metric.Int64Counter
	// RunsFinished counts finished runs by dataset and status.
	RunsFinished metric.Int64Counter
	// Publishes counts successful manifest pointer advances.
	Publishes metric.Int64Counter
	// CASConflicts counts pointer updates lost to a concurrent publisher.
	CASConflicts metric.Int64Counter
	// EventRollbacks counts partial event writes that were rolled back.
	EventRollbacks metric.Int64Counter
	// Consolidations counts month partitions consolidated.
	Consolidations metric.Int64Counter
	// IndexRebuilds counts PK index rebuilds triggered by the consistency guard.
	IndexRebuilds metric.Int64Counter
)

func init() {
	m := otel.Meter(scopeName)
	RunsStarted = counter(m, "tidemark.runs.started")
	RunsFinished = counter(m, "tidemark.runs.finished")
	Publishes = counter(m, "tidemark.publishes")
	CASConflicts = counter(m, "tidemark.publish.cas_conflicts")
	EventRollbacks = counter(m, "tidemark.events.rollbacks")
	Consolidations = counter(m, "tidemark.consolidations")
	IndexRebuilds = counter(m, "tidemark.index.rebuilds")
}

// counter creates an Int64Counter, falling back to a noop instrument on error
// so instrumentation never takes the pipeline down.
func counter(m metric.Meter, name string) metric.Int64Counter {
	c, err := m.Int64Counter(name)
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter(scopeName).Int64Counter(name)
	}
	return c
}

// Tracer returns the pipeline tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// Count is shorthand for adding one to a counter with attributes.
func Count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Dataset returns the standard dataset attribute.
func Dataset(id string) attribute.KeyValue {
	return attribute.String("dataset.id", id)
}

// Status returns the standard run status attribute.
func Status(s string) attribute.KeyValue {
	return attribute.String("run.status", s)
}
