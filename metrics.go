package voyager

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("voyager")

// RegisterAllocatorMetrics installs an observable gauge reporting the
// allocator's in-use port count on the global MeterProvider. InitTracer sets
// up only a tracer provider, so the gauge is exported only when the host
// process installs a MeterProvider of its own; otherwise it is a no-op.
// Returns a registration the caller may Unregister; safe to ignore.
func RegisterAllocatorMetrics(a *ResourceAllocator) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge(
		"voyager.allocator.ports_in_use",
		metric.WithDescription("Ports currently allocated across all explorations"),
	)
	if err != nil {
		return nil, err
	}
	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(a.UsedCount()))
		return nil
	}, gauge)
}
