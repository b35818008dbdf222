package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const (
	outcomeOK      = "ok"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)

// sagaMetrics counts how each saga run ended, so partial failures show up
// on a dashboard and not only in the logs.
type sagaMetrics struct {
	checkouts     metric.Int64Counter
	reconciles    metric.Int64Counter
	cancellations metric.Int64Counter
}

func newSagaMetrics(meter metric.Meter) sagaMetrics {
	fallback := noop.NewMeterProvider().Meter("barpos")
	counter := func(name string, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{run}"))
		if err != nil {
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}
	return sagaMetrics{
		checkouts:     counter("barpos.checkouts", "Checkout runs by outcome and last state reached"),
		reconciles:    counter("barpos.stock.reconciles", "Stock reconciliations by outcome"),
		cancellations: counter("barpos.sale_item.cancellations", "Sale item cancellations and stock restores by outcome"),
	}
}

func (m sagaMetrics) checkout(ctx context.Context, outcome string, state string) {
	m.checkouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("state", state),
	))
}

func (m sagaMetrics) reconcile(ctx context.Context, outcome string) {
	m.reconciles.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m sagaMetrics) cancellation(ctx context.Context, step string, outcome string) {
	m.cancellations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	))
}
