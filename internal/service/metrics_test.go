package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/notify"
	"barpos/backend/internal/store"
)

func newMeteredService(t *testing.T, repo store.Repository) (*Service, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	svc := New(repo, notify.NewHub(8, nil), lock.NewLocalLocker(time.Second), zap.NewNop(), Options{Meter: mp.Meter("test")})
	return svc, reader
}

// counterValue sums the data points of name whose attributes include every want pair.
func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
		points:
			for _, dp := range sum.DataPoints {
				for _, kv := range want {
					v, found := dp.Attributes.Value(kv.Key)
					if !found || v != kv.Value {
						continue points
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func TestCheckoutOutcomesAreCounted(t *testing.T) {
	repo := newRepo(t)
	svc, reader := newMeteredService(t, repo)

	checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 1})

	assert.Equal(t, int64(1), counterValue(t, reader, "barpos.checkouts",
		attribute.String("outcome", outcomeOK),
		attribute.String("state", string(domain.CheckoutAuditWritten)),
	))

	failing, failingReader := newMeteredService(t, failingSaleRepo{newRepo(t)})
	_, err := failing.Checkout(as(cashierActor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}})
	require.ErrorIs(t, err, ErrSaleNotRecorded)

	assert.Equal(t, int64(1), counterValue(t, failingReader, "barpos.checkouts",
		attribute.String("outcome", "sale_not_recorded"),
		attribute.String("state", string(domain.CheckoutStarted)),
	))
	assert.Zero(t, counterValue(t, failingReader, "barpos.checkouts", attribute.String("outcome", outcomeOK)))
}

func TestReconcileCountsSkippedRuns(t *testing.T) {
	repo := newRepo(t)
	svc, reader := newMeteredService(t, repo)

	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "juice", Quantity: 2})

	_, err := svc.ReconcileSale(as(adminActor), res.SaleID)
	require.NoError(t, err)

	assert.Equal(t, int64(1), counterValue(t, reader, "barpos.stock.reconciles", attribute.String("outcome", outcomeOK)))
	assert.Equal(t, int64(1), counterValue(t, reader, "barpos.stock.reconciles", attribute.String("outcome", outcomeSkipped)))
}
