package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/notify"
)

// ReconcileSale lets an admin repair a sale left in stock desync. It is a
// no-op for a sale that was already reconciled.
func (s *Service) ReconcileSale(ctx context.Context, saleID string) (domain.ReconcileResult, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return domain.ReconcileResult{}, err
	}

	sale, err := s.repo.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	applied, err := s.reconcileSale(ctx, sale.ID, sale.SiteID)
	if err != nil {
		return domain.ReconcileResult{}, err
	}

	if applied {
		items, err := s.repo.ListSaleItems(ctx, []string{sale.ID}, false)
		if err != nil {
			s.logger.Warn("failed to load items for movement audit", zap.String("sale_id", sale.ID), zap.Error(err))
		} else {
			s.writeSaleMovements(ctx, *sale, items[sale.ID])
		}
	}
	return domain.ReconcileResult{SaleID: sale.ID, Applied: applied}, nil
}

// reconcileSale serialises reconciliation per sale id across processes, then
// runs the single-transaction store primitive.
func (s *Service) reconcileSale(ctx context.Context, saleID string, siteID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "stock.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", saleID))

	held, err := s.locker.Obtain(ctx, "reconcile:"+saleID, s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotObtained) {
			err = fmt.Errorf("%w: reconcile of sale %s", ErrLockBusy, saleID)
		}
		span.RecordError(err)
		s.metrics.reconcile(ctx, outcomeFailed)
		return false, err
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("failed to release reconcile lock", zap.String("sale_id", saleID), zap.Error(err))
		}
	}()

	applied, err := s.repo.ReconcileSale(ctx, saleID)
	if err != nil {
		span.RecordError(err)
		s.metrics.reconcile(ctx, outcomeFailed)
		return false, err
	}
	span.SetAttributes(attribute.Bool("applied", applied))

	if !applied {
		s.metrics.reconcile(ctx, outcomeSkipped)
		return false, nil
	}
	s.metrics.reconcile(ctx, outcomeOK)
	s.publish(ctx, notify.ProductUpdated, siteID, saleID)
	return true, nil
}
