package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/notify"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

const pendingReconcileNote = "sale not reconciled yet; its stock will be settled when it is"

// CancelSaleItem flags one item cancelled and returns its quantity to stock.
// The sale's stored totals are left untouched.
func (s *Service) CancelSaleItem(ctx context.Context, req domain.CancelSaleItemRequest) (domain.CancelSaleItemResult, error) {
	ctx, span := s.tracer.Start(ctx, "sale_item.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("sale_item.id", req.SaleItemID))

	item, sale, err := s.loadCancellableItem(ctx, req.SaleItemID)
	if err != nil {
		return domain.CancelSaleItemResult{}, err
	}
	if req.ProductID != item.ProductID || req.Quantity != item.Quantity {
		return domain.CancelSaleItemResult{}, fmt.Errorf("%w: item %s does not match product or quantity", store.ErrInvalidTransaction, xid.Short(item.ID))
	}

	if _, err := s.repo.FlagSaleItemCancelled(ctx, item.ID, s.now()); err != nil {
		cancelErr := &CancelError{Kind: ErrCancelFlag, SaleItemID: item.ID, Err: err}
		s.metrics.cancellation(ctx, "flag", outcomeFailed)
		span.RecordError(cancelErr)
		span.SetStatus(codes.Error, ErrCancelFlag.Error())
		return domain.CancelSaleItemResult{}, cancelErr
	}
	s.publish(ctx, notify.SaleItemUpdated, sale.SiteID, item.ID)

	return s.restoreItemStock(ctx, *item, *sale)
}

// RetryStockRestore re-runs only the stock restore of an item that is
// already cancelled.
func (s *Service) RetryStockRestore(ctx context.Context, saleItemID string) (domain.CancelSaleItemResult, error) {
	ctx, span := s.tracer.Start(ctx, "sale_item.restore_stock")
	defer span.End()
	span.SetAttributes(attribute.String("sale_item.id", saleItemID))

	item, sale, err := s.loadCancellableItem(ctx, saleItemID)
	if err != nil {
		return domain.CancelSaleItemResult{}, err
	}
	if !item.IsCancelled {
		return domain.CancelSaleItemResult{}, fmt.Errorf("%w: item %s is not cancelled", store.ErrInvalidTransaction, xid.Short(item.ID))
	}
	return s.restoreItemStock(ctx, *item, *sale)
}

func (s *Service) loadCancellableItem(ctx context.Context, saleItemID string) (*domain.SaleItem, *domain.Sale, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, nil, err
	}
	if actor.Role == domain.RoleCashier && !hasManagerApproval(ctx) {
		return nil, nil, fmt.Errorf("%w: manager approval required", ErrForbidden)
	}
	if saleItemID == "" {
		return nil, nil, store.ErrInvalidTransaction
	}

	item, err := s.repo.GetSaleItem(ctx, saleItemID)
	if err != nil {
		return nil, nil, err
	}
	sale, err := s.repo.GetSale(ctx, item.SaleID)
	if err != nil {
		return nil, nil, err
	}

	scope, err := ResolveScope(actor, sale.SiteID)
	if err != nil {
		return nil, nil, err
	}
	if !scope.Includes(sale.SiteID) {
		return nil, nil, fmt.Errorf("%w: sale belongs to another site", ErrForbidden)
	}
	return item, sale, nil
}

func (s *Service) restoreItemStock(ctx context.Context, item domain.SaleItem, sale domain.Sale) (domain.CancelSaleItemResult, error) {
	restored, stock, err := s.repo.RestoreCancelledItemStock(ctx, item.ID, s.now())
	if err != nil {
		s.logger.Error("sale item cancelled but stock not restored",
			zap.String("sale_item_id", item.ID),
			zap.String("sale_id", sale.ID),
			zap.String("product_id", item.ProductID),
			zap.Int("quantity", item.Quantity),
			zap.Error(err),
		)
		s.metrics.cancellation(ctx, "restore", outcomeFailed)
		return domain.CancelSaleItemResult{}, &CancelError{Kind: ErrStockRestore, SaleItemID: item.ID, Err: err}
	}

	result := domain.CancelSaleItemResult{
		SaleItemID:    item.ID,
		ProductID:     item.ProductID,
		Quantity:      item.Quantity,
		StockRestored: restored,
		Stock:         stock,
	}
	if !restored {
		s.metrics.cancellation(ctx, "restore", outcomeSkipped)
		current, err := s.repo.GetSale(ctx, sale.ID)
		if err == nil && current.StockReconciledAt == nil {
			result.Note = pendingReconcileNote
		}
		return result, nil
	}

	s.metrics.cancellation(ctx, "restore", outcomeOK)
	s.publish(ctx, notify.ProductUpdated, sale.SiteID, item.ProductID)
	actor, _ := ActorFromContext(ctx)
	if err := s.repo.CreateStockMovement(ctx, domain.StockMovement{
		ProductID: item.ProductID,
		SiteID:    sale.SiteID,
		Type:      domain.MovementIn,
		Quantity:  item.Quantity,
		UserID:    actor.UserID,
		Notes:     "Cancelled item of sale #" + xid.Short(sale.ID),
		CreatedAt: s.now(),
	}); err != nil {
		s.logger.Warn("failed to write stock movement",
			zap.String("sale_item_id", item.ID),
			zap.String("product_id", item.ProductID),
			zap.Error(err),
		)
	}
	return result, nil
}
