package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/notify"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

// Checkout records a sale in four sequential steps: header, items, stock
// reconciliation and the movement audit. A failure after the header is
// reported as a *CheckoutError and nothing is rolled back.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout")
	defer span.End()

	lines, err := normalizeLines(req.Items)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return domain.CheckoutResult{}, err
	}
	req.Items = lines
	actor, siteID, products, err := s.validateCheckout(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return domain.CheckoutResult{}, err
	}
	span.SetAttributes(attribute.String("site.id", siteID), attribute.Int("items", len(req.Items)))

	var total, profit int64
	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, line := range req.Items {
		product := products[line.ProductID]
		qty := int64(line.Quantity)
		total += product.SellingPriceCents * qty
		profit += (product.SellingPriceCents - product.PurchasePriceCents) * qty
		items = append(items, domain.SaleItem{
			ID:             xid.New(),
			ProductID:      product.ID,
			Quantity:       line.Quantity,
			UnitPriceCents: product.SellingPriceCents,
			UnitCostCents:  product.PurchasePriceCents,
			SubtotalCents:  product.SellingPriceCents * qty,
		})
	}

	sale := domain.Sale{
		ID:          xid.New(),
		SiteID:      siteID,
		CashierID:   actor.UserID,
		TotalCents:  total,
		ProfitCents: profit,
		CreatedAt:   s.now(),
	}
	span.SetAttributes(attribute.String("sale.id", sale.ID))
	state := domain.CheckoutStarted

	created, err := s.persistHeader(ctx, sale)
	if err != nil {
		return domain.CheckoutResult{}, s.checkoutFailed(ctx, span, ErrSaleNotRecorded, state, "", err)
	}
	state = domain.CheckoutHeaderPersisted
	s.publish(ctx, notify.SaleInserted, created.SiteID, created.ID)

	if err := s.persistItems(ctx, created.ID, items); err != nil {
		s.logger.Error("sale header persisted without items",
			zap.String("sale_id", created.ID),
			zap.String("site_id", created.SiteID),
			zap.String("cashier_id", created.CashierID),
			zap.Error(err),
		)
		return domain.CheckoutResult{}, s.checkoutFailed(ctx, span, ErrInconsistentSale, state, created.ID, err)
	}
	state = domain.CheckoutItemsPersisted

	if _, err := s.reconcileSale(ctx, created.ID, created.SiteID); err != nil {
		s.logger.Error("sale recorded but stock not reconciled",
			zap.String("sale_id", created.ID),
			zap.String("site_id", created.SiteID),
			zap.Error(err),
		)
		return domain.CheckoutResult{}, s.checkoutFailed(ctx, span, ErrStockDesync, state, created.ID, err)
	}
	state = domain.CheckoutStockReconciled

	if s.writeSaleMovements(ctx, *created, items) {
		state = domain.CheckoutAuditWritten
	}
	s.metrics.checkout(ctx, outcomeOK, string(state))

	return domain.CheckoutResult{
		SaleID:      created.ID,
		SiteID:      created.SiteID,
		TotalCents:  created.TotalCents,
		ProfitCents: created.ProfitCents,
		ItemCount:   len(items),
		State:       state,
		CreatedAt:   created.CreatedAt.Format(time.RFC3339),
	}, nil
}

// validateCheckout has no side effects. Quantities are checked against stock
// per product, summed over every line that names it.
func (s *Service) validateCheckout(ctx context.Context, req domain.CheckoutRequest) (domain.Actor, string, map[string]domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.validate")
	defer span.End()

	actor, scope, err := s.scopeFor(ctx, req.SiteID)
	if err != nil {
		return domain.Actor{}, "", nil, err
	}
	if scope.All {
		return domain.Actor{}, "", nil, fmt.Errorf("%w: a single site is required", store.ErrInvalidTransaction)
	}
	if len(req.Items) == 0 {
		return domain.Actor{}, "", nil, fmt.Errorf("%w: cart is empty", store.ErrInvalidTransaction)
	}

	demand := make(map[string]int, len(req.Items))
	ids := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		if _, seen := demand[line.ProductID]; !seen {
			ids = append(ids, line.ProductID)
		}
		demand[line.ProductID] += line.Quantity
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.Actor{}, "", nil, err
	}
	for _, id := range ids {
		product, ok := products[id]
		if !ok || product.SiteID != scope.SiteID {
			return domain.Actor{}, "", nil, fmt.Errorf("%w: product %s is not sold at site %s", store.ErrInvalidTransaction, id, scope.SiteID)
		}
		if !product.Active {
			return domain.Actor{}, "", nil, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidTransaction, id)
		}
		if demand[id] > product.Stock {
			return domain.Actor{}, "", nil, fmt.Errorf("%w: %s has %d in stock, cart needs %d", store.ErrInsufficientStock, product.Name, product.Stock, demand[id])
		}
	}
	return actor, scope.SiteID, products, nil
}

// normalizeLines merges lines naming the same product, keeping first-seen
// order, so a sale holds one item per product.
func normalizeLines(lines []domain.CartLine) ([]domain.CartLine, error) {
	merged := make([]domain.CartLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		line.ProductID = strings.TrimSpace(line.ProductID)
		if line.ProductID == "" || line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: every line needs a product and a positive quantity", store.ErrInvalidTransaction)
		}
		if i, ok := index[line.ProductID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}
	return merged, nil
}

func (s *Service) persistHeader(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.persist_header")
	defer span.End()

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return created, nil
}

func (s *Service) persistItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	ctx, span := s.tracer.Start(ctx, "checkout.persist_items")
	defer span.End()

	if err := s.repo.CreateSaleItems(ctx, saleID, items); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// writeSaleMovements records one outgoing movement per item. It reports
// whether every movement was written; failures are only logged.
func (s *Service) writeSaleMovements(ctx context.Context, sale domain.Sale, items []domain.SaleItem) bool {
	ctx, span := s.tracer.Start(ctx, "checkout.audit")
	defer span.End()

	note := "Sale #" + xid.Short(sale.ID)
	complete := true
	for _, item := range items {
		if item.IsCancelled {
			continue
		}
		err := s.repo.CreateStockMovement(ctx, domain.StockMovement{
			ProductID: item.ProductID,
			SiteID:    sale.SiteID,
			Type:      domain.MovementOut,
			Quantity:  item.Quantity,
			UserID:    sale.CashierID,
			Notes:     note,
			CreatedAt: s.now(),
		})
		if err != nil {
			complete = false
			span.RecordError(err)
			s.logger.Warn("failed to write stock movement",
				zap.String("sale_id", sale.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
		}
	}
	return complete
}

func (s *Service) checkoutFailed(ctx context.Context, span trace.Span, kind error, state domain.CheckoutState, saleID string, cause error) error {
	err := &CheckoutError{Kind: kind, State: state, SaleID: saleID, Err: cause}
	s.metrics.checkout(ctx, KindName(kind), string(state))
	span.RecordError(err)
	span.SetStatus(codes.Error, kind.Error())
	return err
}
