package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
)

const (
	defaultReportDays = 7
	maxReportDays     = 90
	topProductLimit   = 5
)

// SalesReport builds a per-day series over the last days days, today
// included, plus the best sellers by quantity. Each day carries the stored
// snapshot totals next to the live totals of the remaining items.
func (s *Service) SalesReport(ctx context.Context, selectedSite string, days int) (domain.SalesReport, error) {
	actor, scope, err := s.scopeFor(ctx, selectedSite)
	if err != nil {
		return domain.SalesReport{}, err
	}
	if days <= 0 {
		days = defaultReportDays
	}
	if days > maxReportDays {
		days = maxReportDays
	}

	to := startOfDay(s.now()).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -days)

	daily := make([]domain.DailySales, days)
	index := make(map[string]int, days)
	for i := range daily {
		key := from.AddDate(0, 0, i).Format(time.DateOnly)
		daily[i] = domain.DailySales{Date: key}
		index[key] = i
	}

	sales, err := s.repo.ListSales(ctx, store.SaleFilter{Scope: scope, From: from, To: to})
	if err != nil {
		return domain.SalesReport{}, err
	}
	for _, sale := range sales {
		i, ok := index[sale.CreatedAt.In(from.Location()).Format(time.DateOnly)]
		if !ok {
			continue
		}
		daily[i].Sales++
		daily[i].SnapshotTotalCents += sale.TotalCents
		daily[i].SnapshotProfitCents += sale.ProfitCents
	}

	lines, err := s.repo.ListSaleLines(ctx, store.SaleLineFilter{Scope: scope, From: from, To: to})
	if err != nil {
		return domain.SalesReport{}, err
	}
	byProduct := make(map[string]*domain.ProductSales)
	for _, line := range lines {
		if i, ok := index[line.SoldAt.In(from.Location()).Format(time.DateOnly)]; ok {
			daily[i].LiveTotalCents += line.SubtotalCents
			daily[i].LiveProfitCents += line.ProfitCents()
		}
		ps, ok := byProduct[line.ProductID]
		if !ok {
			ps = &domain.ProductSales{ProductID: line.ProductID, Name: line.ProductName}
			byProduct[line.ProductID] = ps
		}
		ps.Quantity += line.Quantity
	}

	top := make([]domain.ProductSales, 0, len(byProduct))
	for _, ps := range byProduct {
		top = append(top, *ps)
	}
	slices.SortFunc(top, func(a, b domain.ProductSales) int {
		if a.Quantity != b.Quantity {
			return b.Quantity - a.Quantity
		}
		return strings.Compare(a.Name, b.Name)
	})
	if len(top) > topProductLimit {
		top = top[:topProductLimit]
	}

	if !actor.IsAdmin() {
		for i := range daily {
			daily[i].SnapshotProfitCents = 0
			daily[i].LiveProfitCents = 0
		}
	}

	return domain.SalesReport{
		Scope:       scope,
		From:        from,
		To:          to,
		Daily:       daily,
		TopProducts: top,
	}, nil
}
