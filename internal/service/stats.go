package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
)

// GetDashboardStats aggregates the window [windowStart, windowEnd) from the
// live, non-cancelled items. A zero window means today.
func (s *Service) GetDashboardStats(ctx context.Context, selectedSite string, windowStart time.Time, windowEnd time.Time) (domain.DashboardStats, error) {
	actor, scope, err := s.scopeFor(ctx, selectedSite)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return s.computeStats(ctx, actor, scope, windowStart, windowEnd)
}

func (s *Service) computeStats(ctx context.Context, actor domain.Actor, scope domain.Scope, windowStart time.Time, windowEnd time.Time) (domain.DashboardStats, error) {
	now := s.now()
	if windowStart.IsZero() {
		windowStart = startOfDay(now)
	}
	if windowEnd.IsZero() {
		windowEnd = windowStart.AddDate(0, 0, 1)
	}
	if !windowEnd.After(windowStart) {
		return domain.DashboardStats{}, store.ErrInvalidTransaction
	}

	lines, err := s.repo.ListSaleLines(ctx, store.SaleLineFilter{Scope: scope, From: windowStart, To: windowEnd})
	if err != nil {
		return domain.DashboardStats{}, err
	}
	stats := domain.DashboardStats{
		Scope:       scope,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		LowStock:    []domain.LowStockAlert{},
		ComputedAt:  now,
	}
	var profit int64
	for _, line := range lines {
		stats.TodaySalesCents += line.SubtotalCents
		stats.ItemsSold += line.Quantity
		profit += line.ProfitCents()
	}

	products, err := s.repo.ListProducts(ctx, scope, true)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	stats.TotalProducts = len(products)
	for _, p := range products {
		if !p.IsLowStock() {
			continue
		}
		stats.LowStockCount++
		stats.LowStock = append(stats.LowStock, domain.LowStockAlert{
			ProductID:      p.ID,
			Name:           p.Name,
			SiteID:         p.SiteID,
			Stock:          p.Stock,
			AlertThreshold: p.AlertThreshold,
		})
	}
	slices.SortFunc(stats.LowStock, func(a, b domain.LowStockAlert) int {
		if a.Stock != b.Stock {
			return a.Stock - b.Stock
		}
		return strings.Compare(a.Name, b.Name)
	})
	if len(stats.LowStock) > s.lowStockLimit {
		stats.LowStock = stats.LowStock[:s.lowStockLimit]
	}

	if actor.IsAdmin() {
		stats.TodayProfitCents = &profit
		summary, err := s.capitalSummary(ctx, scope)
		if err != nil {
			return domain.DashboardStats{}, err
		}
		stats.Capital = &summary
	}
	return stats, nil
}
