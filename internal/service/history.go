package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"iter"
	"strings"
	"time"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
)

const historyPageSize = 50

type historyCursor struct {
	at time.Time
	id string
}

// SalesHistory yields sales in [from, to) newest first, loading pages lazily.
// Sales whose items were all cancelled are skipped.
func (s *Service) SalesHistory(ctx context.Context, selectedSite string, from time.Time, to time.Time) iter.Seq2[domain.SaleHistoryEntry, error] {
	return func(yield func(domain.SaleHistoryEntry, error) bool) {
		_, scope, err := s.scopeFor(ctx, selectedSite)
		if err != nil {
			yield(domain.SaleHistoryEntry{}, err)
			return
		}
		for entry, err := range s.history(ctx, scope, from, to, historyCursor{}) {
			if !yield(entry, err) || err != nil {
				return
			}
		}
	}
}

// SalesHistoryPage returns at most limit entries after cursor with window
// totals. Profit and cost figures are only filled in for admins.
func (s *Service) SalesHistoryPage(ctx context.Context, selectedSite string, from time.Time, to time.Time, cursor string, limit int) (domain.SalesHistoryResponse, error) {
	actor, scope, err := s.scopeFor(ctx, selectedSite)
	if err != nil {
		return domain.SalesHistoryResponse{}, err
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return domain.SalesHistoryResponse{}, fmt.Errorf("%w: empty window", store.ErrInvalidTransaction)
	}
	after, err := decodeCursor(cursor)
	if err != nil {
		return domain.SalesHistoryResponse{}, err
	}
	if limit <= 0 || limit > historyPageSize {
		limit = historyPageSize
	}

	resp := domain.SalesHistoryResponse{Entries: make([]domain.SaleHistoryEntry, 0, limit)}
	for entry, err := range s.history(ctx, scope, from, to, after) {
		if err != nil {
			return domain.SalesHistoryResponse{}, err
		}
		if len(resp.Entries) == limit {
			last := resp.Entries[len(resp.Entries)-1].Sale
			resp.NextCursor = encodeCursor(historyCursor{at: last.CreatedAt, id: last.ID})
			break
		}
		if !actor.IsAdmin() {
			entry = redactProfit(entry)
		}
		resp.Entries = append(resp.Entries, entry)
	}

	lines, err := s.repo.ListSaleLines(ctx, store.SaleLineFilter{Scope: scope, From: from, To: to})
	if err != nil {
		return domain.SalesHistoryResponse{}, err
	}
	var profit, cost int64
	for _, line := range lines {
		resp.TotalSalesCents += line.SubtotalCents
		profit += line.ProfitCents()
		cost += line.UnitCostCents * int64(line.Quantity)
	}
	if actor.IsAdmin() {
		resp.TotalProfitCents = &profit
		resp.TotalCostCents = &cost
	}
	return resp, nil
}

func (s *Service) history(ctx context.Context, scope domain.Scope, from time.Time, to time.Time, after historyCursor) iter.Seq2[domain.SaleHistoryEntry, error] {
	return func(yield func(domain.SaleHistoryEntry, error) bool) {
		for {
			page, err := s.repo.ListSales(ctx, store.SaleFilter{
				Scope:    scope,
				From:     from,
				To:       to,
				BeforeAt: after.at,
				BeforeID: after.id,
				Limit:    historyPageSize,
			})
			if err != nil {
				yield(domain.SaleHistoryEntry{}, err)
				return
			}
			if len(page) == 0 {
				return
			}

			saleIDs := make([]string, 0, len(page))
			cashierIDs := make([]string, 0, len(page))
			for _, sale := range page {
				saleIDs = append(saleIDs, sale.ID)
				cashierIDs = append(cashierIDs, sale.CashierID)
			}
			items, err := s.repo.ListSaleItems(ctx, saleIDs, false)
			if err != nil {
				yield(domain.SaleHistoryEntry{}, err)
				return
			}
			names, err := s.repo.GetUserNames(ctx, cashierIDs)
			if err != nil {
				yield(domain.SaleHistoryEntry{}, err)
				return
			}

			for _, sale := range page {
				remaining := items[sale.ID]
				if len(remaining) == 0 {
					continue
				}
				entry := domain.SaleHistoryEntry{
					Sale:        sale,
					Items:       remaining,
					CashierName: names[sale.CashierID],
				}
				for _, item := range remaining {
					entry.LiveTotalCents += item.SubtotalCents
					entry.LiveProfitCents += item.ProfitCents()
				}
				if !yield(entry, nil) {
					return
				}
			}

			if len(page) < historyPageSize {
				return
			}
			last := page[len(page)-1]
			after = historyCursor{at: last.CreatedAt, id: last.ID}
		}
	}
}

func redactProfit(entry domain.SaleHistoryEntry) domain.SaleHistoryEntry {
	entry.Sale.ProfitCents = 0
	entry.LiveProfitCents = 0
	items := make([]domain.SaleItem, len(entry.Items))
	for i, item := range entry.Items {
		item.UnitCostCents = 0
		items[i] = item
	}
	entry.Items = items
	return entry
}

func encodeCursor(c historyCursor) string {
	raw := c.at.UTC().Format(time.RFC3339Nano) + "|" + c.id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (historyCursor, error) {
	if cursor == "" {
		return historyCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return historyCursor{}, fmt.Errorf("%w: malformed cursor", store.ErrInvalidTransaction)
	}
	at, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return historyCursor{}, fmt.Errorf("%w: malformed cursor", store.ErrInvalidTransaction)
	}
	parsed, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return historyCursor{}, fmt.Errorf("%w: malformed cursor", store.ErrInvalidTransaction)
	}
	return historyCursor{at: parsed, id: id}, nil
}
