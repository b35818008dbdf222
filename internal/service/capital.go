package service

import (
	"context"
	"fmt"
	"strings"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/notify"
	"barpos/backend/internal/store"
)

const recentWithdrawalLimit = 5

// RecordCapitalTransaction appends an investment or withdrawal. An empty or
// "all" site records a row that belongs to every site.
func (s *Service) RecordCapitalTransaction(ctx context.Context, amountCents int64, txType string, description string, siteID string) (domain.CapitalTransaction, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.CapitalTransaction{}, err
	}
	if amountCents <= 0 {
		return domain.CapitalTransaction{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}
	if txType != domain.CapitalInvestment && txType != domain.CapitalWithdrawal {
		return domain.CapitalTransaction{}, fmt.Errorf("%w: unknown capital type %q", store.ErrInvalidTransaction, txType)
	}
	siteID = strings.TrimSpace(siteID)
	if strings.EqualFold(siteID, domain.AllSites) {
		siteID = ""
	}

	created, err := s.repo.CreateCapitalTransaction(ctx, domain.CapitalTransaction{
		SiteID:      siteID,
		AmountCents: amountCents,
		Type:        txType,
		Description: strings.TrimSpace(description),
		CreatedBy:   actor.UserID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.CapitalTransaction{}, err
	}

	s.publish(ctx, notify.CapitalRecorded, created.SiteID, created.ID)
	return *created, nil
}

func (s *Service) CapitalSummary(ctx context.Context, selectedSite string) (domain.CapitalSummary, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return domain.CapitalSummary{}, err
	}
	scope, err := ResolveScope(actor, selectedSite)
	if err != nil {
		return domain.CapitalSummary{}, err
	}
	return s.capitalSummary(ctx, scope)
}

// capitalSummary is investments - withdrawals + realized profit, the profit
// taken from every non-cancelled item ever sold in scope.
func (s *Service) capitalSummary(ctx context.Context, scope domain.Scope) (domain.CapitalSummary, error) {
	investments, withdrawals, err := s.repo.SumCapital(ctx, scope)
	if err != nil {
		return domain.CapitalSummary{}, err
	}

	lines, err := s.repo.ListSaleLines(ctx, store.SaleLineFilter{Scope: scope})
	if err != nil {
		return domain.CapitalSummary{}, err
	}
	var realized int64
	for _, line := range lines {
		realized += line.ProfitCents()
	}

	recent, err := s.repo.ListCapitalTransactions(ctx, scope, domain.CapitalWithdrawal, recentWithdrawalLimit)
	if err != nil {
		return domain.CapitalSummary{}, err
	}
	if recent == nil {
		recent = []domain.CapitalTransaction{}
	}

	return domain.CapitalSummary{
		InvestmentsCents:  investments,
		WithdrawalsCents:  withdrawals,
		RealizedProfit:    realized,
		TotalCapitalCents: investments - withdrawals + realized,
		RecentWithdrawals: recent,
	}, nil
}
