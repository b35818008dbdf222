package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/notify"
)

// WatchDashboard sends the current stats, then a fresh computation after
// every change event that touches the scope. The channel closes when ctx is
// done. A zero window follows the current day.
func (s *Service) WatchDashboard(ctx context.Context, selectedSite string, windowStart time.Time, windowEnd time.Time) (<-chan domain.DashboardStats, error) {
	actor, scope, err := s.scopeFor(ctx, selectedSite)
	if err != nil {
		return nil, err
	}

	initial, err := s.computeStats(ctx, actor, scope, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	events, err := s.broker.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.DashboardStats, 1)
	out <- initial

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				if !affectsDashboard(event, scope) {
					continue
				}
				drainPending(events)

				stats, err := s.computeStats(ctx, actor, scope, windowStart, windowEnd)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Warn("dashboard recompute failed", zap.String("kind", string(event.Kind)), zap.Error(err))
					continue
				}
				select {
				case out <- stats:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func affectsDashboard(event notify.Event, scope domain.Scope) bool {
	switch event.Kind {
	case notify.SaleInserted, notify.ProductUpdated, notify.SaleItemUpdated, notify.CapitalRecorded:
	default:
		return false
	}
	return event.SiteID == "" || scope.Includes(event.SiteID)
}

// drainPending folds a burst of queued events into a single recompute.
func drainPending(events <-chan notify.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
