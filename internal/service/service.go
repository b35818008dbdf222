package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/notify"
	"barpos/backend/internal/store"
)

type actorContextKey struct{}

type managerApprovalKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// WithManagerApproval marks ctx as carrying a verified manager PIN, which
// lets a cashier cancel sale items.
func WithManagerApproval(ctx context.Context) context.Context {
	return context.WithValue(ctx, managerApprovalKey{}, true)
}

func hasManagerApproval(ctx context.Context) bool {
	approved, _ := ctx.Value(managerApprovalKey{}).(bool)
	return approved
}

type Options struct {
	ReconcileLockTTL   time.Duration
	LowStockAlertLimit int
	// Meter defaults to the global meter provider.
	Meter metric.Meter
}

type Service struct {
	repo          store.Repository
	broker        notify.Broker
	locker        lock.Locker
	logger        *zap.Logger
	tracer        trace.Tracer
	metrics       sagaMetrics
	lockTTL       time.Duration
	lowStockLimit int
	now           func() time.Time
}

func New(repo store.Repository, broker notify.Broker, locker lock.Locker, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if broker == nil {
		broker = notify.NewHub(32, logger)
	}
	if opts.ReconcileLockTTL <= 0 {
		opts.ReconcileLockTTL = 15 * time.Second
	}
	if locker == nil {
		locker = lock.NewLocalLocker(opts.ReconcileLockTTL)
	}
	if opts.LowStockAlertLimit <= 0 {
		opts.LowStockAlertLimit = 20
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("barpos/backend/internal/service")
	}

	return &Service{
		repo:          repo,
		broker:        broker,
		locker:        locker,
		logger:        logger.Named("service"),
		tracer:        otel.Tracer("barpos/backend/internal/service"),
		metrics:       newSagaMetrics(opts.Meter),
		lockTTL:       opts.ReconcileLockTTL,
		lowStockLimit: opts.LowStockAlertLimit,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ListProducts returns the active catalogue visible to the actor.
func (s *Service) ListProducts(ctx context.Context, selectedSite string) ([]domain.Product, error) {
	_, scope, err := s.scopeFor(ctx, selectedSite)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, scope, true)
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, fmt.Errorf("%w: authenticated user required", ErrForbidden)
	}
	return actor, nil
}

func (s *Service) requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if !actor.IsAdmin() {
		return domain.Actor{}, fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return actor, nil
}

// publish is best effort; dashboards recompute on the next event anyway.
func (s *Service) publish(ctx context.Context, kind notify.Kind, siteID string, entityID string) {
	if err := s.broker.Publish(ctx, notify.NewEvent(kind, siteID, entityID)); err != nil {
		s.logger.Warn("failed to publish change event",
			zap.String("kind", string(kind)),
			zap.String("site_id", siteID),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
