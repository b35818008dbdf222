package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/lock"
	"barpos/backend/internal/notify"
	"barpos/backend/internal/store"
	"barpos/backend/internal/store/memory"
)

var (
	adminActor    = domain.Actor{UserID: "u-admin", Username: "admin", Role: domain.RoleAdmin}
	managerActor  = domain.Actor{UserID: "u-manager", Username: "manager", Role: domain.RoleManager, SiteID: "s1"}
	cashierActor  = domain.Actor{UserID: "u-cashier", Username: "cashier", Role: domain.RoleCashier, SiteID: "s1"}
	cashier2Actor = domain.Actor{UserID: "u-cashier-2", Username: "cashier2", Role: domain.RoleCashier, SiteID: "s1"}
	nordActor     = domain.Actor{UserID: "u-cashier-nord", Username: "nord", Role: domain.RoleCashier, SiteID: "s2"}
)

func newRepo(t *testing.T) *memory.Store {
	t.Helper()
	repo := memory.New()
	repo.PutSite(domain.Site{ID: "s1", Name: "Centre"})
	repo.PutSite(domain.Site{ID: "s2", Name: "Nord"})
	repo.PutProduct(domain.Product{ID: "beer", SiteID: "s1", Name: "Beer", Category: domain.CategoryAlcoholic, PurchasePriceCents: 600, SellingPriceCents: 1000, Stock: 5, AlertThreshold: 2, Active: true})
	repo.PutProduct(domain.Product{ID: "juice", SiteID: "s1", Name: "Juice", Category: domain.CategoryNonAlcoholic, PurchasePriceCents: 200, SellingPriceCents: 500, Stock: 10, AlertThreshold: 3, Active: true})
	repo.PutProduct(domain.Product{ID: "old", SiteID: "s1", Name: "Old stock", Category: domain.CategorySnack, PurchasePriceCents: 100, SellingPriceCents: 200, Stock: 10, AlertThreshold: 1, Active: false})
	repo.PutProduct(domain.Product{ID: "nuts", SiteID: "s2", Name: "Nuts", Category: domain.CategorySnack, PurchasePriceCents: 100, SellingPriceCents: 300, Stock: 4, AlertThreshold: 5, Active: true})
	for _, a := range []domain.Actor{adminActor, managerActor, cashierActor, cashier2Actor, nordActor} {
		repo.PutUser(domain.UserAccount{ID: a.UserID, Username: a.Username, FullName: "Full " + a.Username, Role: a.Role, SiteID: a.SiteID, Active: true})
	}
	return repo
}

func newTestService(repo store.Repository) *Service {
	return New(repo, notify.NewHub(64, nil), lock.NewLocalLocker(time.Second), zap.NewNop(), Options{})
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func stockOf(t *testing.T, repo store.Repository, productID string) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func checkout(t *testing.T, svc *Service, actor domain.Actor, lines ...domain.CartLine) domain.CheckoutResult {
	t.Helper()
	res, err := svc.Checkout(as(actor), domain.CheckoutRequest{Items: lines})
	require.NoError(t, err)
	return res
}

func saleItems(t *testing.T, repo store.Repository, saleID string) []domain.SaleItem {
	t.Helper()
	items, err := repo.ListSaleItems(context.Background(), []string{saleID}, true)
	require.NoError(t, err)
	return items[saleID]
}

type failingSaleRepo struct{ *memory.Store }

func (r failingSaleRepo) CreateSale(context.Context, domain.Sale) (*domain.Sale, error) {
	return nil, errors.New("connection refused")
}

type failingItemsRepo struct{ *memory.Store }

func (r failingItemsRepo) CreateSaleItems(context.Context, string, []domain.SaleItem) error {
	return errors.New("connection reset")
}

type failingReconcileRepo struct{ *memory.Store }

func (r failingReconcileRepo) ReconcileSale(context.Context, string) (bool, error) {
	return false, context.DeadlineExceeded
}

type failingMovementRepo struct{ *memory.Store }

func (r failingMovementRepo) CreateStockMovement(context.Context, domain.StockMovement) error {
	return errors.New("audit table unavailable")
}

type flakyRestoreRepo struct {
	*memory.Store
	fail atomic.Bool
}

func (r *flakyRestoreRepo) RestoreCancelledItemStock(ctx context.Context, id string, at time.Time) (bool, int, error) {
	if r.fail.Load() {
		return false, 0, errors.New("connection reset")
	}
	return r.Store.RestoreCancelledItemStock(ctx, id, at)
}

// barrierRepo holds every checkout at validation until all of them have
// read the same stock level.
type barrierRepo struct {
	*memory.Store
	wg *sync.WaitGroup
}

func (r barrierRepo) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	products, err := r.Store.GetProductsByIDs(ctx, ids)
	r.wg.Done()
	r.wg.Wait()
	return products, err
}

func TestCheckoutRecordsSaleAndDecrementsStock(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)

	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 2})

	assert.Equal(t, int64(2000), res.TotalCents)
	assert.Equal(t, int64(800), res.ProfitCents)
	assert.Equal(t, "s1", res.SiteID)
	assert.Equal(t, domain.CheckoutAuditWritten, res.State)
	assert.Equal(t, 3, stockOf(t, repo, "beer"))

	sale, err := repo.GetSale(context.Background(), res.SaleID)
	require.NoError(t, err)
	assert.Equal(t, "u-cashier", sale.CashierID)
	assert.NotNil(t, sale.StockReconciledAt)

	movements := repo.Movements()
	require.Len(t, movements, 1)
	assert.Equal(t, domain.MovementOut, movements[0].Type)
	assert.Equal(t, 2, movements[0].Quantity)
	assert.Equal(t, "Sale #"+res.SaleID[:8], movements[0].Notes)
}

func TestCheckoutTotalsMatchItemSubtotals(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)

	res := checkout(t, svc, cashierActor,
		domain.CartLine{ProductID: "beer", Quantity: 1},
		domain.CartLine{ProductID: "juice", Quantity: 3},
		domain.CartLine{ProductID: "beer", Quantity: 2},
	)

	items := saleItems(t, repo, res.SaleID)
	require.Len(t, items, 2)
	assert.Equal(t, 2, res.ItemCount)

	var sum int64
	for _, item := range items {
		sum += item.SubtotalCents
	}
	assert.Equal(t, res.TotalCents, sum)
	assert.Equal(t, int64(3*1000+3*500), res.TotalCents)
	assert.Equal(t, 2, stockOf(t, repo, "beer"))
	assert.Equal(t, 7, stockOf(t, repo, "juice"))
}

func TestCheckoutValidationHasNoSideEffects(t *testing.T) {
	cases := []struct {
		name    string
		actor   domain.Actor
		req     domain.CheckoutRequest
		wantErr error
	}{
		{"empty cart", cashierActor, domain.CheckoutRequest{}, store.ErrInvalidTransaction},
		{"zero quantity", cashierActor, domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 0}}}, store.ErrInvalidTransaction},
		{"over stock", cashierActor, domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 6}}}, store.ErrInsufficientStock},
		{"over stock across lines", cashierActor, domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 3}, {ProductID: "beer", Quantity: 3}}}, store.ErrInsufficientStock},
		{"other site product", cashierActor, domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "nuts", Quantity: 1}}}, store.ErrInvalidTransaction},
		{"inactive product", cashierActor, domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "old", Quantity: 1}}}, store.ErrInvalidTransaction},
		{"admin without site", adminActor, domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}}, store.ErrInvalidTransaction},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newRepo(t)
			svc := newTestService(repo)

			_, err := svc.Checkout(as(tc.actor), tc.req)
			require.ErrorIs(t, err, tc.wantErr)

			var checkoutErr *CheckoutError
			assert.False(t, errors.As(err, &checkoutErr))
			sales, err := repo.ListSales(context.Background(), store.SaleFilter{Scope: domain.Scope{All: true}})
			require.NoError(t, err)
			assert.Empty(t, sales)
			assert.Equal(t, 5, stockOf(t, repo, "beer"))
		})
	}
}

func TestCheckoutRequiresActor(t *testing.T) {
	svc := newTestService(newRepo(t))
	_, err := svc.Checkout(context.Background(), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAdminCheckoutAtSelectedSite(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)

	res, err := svc.Checkout(as(adminActor), domain.CheckoutRequest{SiteID: "s2", Items: []domain.CartLine{{ProductID: "nuts", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, "s2", res.SiteID)
	assert.Equal(t, 3, stockOf(t, repo, "nuts"))
}

func TestCheckoutHeaderFailureReportsSaleNotRecorded(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(failingSaleRepo{repo})

	_, err := svc.Checkout(as(cashierActor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}})

	require.ErrorIs(t, err, ErrSaleNotRecorded)
	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, domain.CheckoutStarted, checkoutErr.State)
	assert.Empty(t, checkoutErr.SaleID)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))
}

func TestCheckoutItemsFailureReportsInconsistentSale(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(failingItemsRepo{repo})

	_, err := svc.Checkout(as(cashierActor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}})

	require.ErrorIs(t, err, ErrInconsistentSale)
	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, domain.CheckoutHeaderPersisted, checkoutErr.State)

	_, getErr := repo.GetSale(context.Background(), checkoutErr.SaleID)
	require.NoError(t, getErr)
	assert.Empty(t, saleItems(t, repo, checkoutErr.SaleID))
	assert.Equal(t, 5, stockOf(t, repo, "beer"))
}

func TestCheckoutReconcileTimeoutReportsStockDesync(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(failingReconcileRepo{repo})

	_, err := svc.Checkout(as(cashierActor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 2}}})

	require.ErrorIs(t, err, ErrStockDesync)
	assert.NotErrorIs(t, err, ErrSaleNotRecorded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "stock_desync", KindName(err))
	assert.Contains(t, Guidance(err), "Do not resubmit")

	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	assert.Equal(t, domain.CheckoutItemsPersisted, checkoutErr.State)

	sale, getErr := repo.GetSale(context.Background(), checkoutErr.SaleID)
	require.NoError(t, getErr)
	assert.Nil(t, sale.StockReconciledAt)
	assert.Len(t, saleItems(t, repo, sale.ID), 1)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))

	repaired, err := newTestService(repo).ReconcileSale(as(adminActor), sale.ID)
	require.NoError(t, err)
	assert.True(t, repaired.Applied)
	assert.Equal(t, 3, stockOf(t, repo, "beer"))
}

func TestCheckoutAuditFailureIsNotReturned(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(failingMovementRepo{repo})

	res, err := svc.Checkout(as(cashierActor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutStockReconciled, res.State)
	assert.Equal(t, 4, stockOf(t, repo, "beer"))
}

func TestConcurrentCheckoutOfLastUnitIsDetectable(t *testing.T) {
	repo := newRepo(t)
	repo.PutProduct(domain.Product{ID: "beer", SiteID: "s1", Name: "Beer", Category: domain.CategoryAlcoholic, PurchasePriceCents: 600, SellingPriceCents: 1000, Stock: 1, AlertThreshold: 2, Active: true})

	var barrier sync.WaitGroup
	barrier.Add(2)
	svc := newTestService(barrierRepo{Store: repo, wg: &barrier})

	errs := make([]error, 2)
	var done sync.WaitGroup
	for i, actor := range []domain.Actor{cashierActor, cashier2Actor} {
		done.Add(1)
		go func() {
			defer done.Done()
			_, errs[i] = svc.Checkout(as(actor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}})
		}()
	}
	done.Wait()

	succeeded, oversold := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrStockDesync) && errors.Is(err, store.ErrInsufficientStock):
			oversold++
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, oversold)
	assert.Equal(t, 0, stockOf(t, repo, "beer"))

	sales, err := repo.ListSales(context.Background(), store.SaleFilter{Scope: domain.Scope{All: true}})
	require.NoError(t, err)
	assert.Len(t, sales, 2)
}

func TestReconcileSaleIsIdempotentAndAdminOnly(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)
	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 2})

	_, err := svc.ReconcileSale(as(managerActor), res.SaleID)
	assert.ErrorIs(t, err, ErrForbidden)

	again, err := svc.ReconcileSale(as(adminActor), res.SaleID)
	require.NoError(t, err)
	assert.False(t, again.Applied)
	assert.Equal(t, 3, stockOf(t, repo, "beer"))

	_, err = svc.ReconcileSale(as(adminActor), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReconcileSaleReportsBusyLock(t *testing.T) {
	repo := newRepo(t)
	locker := lock.NewLocalLocker(20 * time.Millisecond)
	svc := New(repo, nil, locker, nil, Options{})
	res, err := svc.Checkout(as(cashierActor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 1}}})
	require.NoError(t, err)

	held, err := locker.Obtain(context.Background(), "reconcile:"+res.SaleID, time.Second)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	_, err = svc.ReconcileSale(as(adminActor), res.SaleID)
	assert.ErrorIs(t, err, ErrLockBusy)
}

func TestCancelSaleItemRestoresStockAndKeepsSnapshot(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)
	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 2})
	require.Equal(t, 3, stockOf(t, repo, "beer"))
	item := saleItems(t, repo, res.SaleID)[0]

	out, err := svc.CancelSaleItem(as(managerActor), domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "beer", Quantity: 2})
	require.NoError(t, err)
	assert.True(t, out.StockRestored)
	assert.Equal(t, 5, out.Stock)
	assert.Empty(t, out.Note)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))

	sale, err := repo.GetSale(context.Background(), res.SaleID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), sale.TotalCents, "snapshot total is never rewritten")

	stats, err := svc.GetDashboardStats(as(cashierActor), "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, stats.ItemsSold)
	assert.Zero(t, stats.TodaySalesCents)

	movements := repo.Movements()
	require.Len(t, movements, 2)
	assert.Equal(t, domain.MovementIn, movements[1].Type)
}

func TestCancelSaleItemTwiceDoesNotDoubleRestore(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)
	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 2})
	item := saleItems(t, repo, res.SaleID)[0]
	req := domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "beer", Quantity: 2}

	_, err := svc.CancelSaleItem(as(adminActor), req)
	require.NoError(t, err)

	_, err = svc.CancelSaleItem(as(adminActor), req)
	require.ErrorIs(t, err, ErrCancelFlag)
	assert.ErrorIs(t, err, store.ErrAlreadyCancelled)
	var cancelErr *CancelError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, item.ID, cancelErr.SaleItemID)

	retry, err := svc.RetryStockRestore(as(adminActor), item.ID)
	require.NoError(t, err)
	assert.False(t, retry.StockRestored)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))
}

func TestConcurrentCancellationsRestoreOnce(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)
	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 2})
	item := saleItems(t, repo, res.SaleID)[0]
	req := domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "beer", Quantity: 2}

	var wg sync.WaitGroup
	var ok atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CancelSaleItem(as(adminActor), req); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, 5, stockOf(t, repo, "beer"))
}

func TestCancelSaleItemAuthorisation(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)
	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 1})
	item := saleItems(t, repo, res.SaleID)[0]
	req := domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "beer", Quantity: 1}

	_, err := svc.CancelSaleItem(as(cashierActor), req)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CancelSaleItem(WithManagerApproval(as(nordActor)), req)
	assert.ErrorIs(t, err, ErrForbidden, "cashier from another site")

	_, err = svc.CancelSaleItem(WithManagerApproval(as(cashierActor)), req)
	require.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))
}

func TestManagerCannotActOnAnotherSite(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)
	now := time.Now()

	_, err := svc.GetDashboardStats(as(managerActor), "s2", now.Add(-time.Hour), now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Checkout(as(managerActor), domain.CheckoutRequest{SiteID: "s2", Items: []domain.CartLine{{ProductID: "nuts", Quantity: 1}}})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 4, stockOf(t, repo, "nuts"))

	res := checkout(t, svc, nordActor, domain.CartLine{ProductID: "nuts", Quantity: 1})
	item := saleItems(t, repo, res.SaleID)[0]
	_, err = svc.CancelSaleItem(as(managerActor), domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "nuts", Quantity: 1})
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 3, stockOf(t, repo, "nuts"))
	assert.False(t, saleItems(t, repo, res.SaleID)[0].IsCancelled)

	stats, err := svc.GetDashboardStats(as(managerActor), "s1", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, domain.Scope{SiteID: "s1"}, stats.Scope)
}

func TestCancelSaleItemRejectsMismatchedRequest(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(repo)
	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 2})
	item := saleItems(t, repo, res.SaleID)[0]

	_, err := svc.CancelSaleItem(as(adminActor), domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "beer", Quantity: 5})
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)

	_, err = svc.CancelSaleItem(as(adminActor), domain.CancelSaleItemRequest{SaleItemID: "missing", ProductID: "beer", Quantity: 2})
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 3, stockOf(t, repo, "beer"))
}

func TestStockRestoreFailureCanBeRetried(t *testing.T) {
	repo := newRepo(t)
	flaky := &flakyRestoreRepo{Store: repo}
	svc := newTestService(flaky)
	res := checkout(t, svc, cashierActor, domain.CartLine{ProductID: "beer", Quantity: 2})
	item := saleItems(t, repo, res.SaleID)[0]

	flaky.fail.Store(true)
	_, err := svc.CancelSaleItem(as(managerActor), domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "beer", Quantity: 2})
	require.ErrorIs(t, err, ErrStockRestore)
	assert.Equal(t, "stock_restore_failed", KindName(err))

	stored, err := repo.GetSaleItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCancelled)
	assert.Equal(t, 3, stockOf(t, repo, "beer"))

	flaky.fail.Store(false)
	out, err := svc.RetryStockRestore(as(managerActor), item.ID)
	require.NoError(t, err)
	assert.True(t, out.StockRestored)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))
}

func TestCancelBeforeReconcileIsSettledByReconcile(t *testing.T) {
	repo := newRepo(t)
	svc := newTestService(failingReconcileRepo{repo})
	_, err := svc.Checkout(as(cashierActor), domain.CheckoutRequest{Items: []domain.CartLine{{ProductID: "beer", Quantity: 2}}})
	var checkoutErr *CheckoutError
	require.ErrorAs(t, err, &checkoutErr)
	item := saleItems(t, repo, checkoutErr.SaleID)[0]

	healthy := newTestService(repo)
	out, err := healthy.CancelSaleItem(as(adminActor), domain.CancelSaleItemRequest{SaleItemID: item.ID, ProductID: "beer", Quantity: 2})
	require.NoError(t, err)
	assert.False(t, out.StockRestored)
	assert.NotEmpty(t, out.Note)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))

	_, err = healthy.ReconcileSale(as(adminActor), checkoutErr.SaleID)
	require.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))

	retry, err := healthy.RetryStockRestore(as(adminActor), item.ID)
	require.NoError(t, err)
	assert.False(t, retry.StockRestored)
	assert.Equal(t, 5, stockOf(t, repo, "beer"))
}
