package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

type Store struct {
	mu          sync.RWMutex
	sites       map[string]domain.Site
	products    map[string]domain.Product
	sales       map[string]domain.Sale
	items       map[string]domain.SaleItem
	itemsBySale map[string][]string
	movements   []domain.StockMovement
	capital     []domain.CapitalTransaction
	users       map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		sites:       make(map[string]domain.Site),
		products:    make(map[string]domain.Product),
		sales:       make(map[string]domain.Sale),
		items:       make(map[string]domain.SaleItem),
		itemsBySale: make(map[string][]string),
		movements:   make([]domain.StockMovement, 0, 128),
		capital:     make([]domain.CapitalTransaction, 0, 16),
		users:       make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD,
// with dev defaults and a warning when unset.
func seedUsers(logger *zap.Logger) ([]domain.UserAccount, error) {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := make([]domain.UserAccount, 0, 4)
	for _, u := range []struct {
		id       string
		username string
		fullName string
		password string
		role     string
		siteID   string
	}{
		{"u-admin", "admin", "Administrateur", adminPwd, domain.RoleAdmin, ""},
		{"u-manager", "manager", "Gérant Centre", managerPwd, domain.RoleManager, "site-centre"},
		{"u-cashier", "cashier", "Caissier Centre", cashierPwd, domain.RoleCashier, "site-centre"},
		{"u-cashier-nord", "cashier-nord", "Caissier Nord", cashierPwd, domain.RoleCashier, "site-nord"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.username, err)
		}
		users = append(users, domain.UserAccount{
			ID:        u.id,
			Username:  u.username,
			FullName:  u.fullName,
			Password:  string(hash),
			Role:      u.role,
			SiteID:    u.siteID,
			Active:    true,
			CreatedAt: now,
		})
	}
	return users, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with two sites, a small bar catalogue and the
// demo accounts. A nil logger discards the credential warning.
func NewSeeded(logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	s.sites["site-centre"] = domain.Site{ID: "site-centre", Name: "Centre"}
	s.sites["site-nord"] = domain.Site{ID: "site-nord", Name: "Nord"}

	for _, p := range []domain.Product{
		{ID: "prd-primus", SiteID: "site-centre", Name: "Primus 72cl", Category: domain.CategoryAlcoholic, PurchasePriceCents: 180000, SellingPriceCents: 250000, Stock: 48, AlertThreshold: 12, Active: true},
		{ID: "prd-simba", SiteID: "site-centre", Name: "Simba 60cl", Category: domain.CategoryAlcoholic, PurchasePriceCents: 170000, SellingPriceCents: 230000, Stock: 36, AlertThreshold: 12, Active: true},
		{ID: "prd-coca", SiteID: "site-centre", Name: "Coca-Cola 33cl", Category: domain.CategoryNonAlcoholic, PurchasePriceCents: 60000, SellingPriceCents: 100000, Stock: 60, AlertThreshold: 20, Active: true},
		{ID: "prd-mojito", SiteID: "site-centre", Name: "Mojito", Category: domain.CategoryCocktail, PurchasePriceCents: 250000, SellingPriceCents: 600000, Stock: 20, AlertThreshold: 5, Active: true},
		{ID: "prd-chips", SiteID: "site-centre", Name: "Chips", Category: domain.CategorySnack, PurchasePriceCents: 40000, SellingPriceCents: 100000, Stock: 8, AlertThreshold: 10, Active: true},
		{ID: "prd-tonic", SiteID: "site-centre", Name: "Tonic", Category: domain.CategoryNonAlcoholic, PurchasePriceCents: 50000, SellingPriceCents: 90000, Stock: 0, AlertThreshold: 5, Active: false},
		{ID: "prd-nord-primus", SiteID: "site-nord", Name: "Primus 72cl", Category: domain.CategoryAlcoholic, PurchasePriceCents: 180000, SellingPriceCents: 260000, Stock: 24, AlertThreshold: 12, Active: true},
		{ID: "prd-nord-peanuts", SiteID: "site-nord", Name: "Cacahuètes", Category: domain.CategorySnack, PurchasePriceCents: 20000, SellingPriceCents: 50000, Stock: 3, AlertThreshold: 5, Active: true},
	} {
		p.UpdatedAt = now
		s.products[p.ID] = p
	}

	users, err := seedUsers(logger)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		s.users[u.Username] = u
	}
	return s, nil
}

// PutSite and PutProduct seed or overwrite reference data.
func (s *Store) PutSite(site domain.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.ID] = site
}

func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
}

func (s *Store) PutUser(user domain.UserAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Username] = user
}

func (s *Store) ListProducts(_ context.Context, scope domain.Scope, activeOnly bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !scope.Includes(p.SiteID) || (activeOnly && !p.Active) {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStockLocked(productID, delta)
}

func (s *Store) adjustStockLocked(productID string, delta int) (int, error) {
	product, ok := s.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return product.Stock, fmt.Errorf("%w: product %s has %d, delta %d", store.ErrInsufficientStock, productID, product.Stock, delta)
	}
	product.Stock += delta
	product.UpdatedAt = time.Now().UTC()
	s.products[productID] = product
	return product.Stock, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New()
	}
	if sale.SiteID == "" || sale.CashierID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if _, ok := s.sites[sale.SiteID]; !ok {
		return nil, fmt.Errorf("%w: unknown site %s", store.ErrInvalidTransaction, sale.SiteID)
	}
	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.StockReconciledAt = nil

	s.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) CreateSaleItems(_ context.Context, saleID string, items []domain.SaleItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return store.ErrNotFound
	}
	if len(items) == 0 {
		return store.ErrInvalidTransaction
	}

	prepared := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return store.ErrInvalidTransaction
		}
		product, ok := s.products[item.ProductID]
		if !ok || product.SiteID != sale.SiteID {
			return fmt.Errorf("%w: product %s not sold at site %s", store.ErrInvalidTransaction, item.ProductID, sale.SiteID)
		}
		if item.ID == "" {
			item.ID = xid.New()
		}
		if _, exists := s.items[item.ID]; exists {
			return store.ErrInvalidTransaction
		}
		item.SaleID = saleID
		item.SubtotalCents = item.UnitPriceCents * int64(item.Quantity)
		item.IsCancelled = false
		item.CancelledAt = nil
		item.StockRestoredAt = nil
		prepared = append(prepared, item)
	}

	for _, item := range prepared {
		s.items[item.ID] = item
		s.itemsBySale[saleID] = append(s.itemsBySale[saleID], item.ID)
	}
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) GetSaleItem(_ context.Context, id string) (*domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneItem(item), nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.sales {
		if !filter.Scope.Includes(sale.SiteID) || !inWindow(sale.CreatedAt, filter.From, filter.To) {
			continue
		}
		if !filter.BeforeAt.IsZero() && !before(sale, filter.BeforeAt, filter.BeforeID) {
			continue
		}
		sales = append(sales, *cloneSale(sale))
	}

	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) ListSaleItems(_ context.Context, saleIDs []string, includeCancelled bool) (map[string][]domain.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]domain.SaleItem, len(saleIDs))
	for _, saleID := range saleIDs {
		for _, itemID := range s.itemsBySale[saleID] {
			item := s.items[itemID]
			if item.IsCancelled && !includeCancelled {
				continue
			}
			result[saleID] = append(result[saleID], *cloneItem(item))
		}
	}
	return result, nil
}

func (s *Store) ListSaleLines(_ context.Context, filter store.SaleLineFilter) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SaleLine, 0, 64)
	for saleID, itemIDs := range s.itemsBySale {
		sale, ok := s.sales[saleID]
		if !ok || !filter.Scope.Includes(sale.SiteID) || !inWindow(sale.CreatedAt, filter.From, filter.To) {
			continue
		}
		for _, itemID := range itemIDs {
			item := s.items[itemID]
			if item.IsCancelled {
				continue
			}
			lines = append(lines, domain.SaleLine{
				SaleItemID:    item.ID,
				SaleID:        sale.ID,
				SiteID:        sale.SiteID,
				CashierID:     sale.CashierID,
				ProductID:     item.ProductID,
				ProductName:   s.products[item.ProductID].Name,
				Quantity:      item.Quantity,
				SubtotalCents: item.SubtotalCents,
				UnitCostCents: item.UnitCostCents,
				SoldAt:        sale.CreatedAt,
			})
		}
	}

	slices.SortFunc(lines, func(a, b domain.SaleLine) int {
		if a.SoldAt.Equal(b.SoldAt) {
			return strings.Compare(a.SaleItemID, b.SaleItemID)
		}
		return a.SoldAt.Compare(b.SoldAt)
	})
	return lines, nil
}

func (s *Store) ReconcileSale(_ context.Context, saleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[saleID]
	if !ok {
		return false, store.ErrNotFound
	}
	if sale.StockReconciledAt != nil {
		return false, nil
	}

	demand := make(map[string]int)
	order := make([]string, 0, 8)
	for _, itemID := range s.itemsBySale[saleID] {
		item := s.items[itemID]
		if item.IsCancelled {
			continue
		}
		if _, seen := demand[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		demand[item.ProductID] += item.Quantity
	}

	for _, productID := range order {
		product, ok := s.products[productID]
		if !ok || product.SiteID != sale.SiteID {
			return false, fmt.Errorf("%w: product %s missing for sale %s", store.ErrNotFound, productID, saleID)
		}
		if product.Stock < demand[productID] {
			return false, fmt.Errorf("%w: product %s has %d, sale %s needs %d", store.ErrInsufficientStock, productID, product.Stock, saleID, demand[productID])
		}
	}

	for _, productID := range order {
		if _, err := s.adjustStockLocked(productID, -demand[productID]); err != nil {
			return false, err
		}
	}

	now := time.Now().UTC()
	for _, itemID := range s.itemsBySale[saleID] {
		item := s.items[itemID]
		if item.IsCancelled && item.StockRestoredAt == nil {
			item.StockRestoredAt = &now
			s.items[itemID] = item
		}
	}
	sale.StockReconciledAt = &now
	s.sales[saleID] = sale
	return true, nil
}

func (s *Store) FlagSaleItemCancelled(_ context.Context, saleItemID string, at time.Time) (*domain.SaleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[saleItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if item.IsCancelled {
		return cloneItem(item), store.ErrAlreadyCancelled
	}
	item.IsCancelled = true
	item.CancelledAt = &at
	s.items[saleItemID] = item
	return cloneItem(item), nil
}

func (s *Store) RestoreCancelledItemStock(_ context.Context, saleItemID string, at time.Time) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[saleItemID]
	if !ok {
		return false, 0, store.ErrNotFound
	}
	product, ok := s.products[item.ProductID]
	if !ok {
		return false, 0, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
	}
	if !item.IsCancelled {
		return false, product.Stock, store.ErrInvalidTransaction
	}
	if item.StockRestoredAt != nil {
		return false, product.Stock, nil
	}
	if sale := s.sales[item.SaleID]; sale.StockReconciledAt == nil {
		return false, product.Stock, nil
	}

	stock, err := s.adjustStockLocked(item.ProductID, item.Quantity)
	if err != nil {
		return false, product.Stock, err
	}
	item.StockRestoredAt = &at
	s.items[saleItemID] = item
	return true, stock, nil
}

func (s *Store) CreateStockMovement(_ context.Context, movement domain.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if movement.ProductID == "" || movement.Quantity < 1 {
		return store.ErrInvalidTransaction
	}
	if movement.Type != domain.MovementIn && movement.Type != domain.MovementOut {
		return store.ErrInvalidTransaction
	}
	if movement.ID == "" {
		movement.ID = xid.New()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.movements = append(s.movements, movement)
	return nil
}

// Movements returns a copy of the audit trail, oldest first.
func (s *Store) Movements() []domain.StockMovement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.movements)
}

func (s *Store) CreateCapitalTransaction(_ context.Context, tx domain.CapitalTransaction) (*domain.CapitalTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.AmountCents <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	if tx.Type != domain.CapitalInvestment && tx.Type != domain.CapitalWithdrawal {
		return nil, store.ErrInvalidTransaction
	}
	if tx.SiteID != "" {
		if _, ok := s.sites[tx.SiteID]; !ok {
			return nil, fmt.Errorf("%w: unknown site %s", store.ErrInvalidTransaction, tx.SiteID)
		}
	}
	if tx.ID == "" {
		tx.ID = xid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.capital = append(s.capital, tx)
	created := tx
	return &created, nil
}

func (s *Store) SumCapital(_ context.Context, scope domain.Scope) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var investments, withdrawals int64
	for _, tx := range s.capital {
		if !capitalInScope(scope, tx) {
			continue
		}
		switch tx.Type {
		case domain.CapitalInvestment:
			investments += tx.AmountCents
		case domain.CapitalWithdrawal:
			withdrawals += tx.AmountCents
		}
	}
	return investments, withdrawals, nil
}

func (s *Store) ListCapitalTransactions(_ context.Context, scope domain.Scope, txType string, limit int) ([]domain.CapitalTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CapitalTransaction, 0, 8)
	for _, tx := range s.capital {
		if !capitalInScope(scope, tx) || (txType != "" && tx.Type != txType) {
			continue
		}
		result = append(result, tx)
	}
	slices.SortFunc(result, func(a, b domain.CapitalTransaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func (s *Store) GetUserNames(_ context.Context, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	names := make(map[string]string, len(ids))
	for _, user := range s.users {
		if _, ok := wanted[user.ID]; !ok {
			continue
		}
		name := user.FullName
		if name == "" {
			name = user.Username
		}
		names[user.ID] = name
	}
	return names, nil
}

// capitalInScope keeps site rows for a site scope; all-sites rows only
// count in the all-sites scope.
func capitalInScope(scope domain.Scope, tx domain.CapitalTransaction) bool {
	if scope.All {
		return true
	}
	return tx.SiteID != "" && tx.SiteID == scope.SiteID
}

func inWindow(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func before(sale domain.Sale, at time.Time, id string) bool {
	if sale.CreatedAt.Before(at) {
		return true
	}
	return sale.CreatedAt.Equal(at) && id != "" && sale.ID < id
}

func cloneSale(src domain.Sale) *domain.Sale {
	dup := src
	if src.StockReconciledAt != nil {
		at := *src.StockReconciledAt
		dup.StockReconciledAt = &at
	}
	return &dup
}

func cloneItem(src domain.SaleItem) *domain.SaleItem {
	dup := src
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dup.CancelledAt = &at
	}
	if src.StockRestoredAt != nil {
		at := *src.StockRestoredAt
		dup.StockRestoredAt = &at
	}
	return &dup
}
