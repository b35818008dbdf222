package store

import (
	"context"
	"errors"
	"time"

	"barpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAlreadyCancelled   = errors.New("sale item already cancelled")
)

// SaleFilter selects sale headers newest-first. From is inclusive, To is
// exclusive; zero values leave the bound open. BeforeAt/BeforeID continue a
// previous page.
type SaleFilter struct {
	Scope    domain.Scope
	From     time.Time
	To       time.Time
	BeforeAt time.Time
	BeforeID string
	Limit    int
}

// SaleLineFilter selects non-cancelled sale lines by sale time.
type SaleLineFilter struct {
	Scope domain.Scope
	From  time.Time
	To    time.Time
}

type InventoryStore interface {
	ListProducts(ctx context.Context, scope domain.Scope, activeOnly bool) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	// AdjustStock applies delta atomically and rejects a negative result
	// with ErrInsufficientStock. It returns the new stock level.
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)
}

type SaleLedger interface {
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	CreateSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	GetSaleItem(ctx context.Context, id string) (*domain.SaleItem, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	ListSaleItems(ctx context.Context, saleIDs []string, includeCancelled bool) (map[string][]domain.SaleItem, error)
	ListSaleLines(ctx context.Context, filter SaleLineFilter) ([]domain.SaleLine, error)
	// ReconcileSale applies every stock decrement of the sale at once. It
	// reports applied=false when the sale was already reconciled.
	ReconcileSale(ctx context.Context, saleID string) (bool, error)
	// FlagSaleItemCancelled flips is_cancelled false->true, or fails with
	// ErrAlreadyCancelled.
	FlagSaleItemCancelled(ctx context.Context, saleItemID string, at time.Time) (*domain.SaleItem, error)
	// RestoreCancelledItemStock returns the item quantity to stock once.
	RestoreCancelledItemStock(ctx context.Context, saleItemID string, at time.Time) (restored bool, stock int, err error)
}

type MovementLog interface {
	CreateStockMovement(ctx context.Context, movement domain.StockMovement) error
}

type CapitalLedger interface {
	CreateCapitalTransaction(ctx context.Context, tx domain.CapitalTransaction) (*domain.CapitalTransaction, error)
	SumCapital(ctx context.Context, scope domain.Scope) (investments int64, withdrawals int64, err error)
	ListCapitalTransactions(ctx context.Context, scope domain.Scope, txType string, limit int) ([]domain.CapitalTransaction, error)
}

type UserStore interface {
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	GetUserNames(ctx context.Context, ids []string) (map[string]string, error)
}

type Repository interface {
	InventoryStore
	SaleLedger
	MovementLog
	CapitalLedger
	UserStore
}
