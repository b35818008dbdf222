package domain

import "time"

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const (
	CategoryAlcoholic    = "alcoholic"
	CategoryNonAlcoholic = "non_alcoholic"
	CategoryCocktail     = "cocktail"
	CategorySnack        = "snack"
)

const (
	MovementIn  = "in"
	MovementOut = "out"
)

const (
	CapitalInvestment = "investment"
	CapitalWithdrawal = "withdrawal"
)

// AllSites is the selection value that asks for a cross-site scope.
const AllSites = "all"

func IsValidCategory(category string) bool {
	switch category {
	case CategoryAlcoholic, CategoryNonAlcoholic, CategoryCocktail, CategorySnack:
		return true
	}
	return false
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleCashier:
		return true
	}
	return false
}

type Site struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

type Product struct {
	ID                 string    `json:"id" db:"id"`
	SiteID             string    `json:"site_id" db:"site_id"`
	Name               string    `json:"name" db:"name"`
	Category           string    `json:"category" db:"category"`
	PurchasePriceCents int64     `json:"purchase_price_cents" db:"purchase_price_cents"`
	SellingPriceCents  int64     `json:"selling_price_cents" db:"selling_price_cents"`
	Stock              int       `json:"stock" db:"stock"`
	AlertThreshold     int       `json:"alert_threshold" db:"alert_threshold"`
	Active             bool      `json:"active" db:"is_active"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// IsLowStock reports whether the product sits at or below its alert threshold.
func (p Product) IsLowStock() bool {
	return p.Stock <= p.AlertThreshold
}

// Sale totals are write-time snapshots; cancellations never rewrite them.
type Sale struct {
	ID                string     `json:"id" db:"id"`
	SiteID            string     `json:"site_id" db:"site_id"`
	CashierID         string     `json:"cashier_id" db:"cashier_id"`
	TotalCents        int64      `json:"total_cents" db:"total_cents"`
	ProfitCents       int64      `json:"profit_cents" db:"profit_cents"`
	StockReconciledAt *time.Time `json:"stock_reconciled_at,omitempty" db:"stock_reconciled_at"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

type SaleItem struct {
	ID              string     `json:"id" db:"id"`
	SaleID          string     `json:"sale_id" db:"sale_id"`
	ProductID       string     `json:"product_id" db:"product_id"`
	Quantity        int        `json:"quantity" db:"quantity"`
	UnitPriceCents  int64      `json:"unit_price_cents" db:"unit_price_cents"`
	UnitCostCents   int64      `json:"unit_cost_cents" db:"unit_cost_cents"`
	SubtotalCents   int64      `json:"subtotal_cents" db:"subtotal_cents"`
	IsCancelled     bool       `json:"is_cancelled" db:"is_cancelled"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	StockRestoredAt *time.Time `json:"stock_restored_at,omitempty" db:"stock_restored_at"`
}

// ProfitCents is the live margin of the line, using the cost captured at sale time.
func (i SaleItem) ProfitCents() int64 {
	return i.SubtotalCents - i.UnitCostCents*int64(i.Quantity)
}

type StockMovement struct {
	ID        string    `json:"id" db:"id"`
	ProductID string    `json:"product_id" db:"product_id"`
	SiteID    string    `json:"site_id" db:"site_id"`
	Type      string    `json:"type" db:"type"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UserID    string    `json:"user_id" db:"user_id"`
	Notes     string    `json:"notes" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type CapitalTransaction struct {
	ID          string    `json:"id" db:"id"`
	SiteID      string    `json:"site_id,omitempty" db:"site_id"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	Type        string    `json:"type" db:"type"`
	Description string    `json:"description" db:"description"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SaleLine is a non-cancelled sale item joined with its sale header, the
// read model every aggregation is computed from.
type SaleLine struct {
	SaleItemID    string    `db:"sale_item_id"`
	SaleID        string    `db:"sale_id"`
	SiteID        string    `db:"site_id"`
	CashierID     string    `db:"cashier_id"`
	ProductID     string    `db:"product_id"`
	ProductName   string    `db:"product_name"`
	Quantity      int       `db:"quantity"`
	SubtotalCents int64     `db:"subtotal_cents"`
	UnitCostCents int64     `db:"unit_cost_cents"`
	SoldAt        time.Time `db:"sold_at"`
}

func (l SaleLine) ProfitCents() int64 {
	return l.SubtotalCents - l.UnitCostCents*int64(l.Quantity)
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string    `db:"id"`
	Username  string    `db:"username"`
	FullName  string    `db:"full_name"`
	Password  string    `db:"password_hash"`
	Role      string    `db:"role"`
	SiteID    string    `db:"site_id"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type Actor struct {
	UserID   string
	Username string
	Role     string
	SiteID   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Scope is the effective site filter of a query. An empty SiteID with All set
// means every site.
type Scope struct {
	SiteID string `json:"site_id,omitempty"`
	All    bool   `json:"all_sites"`
}

func (s Scope) Includes(siteID string) bool {
	return s.All || s.SiteID == siteID
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	SiteID      string `json:"site_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}
