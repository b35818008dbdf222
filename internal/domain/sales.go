package domain

import "time"

// CheckoutState names the last durable step reached by a checkout run.
type CheckoutState string

const (
	CheckoutStarted         CheckoutState = "started"
	CheckoutHeaderPersisted CheckoutState = "header_persisted"
	CheckoutItemsPersisted  CheckoutState = "items_persisted"
	CheckoutStockReconciled CheckoutState = "stock_reconciled"
	CheckoutAuditWritten    CheckoutState = "audit_written"
)

type CartLine struct {
	ProductID          string `json:"product_id" validate:"required"`
	Name               string `json:"name,omitempty"`
	Quantity           int    `json:"quantity" validate:"gt=0"`
	SellingPriceCents  int64  `json:"selling_price_cents,omitempty"`
	PurchasePriceCents int64  `json:"purchase_price_cents,omitempty"`
}

type Cart struct {
	SiteID string     `json:"site_id"`
	Lines  []CartLine `json:"lines"`
}

func (c Cart) TotalCents() int64 {
	var total int64
	for _, line := range c.Lines {
		total += line.SellingPriceCents * int64(line.Quantity)
	}
	return total
}

func (c Cart) QuantityOf(productID string) int {
	qty := 0
	for _, line := range c.Lines {
		if line.ProductID == productID {
			qty += line.Quantity
		}
	}
	return qty
}

type AddToCartRequest struct {
	Cart      Cart   `json:"cart"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gt=0"`
}

type CartResponse struct {
	Cart       Cart   `json:"cart"`
	TotalCents int64  `json:"total_cents"`
	Total      string `json:"total"`
}

type CheckoutRequest struct {
	SiteID string     `json:"site_id"`
	Items  []CartLine `json:"items" validate:"required,min=1,dive"`
}

type CheckoutResult struct {
	SaleID      string        `json:"sale_id"`
	SiteID      string        `json:"site_id"`
	TotalCents  int64         `json:"total_cents"`
	ProfitCents int64         `json:"profit_cents"`
	ItemCount   int           `json:"item_count"`
	State       CheckoutState `json:"state"`
	CreatedAt   string        `json:"created_at"`
}

type ReconcileResult struct {
	SaleID  string `json:"sale_id"`
	Applied bool   `json:"applied"`
}

type CancelSaleItemRequest struct {
	SaleItemID string `json:"sale_item_id"`
	ProductID  string `json:"product_id" validate:"required"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type CancelSaleItemResult struct {
	SaleItemID    string `json:"sale_item_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
	StockRestored bool   `json:"stock_restored"`
	Stock         int    `json:"stock"`
	Note          string `json:"note,omitempty"`
}

type LowStockAlert struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	SiteID         string `json:"site_id"`
	Stock          int    `json:"stock"`
	AlertThreshold int    `json:"alert_threshold"`
}

type DashboardStats struct {
	Scope            Scope           `json:"scope"`
	WindowStart      time.Time       `json:"window_start"`
	WindowEnd        time.Time       `json:"window_end"`
	TodaySalesCents  int64           `json:"today_sales_cents"`
	TodayProfitCents *int64          `json:"today_profit_cents,omitempty"`
	ItemsSold        int             `json:"items_sold"`
	LowStockCount    int             `json:"low_stock_count"`
	TotalProducts    int             `json:"total_products"`
	LowStock         []LowStockAlert `json:"low_stock"`
	Capital          *CapitalSummary `json:"capital,omitempty"`
	ComputedAt       time.Time       `json:"computed_at"`
}

type CapitalSummary struct {
	InvestmentsCents  int64                `json:"investments_cents"`
	WithdrawalsCents  int64                `json:"withdrawals_cents"`
	RealizedProfit    int64                `json:"realized_profit_cents"`
	TotalCapitalCents int64                `json:"total_capital_cents"`
	RecentWithdrawals []CapitalTransaction `json:"recent_withdrawals"`
}

type CapitalTransactionRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=investment withdrawal"`
	Description string `json:"description" validate:"max=500"`
	SiteID      string `json:"site_id"`
}

// SaleHistoryEntry carries both the stored snapshot totals of the sale and
// the live totals of its remaining items.
type SaleHistoryEntry struct {
	Sale            Sale       `json:"sale"`
	Items           []SaleItem `json:"items"`
	CashierName     string     `json:"cashier_name"`
	LiveTotalCents  int64      `json:"live_total_cents"`
	LiveProfitCents int64      `json:"live_profit_cents"`
}

type SalesHistoryResponse struct {
	Entries          []SaleHistoryEntry `json:"entries"`
	TotalSalesCents  int64              `json:"total_sales_cents"`
	TotalProfitCents *int64             `json:"total_profit_cents,omitempty"`
	TotalCostCents   *int64             `json:"total_cost_cents,omitempty"`
	NextCursor       string             `json:"next_cursor,omitempty"`
}

type DailySales struct {
	Date                string `json:"date"`
	Sales               int    `json:"sales"`
	SnapshotTotalCents  int64  `json:"snapshot_total_cents"`
	SnapshotProfitCents int64  `json:"snapshot_profit_cents"`
	LiveTotalCents      int64  `json:"live_total_cents"`
	LiveProfitCents     int64  `json:"live_profit_cents"`
}

type ProductSales struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}

type SalesReport struct {
	Scope       Scope          `json:"scope"`
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	Daily       []DailySales   `json:"daily"`
	TopProducts []ProductSales `json:"top_products"`
}
