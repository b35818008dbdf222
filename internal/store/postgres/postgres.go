package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/store"
	"barpos/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, site_id, name, category, purchase_price_cents, selling_price_cents, stock, alert_threshold, is_active, updated_at`

func (s *Store) ListProducts(ctx context.Context, scope domain.Scope, activeOnly bool) ([]domain.Product, error) {
	var w where
	w.scope("site_id", scope)
	if activeOnly {
		w.add("is_active = true")
	}

	products := make([]domain.Product, 0, 64)
	query := s.db.Rebind(`SELECT ` + productColumns + ` FROM products` + w.clause() + ` ORDER BY name, id`)
	if err := s.db.SelectContext(ctx, &products, query, w.args...); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := s.db.SelectContext(ctx, &products, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock
	`, productID, delta)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	current, getErr := s.GetProduct(ctx, productID)
	if getErr != nil {
		return 0, getErr
	}
	return current.Stock, fmt.Errorf("%w: product %s has %d, delta %d", store.ErrInsufficientStock, productID, current.Stock, delta)
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" {
		sale.ID = xid.New()
	}
	if sale.SiteID == "" || sale.CashierID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.StockReconciledAt = nil

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sales (id, site_id, cashier_id, total_cents, profit_cents, created_at)
		VALUES (:id, :site_id, :cashier_id, :total_cents, :profit_cents, :created_at)
	`, sale)
	if err != nil {
		if isUniqueViolation(err) || isForeignKeyViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) CreateSaleItems(ctx context.Context, saleID string, items []domain.SaleItem) error {
	if len(items) == 0 {
		return store.ErrInvalidTransaction
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var siteID string
	if err := tx.GetContext(ctx, &siteID, `SELECT site_id FROM sales WHERE id = $1 FOR UPDATE`, saleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	productIDs := uniqueProductIDs(items)
	query, args, err := sqlx.In(`SELECT id FROM products WHERE site_id = ? AND id IN (?)`, siteID, productIDs)
	if err != nil {
		return err
	}
	var found []string
	if err := tx.SelectContext(ctx, &found, tx.Rebind(query), args...); err != nil {
		return err
	}
	if len(found) != len(productIDs) {
		return fmt.Errorf("%w: products not sold at site %s", store.ErrInvalidTransaction, siteID)
	}

	for _, item := range items {
		if item.Quantity < 1 {
			return store.ErrInvalidTransaction
		}
		if item.ID == "" {
			item.ID = xid.New()
		}
		item.SaleID = saleID
		item.SubtotalCents = item.UnitPriceCents * int64(item.Quantity)
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, quantity, unit_price_cents, unit_cost_cents, subtotal_cents, is_cancelled)
			VALUES (:id, :sale_id, :product_id, :quantity, :unit_price_cents, :unit_cost_cents, :subtotal_cents, false)
		`, item)
		if err != nil {
			if isUniqueViolation(err) || isForeignKeyViolation(err) {
				return store.ErrInvalidTransaction
			}
			return err
		}
	}

	return tx.Commit()
}

const saleColumns = `id, site_id, cashier_id, total_cents, profit_cents, stock_reconciled_at, created_at`
const saleItemColumns = `id, sale_id, product_id, quantity, unit_price_cents, unit_cost_cents, subtotal_cents, is_cancelled, cancelled_at, stock_restored_at`

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	if err := s.db.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSaleItem(ctx context.Context, id string) (*domain.SaleItem, error) {
	var item domain.SaleItem
	if err := s.db.GetContext(ctx, &item, `SELECT `+saleItemColumns+` FROM sale_items WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	var w where
	w.scope("site_id", filter.Scope)
	w.window("created_at", filter.From, filter.To)
	if !filter.BeforeAt.IsZero() {
		w.add("(created_at, id) < (?, ?)", filter.BeforeAt, filter.BeforeID)
	}

	query := `SELECT ` + saleColumns + ` FROM sales` + w.clause() + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	sales := make([]domain.Sale, 0, 32)
	if err := s.db.SelectContext(ctx, &sales, s.db.Rebind(query), w.args...); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListSaleItems(ctx context.Context, saleIDs []string, includeCancelled bool) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	raw := `SELECT ` + saleItemColumns + ` FROM sale_items WHERE sale_id IN (?)`
	if !includeCancelled {
		raw += ` AND is_cancelled = false`
	}
	query, args, err := sqlx.In(raw+` ORDER BY sale_id, id`, saleIDs)
	if err != nil {
		return nil, err
	}

	var items []domain.SaleItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, item := range items {
		result[item.SaleID] = append(result[item.SaleID], item)
	}
	return result, nil
}

func (s *Store) ListSaleLines(ctx context.Context, filter store.SaleLineFilter) ([]domain.SaleLine, error) {
	var w where
	w.add("si.is_cancelled = false")
	w.scope("s.site_id", filter.Scope)
	w.window("s.created_at", filter.From, filter.To)

	query := `
		SELECT si.id AS sale_item_id, s.id AS sale_id, s.site_id, s.cashier_id,
			si.product_id, p.name AS product_name, si.quantity, si.subtotal_cents,
			si.unit_cost_cents, s.created_at AS sold_at
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		JOIN products p ON p.id = si.product_id` + w.clause() + `
		ORDER BY s.created_at, si.id`

	lines := make([]domain.SaleLine, 0, 64)
	if err := s.db.SelectContext(ctx, &lines, s.db.Rebind(query), w.args...); err != nil {
		return nil, err
	}
	return lines, nil
}

// ReconcileSale locks the sale and every product it touches, then applies
// the aggregated decrements in one transaction.
func (s *Store) ReconcileSale(ctx context.Context, saleID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var sale domain.Sale
	if err := tx.GetContext(ctx, &sale, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, store.ErrNotFound
		}
		return false, err
	}
	if sale.StockReconciledAt != nil {
		return false, nil
	}

	// Item rows stay locked until commit so a concurrent cancel flag waits
	// and is settled by its own restore instead of the marker below.
	var rows []struct {
		ID          string `db:"id"`
		ProductID   string `db:"product_id"`
		Quantity    int    `db:"quantity"`
		IsCancelled bool   `db:"is_cancelled"`
	}
	if err := tx.SelectContext(ctx, &rows, `
		SELECT id, product_id, quantity, is_cancelled
		FROM sale_items
		WHERE sale_id = $1 AND stock_restored_at IS NULL
		ORDER BY id
		FOR UPDATE
	`, saleID); err != nil {
		return false, err
	}

	type productDemand struct {
		ProductID string
		Quantity  int
	}
	var demand []productDemand
	byProduct := make(map[string]int)
	var settled []string
	for _, r := range rows {
		if r.IsCancelled {
			settled = append(settled, r.ID)
			continue
		}
		idx, ok := byProduct[r.ProductID]
		if !ok {
			idx = len(demand)
			byProduct[r.ProductID] = idx
			demand = append(demand, productDemand{ProductID: r.ProductID})
		}
		demand[idx].Quantity += r.Quantity
	}
	sort.Slice(demand, func(i, j int) bool { return demand[i].ProductID < demand[j].ProductID })

	if len(demand) > 0 {
		ids := make([]string, 0, len(demand))
		for _, d := range demand {
			ids = append(ids, d.ProductID)
		}
		query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?) ORDER BY id FOR UPDATE`, ids)
		if err != nil {
			return false, err
		}
		var locked []domain.Product
		if err := tx.SelectContext(ctx, &locked, tx.Rebind(query), args...); err != nil {
			return false, err
		}
		stock := make(map[string]domain.Product, len(locked))
		for _, p := range locked {
			stock[p.ID] = p
		}

		for _, d := range demand {
			product, ok := stock[d.ProductID]
			if !ok || product.SiteID != sale.SiteID {
				return false, fmt.Errorf("%w: product %s missing for sale %s", store.ErrNotFound, d.ProductID, saleID)
			}
			if product.Stock < d.Quantity {
				return false, fmt.Errorf("%w: product %s has %d, sale %s needs %d", store.ErrInsufficientStock, d.ProductID, product.Stock, saleID, d.Quantity)
			}
		}

		for _, d := range demand {
			if _, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock - $2, updated_at = now()
				WHERE id = $1
			`, d.ProductID, d.Quantity); err != nil {
				return false, err
			}
		}
	}

	now := time.Now().UTC()
	if len(settled) > 0 {
		query, args, err := sqlx.In(`UPDATE sale_items SET stock_restored_at = ? WHERE id IN (?)`, now, settled)
		if err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return false, err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET stock_reconciled_at = $2 WHERE id = $1`, saleID, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) FlagSaleItemCancelled(ctx context.Context, saleItemID string, at time.Time) (*domain.SaleItem, error) {
	var item domain.SaleItem
	err := s.db.GetContext(ctx, &item, `
		UPDATE sale_items
		SET is_cancelled = true, cancelled_at = $2
		WHERE id = $1 AND is_cancelled = false
		RETURNING `+saleItemColumns, saleItemID, at)
	if err == nil {
		return &item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	existing, getErr := s.GetSaleItem(ctx, saleItemID)
	if getErr != nil {
		return nil, getErr
	}
	return existing, store.ErrAlreadyCancelled
}

func (s *Store) RestoreCancelledItemStock(ctx context.Context, saleItemID string, at time.Time) (bool, int, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return false, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var row struct {
		ProductID         string     `db:"product_id"`
		Quantity          int        `db:"quantity"`
		IsCancelled       bool       `db:"is_cancelled"`
		StockRestoredAt   *time.Time `db:"stock_restored_at"`
		StockReconciledAt *time.Time `db:"stock_reconciled_at"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT si.product_id, si.quantity, si.is_cancelled, si.stock_restored_at, s.stock_reconciled_at
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE si.id = $1
		FOR UPDATE OF si, s
	`, saleItemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, store.ErrNotFound
		}
		return false, 0, err
	}

	var stock int
	if err := tx.GetContext(ctx, &stock, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, row.ProductID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, fmt.Errorf("%w: product %s", store.ErrNotFound, row.ProductID)
		}
		return false, 0, err
	}
	if !row.IsCancelled {
		return false, stock, store.ErrInvalidTransaction
	}
	if row.StockRestoredAt != nil || row.StockReconciledAt == nil {
		return false, stock, nil
	}

	if err := tx.GetContext(ctx, &stock, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, row.ProductID, row.Quantity); err != nil {
		return false, 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sale_items SET stock_restored_at = $2 WHERE id = $1`, saleItemID, at); err != nil {
		return false, 0, err
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, stock, nil
}

func (s *Store) CreateStockMovement(ctx context.Context, movement domain.StockMovement) error {
	if movement.ProductID == "" || movement.Quantity < 1 {
		return store.ErrInvalidTransaction
	}
	if movement.ID == "" {
		movement.ID = xid.New()
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_movements (id, product_id, site_id, type, quantity, user_id, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, movement.ID, movement.ProductID, movement.SiteID, movement.Type, movement.Quantity, nullIfEmpty(movement.UserID), movement.Notes, movement.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) CreateCapitalTransaction(ctx context.Context, capital domain.CapitalTransaction) (*domain.CapitalTransaction, error) {
	if capital.AmountCents <= 0 {
		return nil, store.ErrInvalidTransaction
	}
	if capital.Type != domain.CapitalInvestment && capital.Type != domain.CapitalWithdrawal {
		return nil, store.ErrInvalidTransaction
	}
	if capital.ID == "" {
		capital.ID = xid.New()
	}
	if capital.CreatedAt.IsZero() {
		capital.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capital_transactions (id, site_id, amount_cents, type, description, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, capital.ID, nullIfEmpty(capital.SiteID), capital.AmountCents, capital.Type, capital.Description, capital.CreatedBy, capital.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := capital
	return &created, nil
}

func (s *Store) SumCapital(ctx context.Context, scope domain.Scope) (int64, int64, error) {
	var w where
	if !scope.All {
		w.add("site_id = ?", scope.SiteID)
	}

	var sums struct {
		Investments int64 `db:"investments"`
		Withdrawals int64 `db:"withdrawals"`
	}
	query := `
		SELECT
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'investment'), 0) AS investments,
			COALESCE(SUM(amount_cents) FILTER (WHERE type = 'withdrawal'), 0) AS withdrawals
		FROM capital_transactions` + w.clause()
	if err := s.db.GetContext(ctx, &sums, s.db.Rebind(query), w.args...); err != nil {
		return 0, 0, err
	}
	return sums.Investments, sums.Withdrawals, nil
}

func (s *Store) ListCapitalTransactions(ctx context.Context, scope domain.Scope, txType string, limit int) ([]domain.CapitalTransaction, error) {
	var w where
	if !scope.All {
		w.add("site_id = ?", scope.SiteID)
	}
	if txType != "" {
		w.add("type = ?", txType)
	}

	query := `
		SELECT id, COALESCE(site_id, '') AS site_id, amount_cents, type, description, created_by, created_at
		FROM capital_transactions` + w.clause() + `
		ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	result := make([]domain.CapitalTransaction, 0, 8)
	if err := s.db.SelectContext(ctx, &result, s.db.Rebind(query), w.args...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.SelectContext(ctx, &users, `
		SELECT id, username, full_name, password_hash, role, COALESCE(site_id, '') AS site_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password_hash = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetUserNames(ctx context.Context, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, COALESCE(NULLIF(full_name, ''), username) AS name
		FROM app_users
		WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		names[row.ID] = row.Name
	}
	return names, nil
}

// where collects AND-ed conditions written with ? placeholders; callers
// Rebind the final query.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *where) scope(column string, scope domain.Scope) {
	if scope.All {
		return
	}
	w.add(column+" = ?", scope.SiteID)
}

func (w *where) window(column string, from time.Time, to time.Time) {
	if !from.IsZero() {
		w.add(column+" >= ?", from)
	}
	if !to.IsZero() {
		w.add(column+" < ?", to)
	}
}

func (w *where) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func uniqueProductIDs(items []domain.SaleItem) []string {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item.ProductID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
