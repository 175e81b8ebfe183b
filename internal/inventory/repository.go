package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/platform/db"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, id int64) (Item, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	SetCurrentStock(ctx context.Context, id int64, stock decimal.Decimal, at time.Time) error
	InsertTransaction(ctx context.Context, entry Transaction) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// ItemColumns is the select list ScanItem expects.
const ItemColumns = `id, facility_id, name, sku, unit, current_stock, minimum_stock, maximum_stock,
	cost_price, selling_price, auto_reorder, reorder_quantity, COALESCE(primary_vendor_id, 0),
	has_expiry, expiry_alert_days, is_active, COALESCE(created_by, 0), created_at, updated_at`

// TransactionColumns is the select list ScanTransaction expects.
const TransactionColumns = `id, item_id, transaction_type, quantity, unit_price, total_amount,
	stock_before, stock_after, clamped, reference, COALESCE(vendor_id, 0), batch_number,
	expiry_date, notes, transacted_at, COALESCE(created_by, 0)`

// GetItem loads one item without locking.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ItemColumns+` FROM inventory_items WHERE id = $1`, id)
	return ScanItem(row)
}

// ListTransactions returns ledger rows for an item, newest first.
func (r *Repository) ListTransactions(ctx context.Context, itemID int64, limit int) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+TransactionColumns+`
FROM stock_transactions
WHERE item_id = $1
ORDER BY transacted_at DESC, id DESC
LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		entry, err := ScanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// ListActiveItemIDs returns the active items of a facility, or of every
// facility when facilityID is zero.
func (r *Repository) ListActiveItemIDs(ctx context.Context, facilityID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM inventory_items
WHERE is_active AND ($1::bigint = 0 OR facility_id = $1)
ORDER BY id`, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *txRepo) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+ItemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, id)
	return ScanItem(row)
}

func (r *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_items (
	facility_id, name, sku, unit, current_stock, minimum_stock, maximum_stock, cost_price,
	selling_price, auto_reorder, reorder_quantity, primary_vendor_id, has_expiry,
	expiry_alert_days, is_active, created_by, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING id`,
		item.FacilityID, item.Name, item.SKU, item.Unit, item.CurrentStock, item.MinimumStock,
		item.MaximumStock, item.CostPrice, item.SellingPrice, item.AutoReorder, item.ReorderQuantity,
		nullInt(item.PrimaryVendorID), item.HasExpiry, item.ExpiryAlertDays, item.IsActive,
		nullInt(item.CreatedBy), item.CreatedAt, item.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_items SET
	name = $2, unit = $3, minimum_stock = $4, maximum_stock = $5, cost_price = $6,
	selling_price = $7, auto_reorder = $8, reorder_quantity = $9, primary_vendor_id = $10,
	has_expiry = $11, expiry_alert_days = $12, is_active = $13, updated_at = $14
WHERE id = $1`,
		item.ID, item.Name, item.Unit, item.MinimumStock, item.MaximumStock, item.CostPrice,
		item.SellingPrice, item.AutoReorder, item.ReorderQuantity, nullInt(item.PrimaryVendorID),
		item.HasExpiry, item.ExpiryAlertDays, item.IsActive, item.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) SetCurrentStock(ctx context.Context, id int64, stock decimal.Decimal, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_items SET current_stock = $2, updated_at = $3 WHERE id = $1`, id, stock, at)
	return err
}

func (r *txRepo) InsertTransaction(ctx context.Context, entry Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (
	item_id, transaction_type, quantity, unit_price, total_amount, stock_before, stock_after,
	clamped, reference, vendor_id, batch_number, expiry_date, notes, transacted_at, created_by
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
RETURNING id`,
		entry.ItemID, string(entry.Type), entry.Quantity, entry.UnitPrice, entry.TotalAmount,
		entry.StockBefore, entry.StockAfter, entry.Clamped, entry.Reference, nullInt(entry.VendorID),
		entry.BatchNumber, entry.ExpiryDate, entry.Notes, entry.TransactedAt, nullInt(entry.CreatedBy),
	).Scan(&id)
	return id, err
}

// ScanItem reads an ItemColumns row.
func ScanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(
		&item.ID, &item.FacilityID, &item.Name, &item.SKU, &item.Unit, &item.CurrentStock,
		&item.MinimumStock, &item.MaximumStock, &item.CostPrice, &item.SellingPrice,
		&item.AutoReorder, &item.ReorderQuantity, &item.PrimaryVendorID, &item.HasExpiry,
		&item.ExpiryAlertDays, &item.IsActive, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// ScanTransaction reads a TransactionColumns row.
func ScanTransaction(row pgx.Row) (Transaction, error) {
	var (
		entry Transaction
		kind  string
	)
	err := row.Scan(
		&entry.ID, &entry.ItemID, &kind, &entry.Quantity, &entry.UnitPrice, &entry.TotalAmount,
		&entry.StockBefore, &entry.StockAfter, &entry.Clamped, &entry.Reference, &entry.VendorID,
		&entry.BatchNumber, &entry.ExpiryDate, &entry.Notes, &entry.TransactedAt, &entry.CreatedBy,
	)
	entry.Type = TransactionType(kind)
	return entry, err
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
