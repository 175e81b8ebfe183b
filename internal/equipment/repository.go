package equipment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/facilityops/internal/platform/db"
)

// Repository persists equipment and work orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetEquipmentForUpdate(ctx context.Context, id int64) (Equipment, error)
	InsertEquipment(ctx context.Context, e Equipment) (int64, error)
	UpdateEquipment(ctx context.Context, e Equipment) error
	GetWorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error)
	InsertWorkOrder(ctx context.Context, wo WorkOrder) (int64, error)
	UpdateWorkOrder(ctx context.Context, wo WorkOrder) error
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

// EquipmentColumns is the select list ScanEquipment expects.
const EquipmentColumns = `id, facility_id, name, category, serial_number, purchase_date, purchase_price,
	depreciation_rate, warranty_start_date, warranty_period_months, warranty_end_date,
	last_maintenance_date, next_maintenance_date, maintenance_frequency_days, status, is_active,
	COALESCE(created_by, 0), created_at, updated_at`

const workOrderColumns = `id, equipment_id, title, description, scheduled_date, actual_date, status,
	labor_cost, parts_cost, total_cost, next_maintenance_due, performed_by, COALESCE(created_by, 0),
	created_at, updated_at`

// GetEquipment loads one asset without locking.
func (r *Repository) GetEquipment(ctx context.Context, id int64) (Equipment, error) {
	return ScanEquipment(r.pool.QueryRow(ctx, `SELECT `+EquipmentColumns+` FROM equipment WHERE id = $1`, id))
}

// GetWorkOrder loads one work order without locking.
func (r *Repository) GetWorkOrder(ctx context.Context, id int64) (WorkOrder, error) {
	return scanWorkOrder(r.pool.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM maintenance_work_orders WHERE id = $1`, id))
}

// ListWorkOrders returns work orders for an asset, newest first.
func (r *Repository) ListWorkOrders(ctx context.Context, equipmentID int64, limit int) ([]WorkOrder, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+workOrderColumns+`
FROM maintenance_work_orders
WHERE equipment_id = $1
ORDER BY scheduled_date DESC, id DESC
LIMIT $2`, equipmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

func (r *txRepo) GetEquipmentForUpdate(ctx context.Context, id int64) (Equipment, error) {
	return ScanEquipment(r.tx.QueryRow(ctx, `SELECT `+EquipmentColumns+` FROM equipment WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) InsertEquipment(ctx context.Context, e Equipment) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO equipment (
	facility_id, name, category, serial_number, purchase_date, purchase_price, depreciation_rate,
	warranty_start_date, warranty_period_months, warranty_end_date, last_maintenance_date,
	next_maintenance_date, maintenance_frequency_days, status, is_active, created_by, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING id`,
		e.FacilityID, e.Name, e.Category, e.SerialNumber, e.PurchaseDate, e.PurchasePrice,
		e.DepreciationRate, e.WarrantyStartDate, e.WarrantyPeriodMonths, e.WarrantyEndDate,
		e.LastMaintenanceDate, e.NextMaintenanceDate, e.MaintenanceFrequencyDays, string(e.Status),
		e.IsActive, nullInt(e.CreatedBy), e.CreatedAt, e.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateEquipment(ctx context.Context, e Equipment) error {
	tag, err := r.tx.Exec(ctx, `UPDATE equipment SET
	name = $2, category = $3, serial_number = $4, purchase_date = $5, purchase_price = $6,
	depreciation_rate = $7, warranty_start_date = $8, warranty_period_months = $9,
	warranty_end_date = $10, last_maintenance_date = $11, next_maintenance_date = $12,
	maintenance_frequency_days = $13, status = $14, is_active = $15, updated_at = $16
WHERE id = $1`,
		e.ID, e.Name, e.Category, e.SerialNumber, e.PurchaseDate, e.PurchasePrice,
		e.DepreciationRate, e.WarrantyStartDate, e.WarrantyPeriodMonths, e.WarrantyEndDate,
		e.LastMaintenanceDate, e.NextMaintenanceDate, e.MaintenanceFrequencyDays, string(e.Status),
		e.IsActive, e.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEquipmentNotFound
	}
	return nil
}

func (r *txRepo) GetWorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error) {
	return scanWorkOrder(r.tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM maintenance_work_orders WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) InsertWorkOrder(ctx context.Context, wo WorkOrder) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO maintenance_work_orders (
	equipment_id, title, description, scheduled_date, actual_date, status, labor_cost, parts_cost,
	total_cost, next_maintenance_due, performed_by, created_by, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id`,
		wo.EquipmentID, wo.Title, wo.Description, wo.ScheduledDate, wo.ActualDate, string(wo.Status),
		wo.LaborCost, wo.PartsCost, wo.TotalCost, wo.NextMaintenanceDue, wo.PerformedBy,
		nullInt(wo.CreatedBy), wo.CreatedAt, wo.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateWorkOrder(ctx context.Context, wo WorkOrder) error {
	tag, err := r.tx.Exec(ctx, `UPDATE maintenance_work_orders SET
	scheduled_date = $2, actual_date = $3, status = $4, labor_cost = $5, parts_cost = $6,
	total_cost = $7, next_maintenance_due = $8, performed_by = $9, updated_at = $10
WHERE id = $1`,
		wo.ID, wo.ScheduledDate, wo.ActualDate, string(wo.Status), wo.LaborCost, wo.PartsCost,
		wo.TotalCost, wo.NextMaintenanceDue, wo.PerformedBy, wo.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWorkOrderNotFound
	}
	return nil
}

// ScanEquipment reads an EquipmentColumns row.
func ScanEquipment(row pgx.Row) (Equipment, error) {
	var (
		e      Equipment
		status string
	)
	err := row.Scan(
		&e.ID, &e.FacilityID, &e.Name, &e.Category, &e.SerialNumber, &e.PurchaseDate, &e.PurchasePrice,
		&e.DepreciationRate, &e.WarrantyStartDate, &e.WarrantyPeriodMonths, &e.WarrantyEndDate,
		&e.LastMaintenanceDate, &e.NextMaintenanceDate, &e.MaintenanceFrequencyDays, &status,
		&e.IsActive, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Equipment{}, ErrEquipmentNotFound
		}
		return Equipment{}, err
	}
	e.Status = Status(status)
	return e, nil
}

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var (
		wo     WorkOrder
		status string
	)
	err := row.Scan(
		&wo.ID, &wo.EquipmentID, &wo.Title, &wo.Description, &wo.ScheduledDate, &wo.ActualDate, &status,
		&wo.LaborCost, &wo.PartsCost, &wo.TotalCost, &wo.NextMaintenanceDue, &wo.PerformedBy,
		&wo.CreatedBy, &wo.CreatedAt, &wo.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrWorkOrderNotFound
		}
		return WorkOrder{}, err
	}
	wo.Status = WorkOrderStatus(status)
	return wo, nil
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
