package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/facilityops/internal/equipment"
	"github.com/odyssey-erp/facilityops/internal/inventory"
	"github.com/odyssey-erp/facilityops/internal/platform/db"
)

// Repository persists alerts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
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

const alertColumns = `id, facility_id, subject_kind, COALESCE(inventory_item_id, equipment_id), alert_type,
	priority, title, message, is_read, is_resolved, COALESCE(resolved_by, 0), resolved_at, created_at, updated_at`

const priorityOrder = `CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END`

func subjectColumn(kind SubjectKind) string {
	if kind == KindEquipment {
		return "equipment_id"
	}
	return "inventory_item_id"
}

// GetAlert loads one alert.
func (r *Repository) GetAlert(ctx context.Context, id int64) (Alert, error) {
	return scanAlert(r.pool.QueryRow(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
}

// ListAlerts returns alerts matching the filter, most urgent and newest first.
func (r *Repository) ListAlerts(ctx context.Context, filter Filter) ([]Alert, error) {
	var conditions []string
	var args []interface{}
	argPos := 1
	if filter.FacilityID != 0 {
		conditions = append(conditions, fmt.Sprintf("facility_id = $%d", argPos))
		args = append(args, filter.FacilityID)
		argPos++
	}
	if filter.Subject != nil {
		conditions = append(conditions, fmt.Sprintf("subject_kind = $%d AND %s = $%d",
			argPos, subjectColumn(filter.Subject.Kind), argPos+1))
		args = append(args, string(filter.Subject.Kind), filter.Subject.ID)
		argPos += 2
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("alert_type = $%d", argPos))
		args = append(args, string(filter.Type))
		argPos++
	}
	if filter.Priority != "" {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", argPos))
		args = append(args, string(filter.Priority))
		argPos++
	}
	if !filter.IncludeResolved {
		conditions = append(conditions, "is_resolved = FALSE")
	}
	if filter.UnreadOnly {
		conditions = append(conditions, "is_read = FALSE")
	}
	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`SELECT %s FROM alerts %s
ORDER BY %s, created_at DESC, id DESC
LIMIT $%d`, alertColumns, whereClause, priorityOrder, argPos)
	args = append(args, filter.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// CountUnresolved aggregates the unresolved alerts of a facility, or of all
// facilities when facilityID is zero.
func (r *Repository) CountUnresolved(ctx context.Context, facilityID int64) (Summary, error) {
	rows, err := r.pool.Query(ctx, `SELECT priority, alert_type, COUNT(*), COUNT(*) FILTER (WHERE NOT is_read)
FROM alerts
WHERE is_resolved = FALSE AND ($1::bigint = 0 OR facility_id = $1)
GROUP BY priority, alert_type`, facilityID)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()
	summary := Summary{
		FacilityID: facilityID,
		ByPriority: make(map[Priority]int, len(Priorities)),
		ByType:     make(map[Type]int),
	}
	for _, p := range Priorities {
		summary.ByPriority[p] = 0
	}
	for rows.Next() {
		var (
			priority, kind string
			total, unread  int
		)
		if err := rows.Scan(&priority, &kind, &total, &unread); err != nil {
			return Summary{}, err
		}
		summary.Total += total
		summary.Unread += unread
		summary.ByPriority[Priority(priority)] += total
		summary.ByType[Type(kind)] += total
	}
	return summary, rows.Err()
}

// ListActiveSubjects returns every active item and every active, non-disposed
// asset of a facility, or of all facilities when facilityID is zero.
func (r *Repository) ListActiveSubjects(ctx context.Context, facilityID int64) ([]Subject, error) {
	rows, err := r.pool.Query(ctx, `SELECT 'inventory_item', id FROM inventory_items
WHERE is_active AND ($1::bigint = 0 OR facility_id = $1)
UNION ALL
SELECT 'equipment', id FROM equipment
WHERE is_active AND status <> 'disposed' AND ($1::bigint = 0 OR facility_id = $1)
ORDER BY 1, 2`, facilityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Subject
	for rows.Next() {
		var (
			kind string
			id   int64
		)
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		out = append(out, Subject{Kind: SubjectKind(kind), ID: id})
	}
	return out, rows.Err()
}

// ResolveAlert marks one alert resolved. The flag reports whether the row changed.
func (r *Repository) ResolveAlert(ctx context.Context, id, resolvedBy int64, at time.Time) (Alert, bool, error) {
	alert, err := scanAlert(r.pool.QueryRow(ctx, `UPDATE alerts
SET is_resolved = TRUE, resolved_by = $2, resolved_at = $3, updated_at = $3
WHERE id = $1 AND is_resolved = FALSE
RETURNING `+alertColumns, id, nullInt(resolvedBy), at))
	if err == nil {
		return alert, true, nil
	}
	if !errors.Is(err, ErrAlertNotFound) {
		return Alert{}, false, err
	}
	alert, err = r.GetAlert(ctx, id)
	return alert, false, err
}

// MarkRead flags one alert as read.
func (r *Repository) MarkRead(ctx context.Context, id int64, at time.Time) (Alert, error) {
	return scanAlert(r.pool.QueryRow(ctx, `UPDATE alerts
SET is_read = TRUE, updated_at = CASE WHEN is_read THEN updated_at ELSE $2 END
WHERE id = $1
RETURNING `+alertColumns, id, at))
}

// MarkAllRead flags the facility's unresolved unread alerts as read.
func (r *Repository) MarkAllRead(ctx context.Context, facilityID int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE alerts SET is_read = TRUE, updated_at = $2
WHERE is_resolved = FALSE AND is_read = FALSE AND ($1::bigint = 0 OR facility_id = $1)`, facilityID, at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResolveAll resolves the facility's unresolved alerts.
func (r *Repository) ResolveAll(ctx context.Context, facilityID, resolvedBy int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE alerts SET is_resolved = TRUE, resolved_by = $2, resolved_at = $3, updated_at = $3
WHERE is_resolved = FALSE AND ($1::bigint = 0 OR facility_id = $1)`, facilityID, nullInt(resolvedBy), at)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResolveSubjectType resolves the unresolved alerts of one type for a subject.
func (r *Repository) ResolveSubjectType(ctx context.Context, subject Subject, t Type, resolvedBy int64, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE alerts SET is_resolved = TRUE, resolved_by = $3, resolved_at = $4, updated_at = $4
WHERE subject_kind = $1 AND `+subjectColumn(subject.Kind)+` = $2 AND alert_type = $5 AND is_resolved = FALSE`,
		string(subject.Kind), subject.ID, nullInt(resolvedBy), at, string(t))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteResolvedBefore removes alerts resolved before cutoff.
func (r *Repository) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM alerts WHERE is_resolved = TRUE AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LoadItemState locks the item row so concurrent evaluations of one subject
// serialise even when it has no unresolved alerts to lock yet.
func (r *txRepo) LoadItemState(ctx context.Context, itemID int64) (ItemState, error) {
	item, err := inventory.ScanItem(r.tx.QueryRow(ctx,
		`SELECT `+inventory.ItemColumns+` FROM inventory_items WHERE id = $1 FOR NO KEY UPDATE`, itemID))
	if err != nil {
		return ItemState{}, err
	}
	state := ItemState{Item: item}
	if item.PrimaryVendorID > 0 {
		err := r.tx.QueryRow(ctx, `SELECT name FROM vendors WHERE id = $1`, item.PrimaryVendorID).Scan(&state.VendorName)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return ItemState{}, err
		}
	}
	if !item.HasExpiry {
		return state, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT `+inventory.TransactionColumns+`
FROM stock_transactions
WHERE item_id = $1 AND (expiry_date IS NOT NULL OR transaction_type = 'expired')
ORDER BY transacted_at, id`, itemID)
	if err != nil {
		return ItemState{}, err
	}
	defer rows.Close()
	var entries []inventory.Transaction
	for rows.Next() {
		entry, err := inventory.ScanTransaction(rows)
		if err != nil {
			return ItemState{}, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return ItemState{}, err
	}
	state.Batches = OpenBatches(entries)
	return state, nil
}

func (r *txRepo) LoadEquipment(ctx context.Context, equipmentID int64) (equipment.Equipment, error) {
	return equipment.ScanEquipment(r.tx.QueryRow(ctx,
		`SELECT `+equipment.EquipmentColumns+` FROM equipment WHERE id = $1 FOR NO KEY UPDATE`, equipmentID))
}

func (r *txRepo) LockUnresolved(ctx context.Context, subject Subject, types []Type) ([]Alert, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rows, err := r.tx.Query(ctx, `SELECT `+alertColumns+`
FROM alerts
WHERE subject_kind = $1 AND `+subjectColumn(subject.Kind)+` = $2
  AND alert_type = ANY($3) AND is_resolved = FALSE
ORDER BY created_at, id
FOR UPDATE`, string(subject.Kind), subject.ID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlerts(rows)
}

func (r *txRepo) InsertAlert(ctx context.Context, alert Alert) (int64, error) {
	var itemID, equipmentID *int64
	if alert.Subject.Kind == KindEquipment {
		equipmentID = &alert.Subject.ID
	} else {
		itemID = &alert.Subject.ID
	}
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO alerts (
	facility_id, subject_kind, inventory_item_id, equipment_id, alert_type, priority, title, message,
	is_read, is_resolved, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,FALSE,$10,$11)
RETURNING id`,
		alert.FacilityID, string(alert.Subject.Kind), itemID, equipmentID, string(alert.Type),
		string(alert.Priority), alert.Title, alert.Message, alert.IsRead, alert.CreatedAt, alert.UpdatedAt,
	).Scan(&id)
	return id, err
}

func (r *txRepo) UpdateAlert(ctx context.Context, alert Alert) error {
	tag, err := r.tx.Exec(ctx, `UPDATE alerts
SET priority = $2, title = $3, message = $4, is_read = $5, updated_at = $6
WHERE id = $1`,
		alert.ID, string(alert.Priority), alert.Title, alert.Message, alert.IsRead, alert.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func (r *txRepo) DeleteAlerts(ctx context.Context, ids []int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM alerts WHERE id = ANY($1)`, ids)
	return err
}

func (r *txRepo) ResolveAlerts(ctx context.Context, ids []int64, resolvedBy int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE alerts SET is_resolved = TRUE, resolved_by = $2, resolved_at = $3, updated_at = $3
WHERE id = ANY($1) AND is_resolved = FALSE`, ids, nullInt(resolvedBy), at)
	return err
}

func collectAlerts(rows pgx.Rows) ([]Alert, error) {
	var out []Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert                     Alert
		kind, alertType, priority string
	)
	err := row.Scan(
		&alert.ID, &alert.FacilityID, &kind, &alert.Subject.ID, &alertType, &priority, &alert.Title,
		&alert.Message, &alert.IsRead, &alert.IsResolved, &alert.ResolvedBy, &alert.ResolvedAt,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Alert{}, ErrAlertNotFound
		}
		return Alert{}, err
	}
	alert.Subject.Kind = SubjectKind(kind)
	alert.Type = Type(alertType)
	alert.Priority = Priority(priority)
	return alert, nil
}

func nullInt(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
