package alerts

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/equipment"
	"github.com/odyssey-erp/facilityops/internal/inventory"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// ItemState is everything the inventory rules read for one item.
type ItemState struct {
	Item       inventory.Item
	VendorName string
	Batches    []Batch
}

// Batch is received stock carrying an expiry date that has not been written off.
type Batch struct {
	Number     string
	ExpiryDate time.Time
	Quantity   decimal.Decimal
}

var half = decimal.RequireFromString("0.5")

// ItemRules derives the low stock, reorder and expiry alerts for an item.
func ItemRules(state ItemState, today time.Time) []Derived {
	item := state.Item
	if !item.IsActive {
		return nil
	}
	var out []Derived
	if low, ok := lowStockAlert(item); ok {
		out = append(out, low)
		if item.AutoReorder {
			vendor := state.VendorName
			if vendor == "" {
				vendor = "Not specified"
			}
			out = append(out, Derived{
				Type:     TypeReorderNeeded,
				Priority: PriorityMedium,
				Title:    fmt.Sprintf("Reorder Required: %s", item.Name),
				Message: fmt.Sprintf("%s needs restocking. Suggested reorder quantity: %s %s. Contact vendor: %s.",
					item.Name, item.ReorderQuantity, item.Unit, vendor),
			})
		}
	}
	if expiry, ok := expiryAlert(item, state.Batches, today); ok {
		out = append(out, expiry)
	}
	return out
}

func lowStockAlert(item inventory.Item) (Derived, bool) {
	current, minimum := item.CurrentStock, item.MinimumStock
	switch {
	case current.IsZero():
		return Derived{
			Type:     TypeLowStock,
			Priority: PriorityCritical,
			Title:    fmt.Sprintf("OUT OF STOCK: %s", item.Name),
			Message:  fmt.Sprintf("%s is completely out of stock! Immediate restocking required.", item.Name),
		}, true
	case current.GreaterThan(minimum):
		return Derived{}, false
	case current.LessThanOrEqual(minimum.Mul(half)):
		return Derived{
			Type:     TypeLowStock,
			Priority: PriorityCritical,
			Title:    fmt.Sprintf("CRITICALLY LOW: %s", item.Name),
			Message: fmt.Sprintf("%s is critically low. Current: %s %s, Minimum: %s %s.",
				item.Name, current, item.Unit, minimum, item.Unit),
		}, true
	default:
		return Derived{
			Type:     TypeLowStock,
			Priority: PriorityHigh,
			Title:    fmt.Sprintf("Low Stock: %s", item.Name),
			Message: fmt.Sprintf("%s is below minimum stock level. Current: %s %s, Minimum: %s %s.",
				item.Name, current, item.Unit, minimum, item.Unit),
		}, true
	}
}

func expiryAlert(item inventory.Item, batches []Batch, today time.Time) (Derived, bool) {
	if !item.HasExpiry || !item.CurrentStock.IsPositive() || len(batches) == 0 {
		return Derived{}, false
	}
	sorted := append([]Batch(nil), batches...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ExpiryDate.Before(sorted[j].ExpiryDate) })

	expired := 0
	for _, b := range sorted {
		if shared.DaysBetween(today, b.ExpiryDate) < 0 {
			expired++
		}
	}
	earliest := sorted[0]
	if expired > 0 {
		return Derived{
			Type:     TypeExpired,
			Priority: PriorityCritical,
			Title:    fmt.Sprintf("EXPIRED STOCK: %s", item.Name),
			Message: fmt.Sprintf("%d batch(es) of %s have expired, the oldest on %s. Remove them from stock and record the write-off.",
				expired, item.Name, earliest.ExpiryDate.Format(shared.DateLayout)),
		}, true
	}

	window := item.ExpiryAlertDays
	if window <= 0 {
		window = inventory.DefaultExpiryAlertDays
	}
	days := shared.DaysBetween(today, earliest.ExpiryDate)
	if days > window {
		return Derived{}, false
	}
	priority := PriorityMedium
	if days <= 7 {
		priority = PriorityHigh
	}
	return Derived{
		Type:     TypeExpirySoon,
		Priority: priority,
		Title:    fmt.Sprintf("Expiring Soon: %s", item.Name),
		Message: fmt.Sprintf("%s %s expires in %d day(s) on %s.",
			item.Name, batchLabel(earliest), days, earliest.ExpiryDate.Format(shared.DateLayout)),
	}, true
}

func batchLabel(b Batch) string {
	if b.Number == "" {
		return "stock"
	}
	return "batch " + b.Number
}

// OpenBatches folds an item's ledger into batches still on hand: inbound
// entries carrying an expiry date, minus those written off by an expired
// entry for the same batch number (or the same expiry date when unnumbered).
func OpenBatches(entries []inventory.Transaction) []Batch {
	type key struct {
		number string
		expiry string
	}
	writtenOff := make(map[key]bool)
	for _, e := range entries {
		if e.Type != inventory.TransactionExpired {
			continue
		}
		k := key{number: e.BatchNumber}
		if e.BatchNumber == "" && e.ExpiryDate != nil {
			k.expiry = e.ExpiryDate.Format(shared.DateLayout)
		}
		writtenOff[k] = true
	}

	open := make(map[key]*Batch)
	var order []key
	for _, e := range entries {
		if !e.Type.Inbound() || e.ExpiryDate == nil {
			continue
		}
		k := key{number: e.BatchNumber}
		if e.BatchNumber == "" {
			k.expiry = e.ExpiryDate.Format(shared.DateLayout)
		}
		if writtenOff[k] {
			continue
		}
		if b, ok := open[k]; ok {
			b.Quantity = b.Quantity.Add(e.Quantity)
			if e.ExpiryDate.Before(b.ExpiryDate) {
				b.ExpiryDate = shared.DateOf(*e.ExpiryDate)
			}
			continue
		}
		open[k] = &Batch{Number: e.BatchNumber, ExpiryDate: shared.DateOf(*e.ExpiryDate), Quantity: e.Quantity}
		order = append(order, k)
	}
	out := make([]Batch, 0, len(order))
	for _, k := range order {
		out = append(out, *open[k])
	}
	return out
}

// EquipmentRules derives maintenance and warranty alerts for an asset.
func EquipmentRules(e equipment.Equipment, today time.Time) []Derived {
	if !e.IsActive || e.Status == equipment.StatusDisposed {
		return nil
	}
	var out []Derived
	if d, ok := maintenanceAlert(e, today); ok {
		out = append(out, d)
	}
	if d, ok := warrantyAlert(e, today); ok {
		out = append(out, d)
	}
	return out
}

func maintenanceAlert(e equipment.Equipment, today time.Time) (Derived, bool) {
	days, ok := equipment.MaintenanceDaysUntil(e, today)
	if !ok || days > 7 {
		return Derived{}, false
	}
	switch {
	case days < 0:
		return Derived{
			Type:     TypeMaintenanceDue,
			Priority: PriorityCritical,
			Title:    fmt.Sprintf("MAINTENANCE OVERDUE: %s", e.Name),
			Message:  fmt.Sprintf("%s maintenance is %d days overdue! Immediate attention required.", e.Name, -days),
		}, true
	case days == 0:
		return Derived{
			Type:     TypeMaintenanceDue,
			Priority: PriorityCritical,
			Title:    fmt.Sprintf("MAINTENANCE DUE TODAY: %s", e.Name),
			Message:  fmt.Sprintf("%s maintenance is due today. Please schedule immediately.", e.Name),
		}, true
	}
	priority := PriorityMedium
	if days <= 3 {
		priority = PriorityHigh
	}
	return Derived{
		Type:     TypeMaintenanceDue,
		Priority: priority,
		Title:    fmt.Sprintf("Maintenance Due Soon: %s", e.Name),
		Message: fmt.Sprintf("%s maintenance is due in %d day(s) on %s.",
			e.Name, days, e.NextMaintenanceDate.Format(shared.DateLayout)),
	}, true
}

func warrantyAlert(e equipment.Equipment, today time.Time) (Derived, bool) {
	days, ok := equipment.WarrantyDaysRemaining(e, today)
	if !ok || days < 0 || days > 30 {
		return Derived{}, false
	}
	var (
		priority Priority
		title    string
	)
	switch {
	case days <= 7:
		priority, title = PriorityCritical, "WARRANTY EXPIRING SOON: %s"
	case days <= 15:
		priority, title = PriorityHigh, "Warranty Expiring: %s"
	default:
		priority, title = PriorityMedium, "Warranty Alert: %s"
	}
	return Derived{
		Type:     TypeWarrantyExpiring,
		Priority: priority,
		Title:    fmt.Sprintf(title, e.Name),
		Message: fmt.Sprintf("Warranty for %s expires in %d day(s) on %s. Consider renewal or replacement.",
			e.Name, days, e.WarrantyEndDate.Format(shared.DateLayout)),
	}, true
}
