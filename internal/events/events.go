// Package events dispatches post-commit domain events to in-process subscribers.
package events

import (
	"context"
	"time"
)

// Name identifies a domain event.
type Name string

const (
	// ItemStockChanged fires after a ledger movement changed an item's running balance.
	ItemStockChanged Name = "inventory.item_stock_changed"
	// ItemSettingsChanged fires after an item edit touched alert-relevant fields.
	ItemSettingsChanged Name = "inventory.item_settings_changed"
	// EquipmentDatesChanged fires after derived maintenance/warranty dates or status changed.
	EquipmentDatesChanged Name = "equipment.dates_changed"
	// MaintenanceCompleted fires after a work order reached the completed state.
	MaintenanceCompleted Name = "equipment.maintenance_completed"
)

// Event carries the identity of the mutated entity. Handlers re-read state, so
// the payload stays small and delivery can safely repeat.
type Event struct {
	Name        Name
	FacilityID  int64
	SubjectID   int64
	WorkOrderID int64
	ActorID     int64
	OccurredAt  time.Time
}

// Publisher accepts events once the originating transaction committed.
type Publisher interface {
	Publish(ctx context.Context, evts ...Event)
}
