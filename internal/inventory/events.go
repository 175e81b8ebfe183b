package inventory

import (
	"time"

	"github.com/odyssey-erp/facilityops/internal/events"
)

func stockChanged(item Item, actorID int64, at time.Time) events.Event {
	return events.Event{
		Name:       events.ItemStockChanged,
		FacilityID: item.FacilityID,
		SubjectID:  item.ID,
		ActorID:    actorID,
		OccurredAt: at,
	}
}

func settingsChanged(item Item, actorID int64, at time.Time) events.Event {
	return events.Event{
		Name:       events.ItemSettingsChanged,
		FacilityID: item.FacilityID,
		SubjectID:  item.ID,
		ActorID:    actorID,
		OccurredAt: at,
	}
}

// alertRelevantChange reports whether an edit touched fields the alert rules read.
func alertRelevantChange(before, after Item) bool {
	return !before.CurrentStock.Equal(after.CurrentStock) ||
		!before.MinimumStock.Equal(after.MinimumStock) ||
		before.AutoReorder != after.AutoReorder ||
		!before.ReorderQuantity.Equal(after.ReorderQuantity) ||
		before.PrimaryVendorID != after.PrimaryVendorID ||
		before.HasExpiry != after.HasExpiry ||
		before.ExpiryAlertDays != after.ExpiryAlertDays ||
		before.IsActive != after.IsActive
}
