package equipment

import (
	"fmt"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

// checkTransition enforces the work order state machine:
// scheduled -> in_progress | completed | cancelled, in_progress -> completed |
// cancelled. Completed and cancelled are terminal. Staying in the same open
// state is allowed so fields can be edited.
func checkTransition(from, to WorkOrderStatus) error {
	if !to.Valid() {
		return shared.Validationf("equipment: unknown work order status %q", to)
	}
	if from.Terminal() {
		return fmt.Errorf("%w: work order is already %s", ErrInvalidTransition, from)
	}
	if from == WorkOrderInProgress && to == WorkOrderScheduled {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// applyWorkOrder returns e as driven by the saved work order wo. A disposed
// asset keeps its status.
func applyWorkOrder(e Equipment, wo WorkOrder) (Equipment, error) {
	disposed := e.Status == StatusDisposed
	switch wo.Status {
	case WorkOrderScheduled, WorkOrderInProgress:
		if !disposed {
			e.Status = StatusMaintenance
		}
	case WorkOrderCompleted:
		if wo.ActualDate == nil {
			return Equipment{}, ErrActualDateRequired
		}
		actual := shared.DateOf(*wo.ActualDate)
		if !disposed {
			e.Status = StatusWorking
		}
		e.LastMaintenanceDate = &actual
		switch {
		case wo.NextMaintenanceDue != nil:
			next := shared.DateOf(*wo.NextMaintenanceDue)
			e.NextMaintenanceDate = &next
		case e.MaintenanceFrequencyDays > 0:
			next := AddDays(actual, e.MaintenanceFrequencyDays)
			e.NextMaintenanceDate = &next
		default:
			e.NextMaintenanceDate = nil
		}
	case WorkOrderCancelled:
		if e.Status == StatusMaintenance {
			e.Status = StatusWorking
		}
	}
	return e, nil
}

// recomputeTotal refreshes the derived total on every save.
func (wo *WorkOrder) recomputeTotal() {
	wo.TotalCost = wo.LaborCost.Add(wo.PartsCost)
}
