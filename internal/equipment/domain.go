package equipment

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/shared"
)

// Status captures the operational state of an asset.
type Status string

const (
	StatusWorking     Status = "working"
	StatusMaintenance Status = "maintenance"
	StatusRepair      Status = "repair"
	StatusOutOfOrder  Status = "out_of_order"
	StatusDisposed    Status = "disposed"
)

// Valid reports whether s is a known equipment status.
func (s Status) Valid() bool {
	switch s {
	case StatusWorking, StatusMaintenance, StatusRepair, StatusOutOfOrder, StatusDisposed:
		return true
	}
	return false
}

// WorkOrderStatus enumerates maintenance work order states.
type WorkOrderStatus string

const (
	WorkOrderScheduled  WorkOrderStatus = "scheduled"
	WorkOrderInProgress WorkOrderStatus = "in_progress"
	WorkOrderCompleted  WorkOrderStatus = "completed"
	WorkOrderCancelled  WorkOrderStatus = "cancelled"
)

// Valid reports whether s is a known work order state.
func (s WorkOrderStatus) Valid() bool {
	switch s {
	case WorkOrderScheduled, WorkOrderInProgress, WorkOrderCompleted, WorkOrderCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s WorkOrderStatus) Terminal() bool {
	return s == WorkOrderCompleted || s == WorkOrderCancelled
}

// Equipment is a durable asset. Dates are calendar days stored at UTC midnight.
type Equipment struct {
	ID                       int64
	FacilityID               int64
	Name                     string
	Category                 string
	SerialNumber             string
	PurchaseDate             time.Time
	PurchasePrice            decimal.Decimal
	DepreciationRate         decimal.Decimal
	WarrantyStartDate        *time.Time
	WarrantyPeriodMonths     int
	WarrantyEndDate          *time.Time
	LastMaintenanceDate      *time.Time
	NextMaintenanceDate      *time.Time
	MaintenanceFrequencyDays int
	Status                   Status
	IsActive                 bool
	CreatedBy                int64
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// WorkOrder is a scheduled or performed maintenance event.
type WorkOrder struct {
	ID                 int64
	EquipmentID        int64
	Title              string
	Description        string
	ScheduledDate      time.Time
	ActualDate         *time.Time
	Status             WorkOrderStatus
	LaborCost          decimal.Decimal
	PartsCost          decimal.Decimal
	TotalCost          decimal.Decimal
	NextMaintenanceDue *time.Time
	PerformedBy        string
	CreatedBy          int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RegisterInput captures asset intake.
type RegisterInput struct {
	FacilityID               int64
	Name                     string
	Category                 string
	SerialNumber             string
	PurchaseDate             time.Time
	PurchasePrice            decimal.Decimal
	DepreciationRate         decimal.Decimal
	WarrantyStartDate        *time.Time
	WarrantyPeriodMonths     int
	LastMaintenanceDate      *time.Time
	NextMaintenanceDate      *time.Time
	MaintenanceFrequencyDays int
	ActorID                  int64
}

// Patch edits an asset; nil fields are left untouched.
type Patch struct {
	Name                     *string
	Category                 *string
	SerialNumber             *string
	PurchaseDate             *time.Time
	PurchasePrice            *decimal.Decimal
	DepreciationRate         *decimal.Decimal
	WarrantyStartDate        *time.Time
	WarrantyPeriodMonths     *int
	WarrantyEndDate          *time.Time
	LastMaintenanceDate      *time.Time
	NextMaintenanceDate      *time.Time
	MaintenanceFrequencyDays *int
	Status                   *Status
	IsActive                 *bool
}

// ScheduleInput opens a work order.
type ScheduleInput struct {
	EquipmentID   int64
	Title         string
	Description   string
	ScheduledDate time.Time
	LaborCost     decimal.Decimal
	PartsCost     decimal.Decimal
	ActorID       int64
}

// WorkOrderUpdate moves a work order and optionally edits its fields.
type WorkOrderUpdate struct {
	Status             WorkOrderStatus
	ScheduledDate      *time.Time
	ActualDate         *time.Time
	LaborCost          *decimal.Decimal
	PartsCost          *decimal.Decimal
	NextMaintenanceDue *time.Time
	PerformedBy        *string
	ActorID            int64
}

// CompletionInput closes a work order.
type CompletionInput struct {
	ActualDate         time.Time
	LaborCost          decimal.Decimal
	PartsCost          decimal.Decimal
	NextMaintenanceDue *time.Time
	PerformedBy        string
	ActorID            int64
}

// Valuation summarises the money and date health of an asset on a given day.
type Valuation struct {
	EquipmentID           int64
	AsOf                  time.Time
	PurchasePrice         decimal.Decimal
	CurrentValue          decimal.Decimal
	WarrantyValid         bool
	WarrantyDaysRemaining *int
	MaintenanceDaysUntil  *int
	MaintenanceOverdue    int
}

var (
	// ErrEquipmentNotFound indicates a missing asset.
	ErrEquipmentNotFound = fmt.Errorf("equipment: %w", shared.ErrNotFound)
	// ErrWorkOrderNotFound indicates a missing work order.
	ErrWorkOrderNotFound = fmt.Errorf("equipment: work order: %w", shared.ErrNotFound)
	// ErrInvalidTransition indicates a work order move that the state machine forbids.
	ErrInvalidTransition = fmt.Errorf("equipment: invalid work order transition: %w", shared.ErrValidation)
	// ErrActualDateRequired indicates completion without an actual date.
	ErrActualDateRequired = fmt.Errorf("equipment: actual date required to complete: %w", shared.ErrValidation)
	// ErrEquipmentDisposed indicates maintenance scheduled against a retired asset.
	ErrEquipmentDisposed = fmt.Errorf("equipment: asset is disposed: %w", shared.ErrValidation)
)

// DefaultMaintenanceFrequencyDays applies when intake omits a frequency.
const DefaultMaintenanceFrequencyDays = 90

// Stored scales of money and rate columns.
const (
	moneyScale int32 = 2
	rateScale  int32 = 4
)

func validateEquipment(e Equipment) error {
	if strings.TrimSpace(e.Name) == "" {
		return shared.Validationf("equipment: name required")
	}
	if e.FacilityID <= 0 {
		return shared.Validationf("equipment: facility required")
	}
	if e.PurchaseDate.IsZero() {
		return shared.Validationf("equipment: purchase date required")
	}
	if e.PurchasePrice.IsNegative() || !shared.FitsScale(e.PurchasePrice, moneyScale) {
		return shared.Validationf("equipment: purchase price must be >= 0 with at most %d decimal places", moneyScale)
	}
	if e.DepreciationRate.IsNegative() || e.DepreciationRate.GreaterThan(decimal.NewFromInt(100)) ||
		!shared.FitsScale(e.DepreciationRate, rateScale) {
		return shared.Validationf("equipment: depreciation rate must be between 0 and 100 with at most %d decimal places", rateScale)
	}
	if e.WarrantyPeriodMonths < 0 {
		return shared.Validationf("equipment: warranty period must be >= 0")
	}
	if e.MaintenanceFrequencyDays < 0 {
		return shared.Validationf("equipment: maintenance frequency must be >= 0")
	}
	if !e.Status.Valid() {
		return shared.Validationf("equipment: unknown status %q", e.Status)
	}
	return nil
}

func validateCosts(labor, parts decimal.Decimal) error {
	if labor.IsNegative() || parts.IsNegative() {
		return shared.Validationf("equipment: costs must be >= 0")
	}
	if !shared.FitsScale(labor, moneyScale) || !shared.FitsScale(parts, moneyScale) {
		return shared.Validationf("equipment: costs allow at most %d decimal places", moneyScale)
	}
	return nil
}
