package equipment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/facilityops/internal/events"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEquipment(ctx context.Context, id int64) (Equipment, error)
	GetWorkOrder(ctx context.Context, id int64) (WorkOrder, error)
	ListWorkOrders(ctx context.Context, equipmentID int64, limit int) ([]WorkOrder, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the equipment lifecycle.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	publisher events.Publisher
	logger    *slog.Logger
	clock     func() time.Time
}

// NewService builds Service. audit and publisher may be nil.
func NewService(repo RepositoryPort, audit AuditPort, publisher events.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		audit:     audit,
		publisher: publisher,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Service) today() time.Time {
	return shared.DateOf(s.clock())
}

// RegisterEquipment records asset intake and derives its dates.
func (s *Service) RegisterEquipment(ctx context.Context, input RegisterInput) (Equipment, error) {
	now := s.clock()
	freq := input.MaintenanceFrequencyDays
	if freq == 0 {
		freq = DefaultMaintenanceFrequencyDays
	}
	e := Equipment{
		FacilityID:               input.FacilityID,
		Name:                     strings.TrimSpace(input.Name),
		Category:                 strings.TrimSpace(input.Category),
		SerialNumber:             strings.TrimSpace(input.SerialNumber),
		PurchaseDate:             shared.DateOf(input.PurchaseDate),
		PurchasePrice:            input.PurchasePrice,
		DepreciationRate:         input.DepreciationRate,
		WarrantyStartDate:        dateOrNil(input.WarrantyStartDate),
		WarrantyPeriodMonths:     input.WarrantyPeriodMonths,
		LastMaintenanceDate:      dateOrNil(input.LastMaintenanceDate),
		NextMaintenanceDate:      dateOrNil(input.NextMaintenanceDate),
		MaintenanceFrequencyDays: freq,
		Status:                   StatusWorking,
		IsActive:                 true,
		CreatedBy:                input.ActorID,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := validateEquipment(e); err != nil {
		return Equipment{}, err
	}
	e.Recompute(nil)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertEquipment(ctx, e)
		if err != nil {
			return err
		}
		e.ID = id
		return nil
	})
	if err != nil {
		return Equipment{}, err
	}
	s.record(ctx, input.ActorID, "equipment:register", "equipment", e.ID, map[string]any{"name": e.Name})
	s.publish(ctx, datesEvent(e, input.ActorID, now))
	return e, nil
}

// UpdateEquipment applies an edit and recomputes derived dates.
func (s *Service) UpdateEquipment(ctx context.Context, id int64, patch Patch, actorID int64) (Equipment, error) {
	var before, after Equipment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		before, err = tx.GetEquipmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		after = applyPatch(before, patch)
		after.UpdatedAt = s.clock()
		if err := validateEquipment(after); err != nil {
			return err
		}
		after.Recompute(&before)
		return tx.UpdateEquipment(ctx, after)
	})
	if err != nil {
		return Equipment{}, err
	}
	if before.Status != after.Status {
		s.record(ctx, actorID, "equipment:status", "equipment", id, map[string]any{
			"from": string(before.Status),
			"to":   string(after.Status),
		})
	}
	if datesChanged(before, after) {
		s.publish(ctx, datesEvent(after, actorID, after.UpdatedAt))
	}
	return after, nil
}

// GetEquipment loads an asset.
func (s *Service) GetEquipment(ctx context.Context, id int64) (Equipment, error) {
	if id <= 0 {
		return Equipment{}, shared.Validationf("equipment: id required")
	}
	return s.repo.GetEquipment(ctx, id)
}

// GetValuation reports depreciated value and date health as of today.
func (s *Service) GetValuation(ctx context.Context, id int64) (Valuation, error) {
	e, err := s.GetEquipment(ctx, id)
	if err != nil {
		return Valuation{}, err
	}
	return Valuate(e, s.today()), nil
}

// GetWorkOrder loads a work order.
func (s *Service) GetWorkOrder(ctx context.Context, id int64) (WorkOrder, error) {
	if id <= 0 {
		return WorkOrder{}, shared.Validationf("equipment: work order id required")
	}
	return s.repo.GetWorkOrder(ctx, id)
}

// ListWorkOrders returns an asset's work orders, newest first.
func (s *Service) ListWorkOrders(ctx context.Context, equipmentID int64, limit int) ([]WorkOrder, error) {
	if _, err := s.GetEquipment(ctx, equipmentID); err != nil {
		return nil, err
	}
	return s.repo.ListWorkOrders(ctx, equipmentID, shared.ClampLimit(limit))
}

// ScheduleWorkOrder opens a work order and moves the asset into maintenance.
func (s *Service) ScheduleWorkOrder(ctx context.Context, input ScheduleInput) (WorkOrder, Equipment, error) {
	if strings.TrimSpace(input.Title) == "" {
		return WorkOrder{}, Equipment{}, shared.Validationf("equipment: work order title required")
	}
	if input.ScheduledDate.IsZero() {
		return WorkOrder{}, Equipment{}, shared.Validationf("equipment: scheduled date required")
	}
	if err := validateCosts(input.LaborCost, input.PartsCost); err != nil {
		return WorkOrder{}, Equipment{}, err
	}
	now := s.clock()
	wo := WorkOrder{
		EquipmentID:   input.EquipmentID,
		Title:         strings.TrimSpace(input.Title),
		Description:   input.Description,
		ScheduledDate: shared.DateOf(input.ScheduledDate),
		Status:        WorkOrderScheduled,
		LaborCost:     input.LaborCost,
		PartsCost:     input.PartsCost,
		CreatedBy:     input.ActorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	wo.recomputeTotal()

	var before, after Equipment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		before, err = tx.GetEquipmentForUpdate(ctx, input.EquipmentID)
		if err != nil {
			return err
		}
		if before.Status == StatusDisposed || !before.IsActive {
			return ErrEquipmentDisposed
		}
		id, err := tx.InsertWorkOrder(ctx, wo)
		if err != nil {
			return err
		}
		wo.ID = id
		after, err = s.saveEquipment(ctx, tx, before, wo)
		return err
	})
	if err != nil {
		return WorkOrder{}, Equipment{}, err
	}
	s.record(ctx, input.ActorID, "maintenance:schedule", "work_order", wo.ID, map[string]any{"equipment_id": wo.EquipmentID})
	s.afterWorkOrder(ctx, before, after, wo, input.ActorID)
	return wo, after, nil
}

// TransitionWorkOrder moves a work order through its state machine and
// applies the resulting equipment changes in the same transaction.
func (s *Service) TransitionWorkOrder(ctx context.Context, id int64, update WorkOrderUpdate) (WorkOrder, Equipment, error) {
	var (
		wo            WorkOrder
		before, after Equipment
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		wo, err = tx.GetWorkOrderForUpdate(ctx, id)
		if err != nil {
			return err
		}
		target := update.Status
		if target == "" {
			target = wo.Status
		}
		if err := checkTransition(wo.Status, target); err != nil {
			return err
		}
		wo = applyUpdate(wo, update)
		wo.Status = target
		wo.UpdatedAt = s.clock()
		if err := validateCosts(wo.LaborCost, wo.PartsCost); err != nil {
			return err
		}
		if wo.Status == WorkOrderCompleted && wo.ActualDate == nil {
			return ErrActualDateRequired
		}
		wo.recomputeTotal()
		if err := tx.UpdateWorkOrder(ctx, wo); err != nil {
			return err
		}
		before, err = tx.GetEquipmentForUpdate(ctx, wo.EquipmentID)
		if err != nil {
			return err
		}
		after, err = s.saveEquipment(ctx, tx, before, wo)
		return err
	})
	if err != nil {
		return WorkOrder{}, Equipment{}, err
	}
	s.record(ctx, update.ActorID, "maintenance:"+string(wo.Status), "work_order", wo.ID, map[string]any{
		"equipment_id": wo.EquipmentID,
		"total_cost":   wo.TotalCost.String(),
	})
	s.afterWorkOrder(ctx, before, after, wo, update.ActorID)
	return wo, after, nil
}

// CompleteMaintenanceWorkOrder closes a work order with its actual date and costs.
func (s *Service) CompleteMaintenanceWorkOrder(ctx context.Context, id int64, input CompletionInput) (Equipment, error) {
	if input.ActualDate.IsZero() {
		return Equipment{}, ErrActualDateRequired
	}
	actual := shared.DateOf(input.ActualDate)
	labor, parts := input.LaborCost, input.PartsCost
	update := WorkOrderUpdate{
		Status:             WorkOrderCompleted,
		ActualDate:         &actual,
		LaborCost:          &labor,
		PartsCost:          &parts,
		NextMaintenanceDue: input.NextMaintenanceDue,
		ActorID:            input.ActorID,
	}
	if input.PerformedBy != "" {
		performer := input.PerformedBy
		update.PerformedBy = &performer
	}
	_, e, err := s.TransitionWorkOrder(ctx, id, update)
	return e, err
}

func (s *Service) saveEquipment(ctx context.Context, tx TxRepository, before Equipment, wo WorkOrder) (Equipment, error) {
	after, err := applyWorkOrder(before, wo)
	if err != nil {
		return Equipment{}, err
	}
	after.UpdatedAt = s.clock()
	if err := tx.UpdateEquipment(ctx, after); err != nil {
		return Equipment{}, err
	}
	return after, nil
}

// afterWorkOrder publishes post-commit events. Completion goes first so the
// submitter resolves open maintenance alerts before re-evaluation sees the
// new dates.
func (s *Service) afterWorkOrder(ctx context.Context, before, after Equipment, wo WorkOrder, actorID int64) {
	if wo.Status == WorkOrderCompleted {
		submitter := wo.CreatedBy
		if submitter == 0 {
			submitter = actorID
		}
		s.publish(ctx, events.Event{
			Name:        events.MaintenanceCompleted,
			FacilityID:  after.FacilityID,
			SubjectID:   after.ID,
			WorkOrderID: wo.ID,
			ActorID:     submitter,
			OccurredAt:  wo.UpdatedAt,
		})
	}
	if datesChanged(before, after) {
		s.publish(ctx, datesEvent(after, actorID, after.UpdatedAt))
	}
}

func applyPatch(e Equipment, patch Patch) Equipment {
	if patch.Name != nil {
		e.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Category != nil {
		e.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.SerialNumber != nil {
		e.SerialNumber = strings.TrimSpace(*patch.SerialNumber)
	}
	if patch.PurchaseDate != nil {
		e.PurchaseDate = shared.DateOf(*patch.PurchaseDate)
	}
	if patch.PurchasePrice != nil {
		e.PurchasePrice = *patch.PurchasePrice
	}
	if patch.DepreciationRate != nil {
		e.DepreciationRate = *patch.DepreciationRate
	}
	if patch.WarrantyStartDate != nil {
		e.WarrantyStartDate = dateOrNil(patch.WarrantyStartDate)
	}
	if patch.WarrantyPeriodMonths != nil {
		e.WarrantyPeriodMonths = *patch.WarrantyPeriodMonths
	}
	if patch.WarrantyEndDate != nil {
		e.WarrantyEndDate = dateOrNil(patch.WarrantyEndDate)
	}
	if patch.LastMaintenanceDate != nil {
		e.LastMaintenanceDate = dateOrNil(patch.LastMaintenanceDate)
	}
	if patch.NextMaintenanceDate != nil {
		e.NextMaintenanceDate = dateOrNil(patch.NextMaintenanceDate)
	}
	if patch.MaintenanceFrequencyDays != nil {
		e.MaintenanceFrequencyDays = *patch.MaintenanceFrequencyDays
	}
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.IsActive != nil {
		e.IsActive = *patch.IsActive
	}
	return e
}

func applyUpdate(wo WorkOrder, update WorkOrderUpdate) WorkOrder {
	if update.ScheduledDate != nil {
		wo.ScheduledDate = shared.DateOf(*update.ScheduledDate)
	}
	if update.ActualDate != nil {
		wo.ActualDate = dateOrNil(update.ActualDate)
	}
	if update.LaborCost != nil {
		wo.LaborCost = *update.LaborCost
	}
	if update.PartsCost != nil {
		wo.PartsCost = *update.PartsCost
	}
	if update.NextMaintenanceDue != nil {
		wo.NextMaintenanceDue = dateOrNil(update.NextMaintenanceDue)
	}
	if update.PerformedBy != nil {
		wo.PerformedBy = strings.TrimSpace(*update.PerformedBy)
	}
	return wo
}

func datesEvent(e Equipment, actorID int64, at time.Time) events.Event {
	return events.Event{
		Name:       events.EquipmentDatesChanged,
		FacilityID: e.FacilityID,
		SubjectID:  e.ID,
		ActorID:    actorID,
		OccurredAt: at,
	}
}

func dateOrNil(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	d := shared.DateOf(*t)
	return &d
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
		At:       s.clock(),
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("audit equipment change", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, evt)
}
