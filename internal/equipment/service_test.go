package equipment

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/facilityops/internal/events"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

type memoryRepo struct {
	equipment  map[int64]Equipment
	workOrders map[int64]WorkOrder
	nextID     int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{equipment: map[int64]Equipment{}, workOrders: map[int64]WorkOrder{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	equipment := make(map[int64]Equipment, len(r.equipment))
	for k, v := range r.equipment {
		equipment[k] = v
	}
	orders := make(map[int64]WorkOrder, len(r.workOrders))
	for k, v := range r.workOrders {
		orders[k] = v
	}
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.equipment = equipment
		r.workOrders = orders
		return err
	}
	return nil
}

func (r *memoryRepo) GetEquipment(ctx context.Context, id int64) (Equipment, error) {
	e, ok := r.equipment[id]
	if !ok {
		return Equipment{}, ErrEquipmentNotFound
	}
	return e, nil
}

func (r *memoryRepo) GetWorkOrder(ctx context.Context, id int64) (WorkOrder, error) {
	wo, ok := r.workOrders[id]
	if !ok {
		return WorkOrder{}, ErrWorkOrderNotFound
	}
	return wo, nil
}

func (r *memoryRepo) ListWorkOrders(ctx context.Context, equipmentID int64, limit int) ([]WorkOrder, error) {
	var out []WorkOrder
	for _, wo := range r.workOrders {
		if wo.EquipmentID == equipmentID {
			out = append(out, wo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memoryTx) GetEquipmentForUpdate(ctx context.Context, id int64) (Equipment, error) {
	return tx.repo.GetEquipment(ctx, id)
}

func (tx *memoryTx) InsertEquipment(ctx context.Context, e Equipment) (int64, error) {
	tx.repo.nextID++
	e.ID = tx.repo.nextID
	tx.repo.equipment[e.ID] = e
	return e.ID, nil
}

func (tx *memoryTx) UpdateEquipment(ctx context.Context, e Equipment) error {
	if _, ok := tx.repo.equipment[e.ID]; !ok {
		return ErrEquipmentNotFound
	}
	tx.repo.equipment[e.ID] = e
	return nil
}

func (tx *memoryTx) GetWorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error) {
	return tx.repo.GetWorkOrder(ctx, id)
}

func (tx *memoryTx) InsertWorkOrder(ctx context.Context, wo WorkOrder) (int64, error) {
	tx.repo.nextID++
	wo.ID = tx.repo.nextID
	tx.repo.workOrders[wo.ID] = wo
	return wo.ID, nil
}

func (tx *memoryTx) UpdateWorkOrder(ctx context.Context, wo WorkOrder) error {
	if _, ok := tx.repo.workOrders[wo.ID]; !ok {
		return ErrWorkOrderNotFound
	}
	tx.repo.workOrders[wo.ID] = wo
	return nil
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, evts ...events.Event) {
	p.events = append(p.events, evts...)
}

func (p *recordingPublisher) reset() {
	p.events = nil
}

var now = time.Date(2024, 6, 10, 8, 30, 0, 0, time.UTC)

func newTestService() (*Service, *memoryRepo, *recordingPublisher) {
	repo := newMemoryRepo()
	pub := &recordingPublisher{}
	svc := NewService(repo, nil, pub, nil).WithClock(func() time.Time { return now })
	return svc, repo, pub
}

func register(t *testing.T, svc *Service) Equipment {
	t.Helper()
	e, err := svc.RegisterEquipment(context.Background(), RegisterInput{
		FacilityID:           1,
		Name:                 "Treadmill",
		PurchaseDate:         date(2024, 1, 31),
		PurchasePrice:        decimal.NewFromInt(5000),
		DepreciationRate:     decimal.NewFromInt(20),
		WarrantyStartDate:    datePtr(2024, 1, 31),
		WarrantyPeriodMonths: 1,
		ActorID:              4,
	})
	require.NoError(t, err)
	return e
}

func TestRegisterEquipmentDerivesDates(t *testing.T) {
	svc, _, pub := newTestService()
	e := register(t, svc)

	require.Equal(t, StatusWorking, e.Status)
	require.Equal(t, DefaultMaintenanceFrequencyDays, e.MaintenanceFrequencyDays)
	require.Equal(t, date(2024, 2, 29), *e.WarrantyEndDate)
	require.Equal(t, date(2024, 4, 30), *e.NextMaintenanceDate)
	require.Len(t, pub.events, 1)
	require.Equal(t, events.EquipmentDatesChanged, pub.events[0].Name)

	_, err := svc.RegisterEquipment(context.Background(), RegisterInput{FacilityID: 1, Name: "Bike"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestUpdateEquipmentPublishesOnDateChange(t *testing.T) {
	svc, _, pub := newTestService()
	e := register(t, svc)
	pub.reset()
	ctx := context.Background()

	name := "Treadmill X"
	_, err := svc.UpdateEquipment(ctx, e.ID, Patch{Name: &name}, 4)
	require.NoError(t, err)
	require.Empty(t, pub.events)

	months := 24
	updated, err := svc.UpdateEquipment(ctx, e.ID, Patch{WarrantyPeriodMonths: &months}, 4)
	require.NoError(t, err)
	require.Equal(t, date(2026, 1, 31), *updated.WarrantyEndDate)
	require.Len(t, pub.events, 1)
}

func TestMoneyScaleIsEnforced(t *testing.T) {
	svc, repo, _ := newTestService()
	_, err := svc.RegisterEquipment(context.Background(), RegisterInput{
		FacilityID:    1,
		Name:          "Bike",
		PurchaseDate:  date(2024, 1, 1),
		PurchasePrice: decimal.RequireFromString("999.999"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.equipment)

	e := register(t, svc)
	_, _, err = svc.ScheduleWorkOrder(context.Background(), ScheduleInput{
		EquipmentID:   e.ID,
		Title:         "Belt",
		ScheduledDate: date(2024, 6, 12),
		LaborCost:     decimal.RequireFromString("10.125"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.workOrders)
}

func TestUpdateEquipmentClearsWarrantyWithPeriod(t *testing.T) {
	svc, _, pub := newTestService()
	e := register(t, svc)
	require.NotNil(t, e.WarrantyEndDate)
	pub.reset()

	none := 0
	updated, err := svc.UpdateEquipment(context.Background(), e.ID, Patch{WarrantyPeriodMonths: &none}, 4)
	require.NoError(t, err)
	require.Nil(t, updated.WarrantyEndDate)
	require.Len(t, pub.events, 1)
	require.Equal(t, events.EquipmentDatesChanged, pub.events[0].Name)
}

func TestScheduleWorkOrderMovesEquipmentIntoMaintenance(t *testing.T) {
	svc, repo, _ := newTestService()
	e := register(t, svc)

	wo, updated, err := svc.ScheduleWorkOrder(context.Background(), ScheduleInput{
		EquipmentID:   e.ID,
		Title:         "Belt check",
		ScheduledDate: date(2024, 6, 12),
		LaborCost:     decimal.RequireFromString("40.50"),
		PartsCost:     decimal.RequireFromString("9.50"),
		ActorID:       11,
	})
	require.NoError(t, err)
	require.Equal(t, WorkOrderScheduled, wo.Status)
	require.True(t, wo.TotalCost.Equal(decimal.NewFromInt(50)))
	require.Equal(t, StatusMaintenance, updated.Status)
	require.Equal(t, StatusMaintenance, repo.equipment[e.ID].Status)
}

func TestScheduleWorkOrderRejectsDisposed(t *testing.T) {
	svc, repo, _ := newTestService()
	e := register(t, svc)
	disposed := StatusDisposed
	_, err := svc.UpdateEquipment(context.Background(), e.ID, Patch{Status: &disposed}, 4)
	require.NoError(t, err)

	_, _, err = svc.ScheduleWorkOrder(context.Background(), ScheduleInput{EquipmentID: e.ID, Title: "x", ScheduledDate: date(2024, 6, 12)})
	require.ErrorIs(t, err, ErrEquipmentDisposed)
	require.Empty(t, repo.workOrders)
}

func TestCompleteMaintenanceWorkOrder(t *testing.T) {
	svc, repo, pub := newTestService()
	e := register(t, svc)
	wo, _, err := svc.ScheduleWorkOrder(context.Background(), ScheduleInput{EquipmentID: e.ID, Title: "Service", ScheduledDate: date(2024, 6, 12), ActorID: 11})
	require.NoError(t, err)
	pub.reset()

	updated, err := svc.CompleteMaintenanceWorkOrder(context.Background(), wo.ID, CompletionInput{
		ActualDate: date(2024, 6, 11),
		LaborCost:  decimal.NewFromInt(100),
		PartsCost:  decimal.NewFromInt(25),
		ActorID:    12,
	})
	require.NoError(t, err)
	require.Equal(t, StatusWorking, updated.Status)
	require.Equal(t, date(2024, 6, 11), *updated.LastMaintenanceDate)
	require.Equal(t, date(2024, 9, 9), *updated.NextMaintenanceDate)

	stored := repo.workOrders[wo.ID]
	require.Equal(t, WorkOrderCompleted, stored.Status)
	require.True(t, stored.TotalCost.Equal(decimal.NewFromInt(125)))

	require.Len(t, pub.events, 2)
	require.Equal(t, events.MaintenanceCompleted, pub.events[0].Name)
	require.Equal(t, events.EquipmentDatesChanged, pub.events[1].Name)
	require.Equal(t, int64(11), pub.events[0].ActorID, "resolver is the work order submitter")
	require.Equal(t, wo.ID, pub.events[0].WorkOrderID)

	_, err = svc.CompleteMaintenanceWorkOrder(context.Background(), wo.ID, CompletionInput{ActualDate: date(2024, 6, 11)})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteWithOverrideAndMissingDate(t *testing.T) {
	svc, repo, _ := newTestService()
	e := register(t, svc)
	wo, _, err := svc.ScheduleWorkOrder(context.Background(), ScheduleInput{EquipmentID: e.ID, Title: "Service", ScheduledDate: date(2024, 6, 12)})
	require.NoError(t, err)

	_, err = svc.CompleteMaintenanceWorkOrder(context.Background(), wo.ID, CompletionInput{})
	require.ErrorIs(t, err, ErrActualDateRequired)

	_, _, err = svc.TransitionWorkOrder(context.Background(), wo.ID, WorkOrderUpdate{Status: WorkOrderCompleted})
	require.ErrorIs(t, err, ErrActualDateRequired)
	require.Equal(t, WorkOrderScheduled, repo.workOrders[wo.ID].Status)

	updated, err := svc.CompleteMaintenanceWorkOrder(context.Background(), wo.ID, CompletionInput{
		ActualDate:         date(2024, 6, 11),
		NextMaintenanceDue: datePtr(2024, 7, 1),
	})
	require.NoError(t, err)
	require.Equal(t, date(2024, 7, 1), *updated.NextMaintenanceDate)
}

func TestCancelWorkOrderRevertsMaintenance(t *testing.T) {
	svc, _, pub := newTestService()
	e := register(t, svc)
	wo, _, err := svc.ScheduleWorkOrder(context.Background(), ScheduleInput{EquipmentID: e.ID, Title: "Service", ScheduledDate: date(2024, 6, 12)})
	require.NoError(t, err)

	_, started, err := svc.TransitionWorkOrder(context.Background(), wo.ID, WorkOrderUpdate{Status: WorkOrderInProgress})
	require.NoError(t, err)
	require.Equal(t, StatusMaintenance, started.Status)

	pub.reset()
	cancelled, after, err := svc.TransitionWorkOrder(context.Background(), wo.ID, WorkOrderUpdate{Status: WorkOrderCancelled})
	require.NoError(t, err)
	require.Equal(t, WorkOrderCancelled, cancelled.Status)
	require.Equal(t, StatusWorking, after.Status)
	require.Empty(t, pub.events)
}

func TestGetValuation(t *testing.T) {
	svc, _, _ := newTestService()
	e := register(t, svc)

	v, err := svc.GetValuation(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, date(2024, 6, 10), v.AsOf)
	require.False(t, v.WarrantyValid)
	require.Equal(t, -102, *v.WarrantyDaysRemaining)
	require.Equal(t, 41, v.MaintenanceOverdue)
	require.True(t, v.CurrentValue.LessThan(decimal.NewFromInt(5000)))

	_, err = svc.GetValuation(context.Background(), 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
