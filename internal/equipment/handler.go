package equipment

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/facilityops/internal/platform/httpx"
	"github.com/odyssey-erp/facilityops/internal/shared"
)

// Handler exposes equipment and maintenance endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the equipment handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers /equipment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleRegister)
	r.Get("/{id}", h.handleGet)
	r.Patch("/{id}", h.handleUpdate)
	r.Get("/{id}/valuation", h.handleValuation)
	r.Get("/{id}/work-orders", h.handleListWorkOrders)
	r.Post("/{id}/work-orders", h.handleSchedule)
}

// MountMaintenanceRoutes registers /maintenance routes.
func (h *Handler) MountMaintenanceRoutes(r chi.Router) {
	r.Get("/work-orders/{id}", h.handleGetWorkOrder)
	r.Patch("/work-orders/{id}", h.handleTransition)
	r.Post("/work-orders/{id}/complete", h.handleComplete)
}

type registerRequest struct {
	FacilityID               int64           `json:"facility_id" validate:"required,gt=0"`
	Name                     string          `json:"name" validate:"required,max=200"`
	Category                 string          `json:"category" validate:"max=50"`
	SerialNumber             string          `json:"serial_number" validate:"max=100"`
	PurchaseDate             string          `json:"purchase_date" validate:"required,datetime=2006-01-02"`
	PurchasePrice            decimal.Decimal `json:"purchase_price"`
	DepreciationRate         decimal.Decimal `json:"depreciation_rate"`
	WarrantyStartDate        string          `json:"warranty_start_date" validate:"omitempty,datetime=2006-01-02"`
	WarrantyPeriodMonths     int             `json:"warranty_period_months" validate:"gte=0"`
	LastMaintenanceDate      string          `json:"last_maintenance_date" validate:"omitempty,datetime=2006-01-02"`
	NextMaintenanceDate      string          `json:"next_maintenance_date" validate:"omitempty,datetime=2006-01-02"`
	MaintenanceFrequencyDays int             `json:"maintenance_frequency_days" validate:"gte=0"`
}

type updateRequest struct {
	Name                     *string          `json:"name" validate:"omitempty,max=200"`
	Category                 *string          `json:"category" validate:"omitempty,max=50"`
	SerialNumber             *string          `json:"serial_number" validate:"omitempty,max=100"`
	PurchaseDate             *string          `json:"purchase_date" validate:"omitempty,datetime=2006-01-02"`
	PurchasePrice            *decimal.Decimal `json:"purchase_price"`
	DepreciationRate         *decimal.Decimal `json:"depreciation_rate"`
	WarrantyStartDate        *string          `json:"warranty_start_date" validate:"omitempty,datetime=2006-01-02"`
	WarrantyPeriodMonths     *int             `json:"warranty_period_months" validate:"omitempty,gte=0"`
	WarrantyEndDate          *string          `json:"warranty_end_date" validate:"omitempty,datetime=2006-01-02"`
	LastMaintenanceDate      *string          `json:"last_maintenance_date" validate:"omitempty,datetime=2006-01-02"`
	NextMaintenanceDate      *string          `json:"next_maintenance_date" validate:"omitempty,datetime=2006-01-02"`
	MaintenanceFrequencyDays *int             `json:"maintenance_frequency_days" validate:"omitempty,gte=0"`
	Status                   *string          `json:"status" validate:"omitempty,oneof=working maintenance repair out_of_order disposed"`
	IsActive                 *bool            `json:"is_active"`
}

type scheduleRequest struct {
	Title         string          `json:"title" validate:"required,max=200"`
	Description   string          `json:"description"`
	ScheduledDate string          `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	LaborCost     decimal.Decimal `json:"labor_cost"`
	PartsCost     decimal.Decimal `json:"parts_cost"`
}

type transitionRequest struct {
	Status             string           `json:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
	ScheduledDate      *string          `json:"scheduled_date" validate:"omitempty,datetime=2006-01-02"`
	ActualDate         *string          `json:"actual_date" validate:"omitempty,datetime=2006-01-02"`
	LaborCost          *decimal.Decimal `json:"labor_cost"`
	PartsCost          *decimal.Decimal `json:"parts_cost"`
	NextMaintenanceDue *string          `json:"next_maintenance_due" validate:"omitempty,datetime=2006-01-02"`
	PerformedBy        *string          `json:"performed_by" validate:"omitempty,max=100"`
}

type completeRequest struct {
	ActualDate         string          `json:"actual_date" validate:"required,datetime=2006-01-02"`
	LaborCost          decimal.Decimal `json:"labor_cost"`
	PartsCost          decimal.Decimal `json:"parts_cost"`
	NextMaintenanceDue string          `json:"next_maintenance_due" validate:"omitempty,datetime=2006-01-02"`
	PerformedBy        string          `json:"performed_by" validate:"max=100"`
}

type equipmentResponse struct {
	ID                       int64           `json:"id"`
	FacilityID               int64           `json:"facility_id"`
	Name                     string          `json:"name"`
	Category                 string          `json:"category,omitempty"`
	SerialNumber             string          `json:"serial_number,omitempty"`
	PurchaseDate             string          `json:"purchase_date"`
	PurchasePrice            decimal.Decimal `json:"purchase_price"`
	DepreciationRate         decimal.Decimal `json:"depreciation_rate"`
	WarrantyStartDate        *string         `json:"warranty_start_date"`
	WarrantyPeriodMonths     int             `json:"warranty_period_months"`
	WarrantyEndDate          *string         `json:"warranty_end_date"`
	LastMaintenanceDate      *string         `json:"last_maintenance_date"`
	NextMaintenanceDate      *string         `json:"next_maintenance_date"`
	MaintenanceFrequencyDays int             `json:"maintenance_frequency_days"`
	Status                   Status          `json:"status"`
	IsActive                 bool            `json:"is_active"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

type workOrderResponse struct {
	ID                 int64           `json:"id"`
	EquipmentID        int64           `json:"equipment_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	ScheduledDate      string          `json:"scheduled_date"`
	ActualDate         *string         `json:"actual_date"`
	Status             WorkOrderStatus `json:"status"`
	LaborCost          decimal.Decimal `json:"labor_cost"`
	PartsCost          decimal.Decimal `json:"parts_cost"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	NextMaintenanceDue *string         `json:"next_maintenance_due"`
	PerformedBy        string          `json:"performed_by,omitempty"`
}

type valuationResponse struct {
	EquipmentID           int64           `json:"equipment_id"`
	AsOf                  string          `json:"as_of"`
	PurchasePrice         decimal.Decimal `json:"purchase_price"`
	CurrentValue          decimal.Decimal `json:"current_value"`
	WarrantyValid         bool            `json:"warranty_valid"`
	WarrantyDaysRemaining *int            `json:"warranty_days_remaining"`
	MaintenanceDaysUntil  *int            `json:"maintenance_days_until"`
	MaintenanceOverdue    int             `json:"maintenance_overdue_days"`
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(shared.DateLayout)
	return &s
}

func toEquipmentResponse(e Equipment) equipmentResponse {
	return equipmentResponse{
		ID:                       e.ID,
		FacilityID:               e.FacilityID,
		Name:                     e.Name,
		Category:                 e.Category,
		SerialNumber:             e.SerialNumber,
		PurchaseDate:             e.PurchaseDate.Format(shared.DateLayout),
		PurchasePrice:            e.PurchasePrice,
		DepreciationRate:         e.DepreciationRate,
		WarrantyStartDate:        formatDate(e.WarrantyStartDate),
		WarrantyPeriodMonths:     e.WarrantyPeriodMonths,
		WarrantyEndDate:          formatDate(e.WarrantyEndDate),
		LastMaintenanceDate:      formatDate(e.LastMaintenanceDate),
		NextMaintenanceDate:      formatDate(e.NextMaintenanceDate),
		MaintenanceFrequencyDays: e.MaintenanceFrequencyDays,
		Status:                   e.Status,
		IsActive:                 e.IsActive,
		UpdatedAt:                e.UpdatedAt,
	}
}

func toWorkOrderResponse(wo WorkOrder) workOrderResponse {
	return workOrderResponse{
		ID:                 wo.ID,
		EquipmentID:        wo.EquipmentID,
		Title:              wo.Title,
		Description:        wo.Description,
		ScheduledDate:      wo.ScheduledDate.Format(shared.DateLayout),
		ActualDate:         formatDate(wo.ActualDate),
		Status:             wo.Status,
		LaborCost:          wo.LaborCost,
		PartsCost:          wo.PartsCost,
		TotalCost:          wo.TotalCost,
		NextMaintenanceDue: formatDate(wo.NextMaintenanceDue),
		PerformedBy:        wo.PerformedBy,
	}
}

// dateField parses an optional YYYY-MM-DD string. Validation has already
// checked the layout, so a failure here is still reported as ValidationError.
func dateField(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := shared.ParseDate(*raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		if fields := httpx.FieldErrors(err); fields != nil {
			httpx.ValidationProblem(w, fields)
			return false
		}
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("equipment request failed", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	purchase, err := shared.ParseDate(req.PurchaseDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := RegisterInput{
		FacilityID:               req.FacilityID,
		Name:                     req.Name,
		Category:                 req.Category,
		SerialNumber:             req.SerialNumber,
		PurchaseDate:             purchase,
		PurchasePrice:            req.PurchasePrice,
		DepreciationRate:         req.DepreciationRate,
		WarrantyPeriodMonths:     req.WarrantyPeriodMonths,
		MaintenanceFrequencyDays: req.MaintenanceFrequencyDays,
		ActorID:                  shared.ActorFromContext(r.Context()),
	}
	for _, f := range []struct {
		raw string
		dst **time.Time
	}{
		{req.WarrantyStartDate, &input.WarrantyStartDate},
		{req.LastMaintenanceDate, &input.LastMaintenanceDate},
		{req.NextMaintenanceDate, &input.NextMaintenanceDate},
	} {
		raw := f.raw
		if *f.dst, err = dateField(&raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	e, err := h.service.RegisterEquipment(r.Context(), input)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toEquipmentResponse(e))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.GetEquipment(r.Context(), id)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEquipmentResponse(e))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := Patch{
		Name:                     req.Name,
		Category:                 req.Category,
		SerialNumber:             req.SerialNumber,
		PurchasePrice:            req.PurchasePrice,
		DepreciationRate:         req.DepreciationRate,
		WarrantyPeriodMonths:     req.WarrantyPeriodMonths,
		MaintenanceFrequencyDays: req.MaintenanceFrequencyDays,
		IsActive:                 req.IsActive,
	}
	if req.Status != nil {
		status := Status(*req.Status)
		patch.Status = &status
	}
	for _, f := range []struct {
		raw *string
		dst **time.Time
	}{
		{req.PurchaseDate, &patch.PurchaseDate},
		{req.WarrantyStartDate, &patch.WarrantyStartDate},
		{req.WarrantyEndDate, &patch.WarrantyEndDate},
		{req.LastMaintenanceDate, &patch.LastMaintenanceDate},
		{req.NextMaintenanceDate, &patch.NextMaintenanceDate},
	} {
		if *f.dst, err = dateField(f.raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	e, err := h.service.UpdateEquipment(r.Context(), id, patch, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEquipmentResponse(e))
}

func (h *Handler) handleValuation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v, err := h.service.GetValuation(r.Context(), id)
	if err != nil {
		h.fail(w, "valuation", err)
		return
	}
	httpx.JSON(w, http.StatusOK, valuationResponse{
		EquipmentID:           v.EquipmentID,
		AsOf:                  v.AsOf.Format(shared.DateLayout),
		PurchasePrice:         v.PurchasePrice,
		CurrentValue:          v.CurrentValue,
		WarrantyValid:         v.WarrantyValid,
		WarrantyDaysRemaining: v.WarrantyDaysRemaining,
		MaintenanceDaysUntil:  v.MaintenanceDaysUntil,
		MaintenanceOverdue:    v.MaintenanceOverdue,
	})
}

func (h *Handler) handleListWorkOrders(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	orders, err := h.service.ListWorkOrders(r.Context(), id, limit)
	if err != nil {
		h.fail(w, "list_work_orders", err)
		return
	}
	out := make([]workOrderResponse, 0, len(orders))
	for _, wo := range orders {
		out = append(out, toWorkOrderResponse(wo))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req scheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	scheduled, err := shared.ParseDate(req.ScheduledDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	wo, e, err := h.service.ScheduleWorkOrder(r.Context(), ScheduleInput{
		EquipmentID:   id,
		Title:         req.Title,
		Description:   req.Description,
		ScheduledDate: scheduled,
		LaborCost:     req.LaborCost,
		PartsCost:     req.PartsCost,
		ActorID:       shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "schedule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"work_order": toWorkOrderResponse(wo),
		"equipment":  toEquipmentResponse(e),
	})
}

func (h *Handler) handleGetWorkOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	wo, err := h.service.GetWorkOrder(r.Context(), id)
	if err != nil {
		h.fail(w, "get_work_order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toWorkOrderResponse(wo))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	update := WorkOrderUpdate{
		Status:      WorkOrderStatus(req.Status),
		LaborCost:   req.LaborCost,
		PartsCost:   req.PartsCost,
		PerformedBy: req.PerformedBy,
		ActorID:     shared.ActorFromContext(r.Context()),
	}
	for _, f := range []struct {
		raw *string
		dst **time.Time
	}{
		{req.ScheduledDate, &update.ScheduledDate},
		{req.ActualDate, &update.ActualDate},
		{req.NextMaintenanceDue, &update.NextMaintenanceDue},
	} {
		if *f.dst, err = dateField(f.raw); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	wo, e, err := h.service.TransitionWorkOrder(r.Context(), id, update)
	if err != nil {
		h.fail(w, "transition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"work_order": toWorkOrderResponse(wo),
		"equipment":  toEquipmentResponse(e),
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req completeRequest
	if !h.decode(w, r, &req) {
		return
	}
	actual, err := shared.ParseDate(req.ActualDate)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	next, err := dateField(&req.NextMaintenanceDue)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.CompleteMaintenanceWorkOrder(r.Context(), id, CompletionInput{
		ActualDate:         actual,
		LaborCost:          req.LaborCost,
		PartsCost:          req.PartsCost,
		NextMaintenanceDue: next,
		PerformedBy:        req.PerformedBy,
		ActorID:            shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.fail(w, "complete", err)
		return
	}
	h.logger.Info("maintenance completed", slog.Int64("work_order_id", id), slog.Int64("equipment_id", e.ID))
	httpx.JSON(w, http.StatusOK, toEquipmentResponse(e))
}
